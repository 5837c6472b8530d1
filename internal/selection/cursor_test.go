package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jwulff/steno-live/internal/model"
)

// [S, "ab"(0-1), S, "c"(2-3)]
func cursorTokens() []Token {
	return BuildTokens([]model.SpeakerWordGroup{
		{Speaker: 0, Words: []model.Word{{Text: "ab", StartSeconds: 0, EndSeconds: 1}}},
		{Speaker: 1, Words: []model.Word{{Text: "c", StartSeconds: 2, EndSeconds: 3}}},
	}, func(int) string { return "S" })
}

func TestRightWalksCharactersAndTokens(t *testing.T) {
	tokens := cursorTokens()
	p := Position{Index: 1}
	var path []Position
	for i := 0; i < 6; i++ {
		p = Right(tokens, p)
		path = append(path, p)
	}
	assert.Equal(t, []Position{
		{Index: 1, Offset: 1},
		{Index: 1, Offset: 2},
		{Index: 2, Offset: 0},
		{Index: 2, Offset: 1},
		{Index: 3, Offset: 0},
		{Index: 3, Offset: 1},
	}, path)
	assert.Equal(t, Position{Index: 3, Offset: 1}, Right(tokens, Position{Index: 3, Offset: 1}), "stays at end")
}

func TestLeftIsInverseOfRight(t *testing.T) {
	tokens := cursorTokens()
	p := Position{Index: 2, Offset: 0}
	assert.Equal(t, Position{Index: 1, Offset: 2}, Left(tokens, p))
	assert.Equal(t, Position{Index: 0}, Left(tokens, Position{Index: 0}))
}

func TestTokenJumps(t *testing.T) {
	tokens := cursorTokens()
	assert.Equal(t, Position{Index: 2}, NextToken(tokens, Position{Index: 1, Offset: 1}))
	assert.Equal(t, Position{Index: 1}, PrevToken(tokens, Position{Index: 1, Offset: 1}))
	assert.Equal(t, Position{Index: 0}, PrevToken(tokens, Position{Index: 1}))
	assert.Equal(t, Position{Index: 1, Offset: 2}, EndOfToken(tokens, Position{Index: 1}))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(Position{Index: 1, Offset: 3}, Position{Index: 2}))
	assert.Equal(t, 1, Compare(Position{Index: 1, Offset: 3}, Position{Index: 1, Offset: 2}))
	assert.Equal(t, 0, Compare(Position{Index: 1}, Position{Index: 1}))
}

func TestGroupRange(t *testing.T) {
	tokens := BuildTokens([]model.SpeakerWordGroup{
		{Speaker: 0, Words: []model.Word{{Text: "Hello", StartSeconds: 0, EndSeconds: 0.5}, {Text: "world", StartSeconds: 0.6, EndSeconds: 1.0}}},
		{Speaker: 1, Words: []model.Word{{Text: "Hi", StartSeconds: 1.5, EndSeconds: 1.8}, {Text: "there", StartSeconds: 2.0, EndSeconds: 2.4}}},
	}, nil)
	slice, ok := GroupRange(tokens, 0)
	assert.True(t, ok)
	assert.Equal(t, model.TimeSlice{Start: 0, End: 1.0}, slice)

	slice, ok = GroupRange(tokens, 4)
	assert.True(t, ok)
	assert.Equal(t, model.TimeSlice{Start: 1.5, End: 2.4}, slice)

	_, ok = GroupRange(tokens, 99)
	assert.False(t, ok)
}
