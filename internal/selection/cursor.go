package selection

import "github.com/jwulff/steno-live/internal/model"

// Compare orders positions by token, then offset.
func Compare(a, b Position) int {
	switch {
	case a.Index < b.Index:
		return -1
	case a.Index > b.Index:
		return 1
	case a.Offset < b.Offset:
		return -1
	case a.Offset > b.Offset:
		return 1
	}
	return 0
}

// Right moves one character forward. Past the end of a token it lands on
// the first character of the next one.
func Right(t []Token, p Position) Position {
	if !inRange(t, p) {
		return p
	}
	if p.Offset < runeLen(t[p.Index]) {
		return Position{Index: p.Index, Offset: p.Offset + 1}
	}
	if p.Index+1 < len(t) {
		return Position{Index: p.Index + 1}
	}
	return p
}

// Left moves one character back.
func Left(t []Token, p Position) Position {
	if !inRange(t, p) {
		return p
	}
	if p.Offset > 0 {
		return Position{Index: p.Index, Offset: p.Offset - 1}
	}
	if p.Index > 0 {
		return Position{Index: p.Index - 1, Offset: runeLen(t[p.Index-1])}
	}
	return p
}

// NextToken moves to the start of the next token.
func NextToken(t []Token, p Position) Position {
	if p.Index+1 < len(t) {
		return Position{Index: p.Index + 1}
	}
	return p
}

// PrevToken moves to the start of the current token, or of the previous one
// when already there.
func PrevToken(t []Token, p Position) Position {
	if p.Offset > 0 {
		return Position{Index: p.Index}
	}
	if p.Index > 0 {
		return Position{Index: p.Index - 1}
	}
	return p
}

// EndOfToken moves past the last character of the current token.
func EndOfToken(t []Token, p Position) Position {
	if !inRange(t, p) {
		return p
	}
	return Position{Index: p.Index, Offset: runeLen(t[p.Index])}
}

// GroupRange spans every word of the group the token at index belongs to.
func GroupRange(t []Token, index int) (model.TimeSlice, bool) {
	if index < 0 || index >= len(t) {
		return model.TimeSlice{}, false
	}
	g := t[index].Group
	first, ok := firstWordOf(t, g)
	if !ok {
		return model.TimeSlice{}, false
	}
	last, _ := lastWordOf(t, g)
	return model.TimeSlice{Start: first.Start, End: last.End}, true
}

func runeLen(tok Token) int {
	return len([]rune(tok.Text))
}
