package participant

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	slerrors "github.com/jwulff/steno-live/internal/errors"
	"github.com/jwulff/steno-live/internal/model"
)

// memBackend stores participants in memory and serves a fixed word view
// that changes after every assignment.
type memBackend struct {
	participants []model.Participant
	assignments  []model.SpeakerAssignment
	reloads      int
	assignErr    error
	nextID       int
}

func (b *memBackend) Participants(ctx context.Context, sessionID string) ([]model.Participant, error) {
	return append([]model.Participant(nil), b.participants...), nil
}

func (b *memBackend) CreateParticipant(ctx context.Context, sessionID, name string, speaker *int) (model.Participant, error) {
	b.nextID++
	p := model.Participant{ID: string(rune('a' + b.nextID - 1)), Name: name, Speaker: 100 + b.nextID}
	if speaker != nil {
		p.Speaker = *speaker
	}
	b.participants = append(b.participants, p)
	return p, nil
}

func (b *memBackend) DeleteParticipant(ctx context.Context, sessionID, id string) error {
	for i, p := range b.participants {
		if p.ID == id {
			b.participants = append(b.participants[:i], b.participants[i+1:]...)
			return nil
		}
	}
	return errors.New("404 not found")
}

func (b *memBackend) AssignSpeaker(ctx context.Context, sessionID string, req model.SpeakerAssignment) error {
	if b.assignErr != nil {
		return b.assignErr
	}
	b.assignments = append(b.assignments, req)
	return nil
}

func (b *memBackend) TopicWords(ctx context.Context, sessionID, topicID string) (model.TopicWords, error) {
	b.reloads++
	speaker := 0
	if len(b.assignments) > 0 {
		speaker = 7
	}
	return model.TopicWords{TopicID: topicID, Groups: []model.SpeakerWordGroup{{Speaker: speaker}}}, nil
}

func TestCreateListDelete(t *testing.T) {
	b := &memBackend{}
	s := New(b, nil, nil)
	ctx := context.Background()

	ps, err := s.Create(ctx, "sess", "  Ada ")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "Ada", ps[0].Name)

	ps, err = s.CreateForSpeaker(ctx, "sess", "Grace", 2)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, 2, ps[1].Speaker)

	ps, err = s.Delete(ctx, "sess", ps[0].ID)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "Grace", ps[0].Name)

	_, err = s.Delete(ctx, "sess", "missing")
	assert.Error(t, err)

	_, err = s.Create(ctx, "sess", "   ")
	assert.Error(t, err)
}

func TestAssignRejectsMissingSlice(t *testing.T) {
	b := &memBackend{}
	s := New(b, nil, nil)
	p := model.Participant{ID: "a", Name: "Ada", Speaker: 1}

	_, err := s.Assign(context.Background(), "sess", "t1", p, nil)
	assert.ErrorIs(t, err, slerrors.ErrInvalidRange)

	for _, bad := range []model.TimeSlice{
		{Start: math.NaN(), End: 1},
		{Start: 3, End: 1},
		{Start: -1, End: 1},
	} {
		_, err := s.Assign(context.Background(), "sess", "t1", p, &bad)
		assert.ErrorIs(t, err, slerrors.ErrInvalidRange, "%+v", bad)
	}
	assert.Empty(t, b.assignments, "nothing sent for an invalid range")
	assert.Zero(t, b.reloads)
}

func TestAssignRefetchesWords(t *testing.T) {
	b := &memBackend{}
	s := New(b, nil, nil)

	words, err := s.Assign(context.Background(), "sess", "t1",
		model.Participant{ID: "p1", Speaker: 7}, &model.TimeSlice{Start: 1.5, End: 2.4})
	require.NoError(t, err)

	require.Len(t, b.assignments, 1)
	assert.Equal(t, model.SpeakerAssignment{Participant: "p1", TimestampFrom: 1.5, TimestampTo: 2.4}, b.assignments[0])
	assert.Equal(t, 1, b.reloads)
	assert.Equal(t, "t1", words.TopicID)
	assert.Equal(t, 7, words.Groups[0].Speaker, "view comes from the server, not a local patch")
}

func TestAssignSpeaker(t *testing.T) {
	b := &memBackend{}
	s := New(b, nil, nil)

	_, err := s.AssignSpeaker(context.Background(), "sess", "t1", 3, &model.TimeSlice{Start: 0, End: 1})
	require.NoError(t, err)
	require.Len(t, b.assignments, 1)
	require.NotNil(t, b.assignments[0].Speaker)
	assert.Equal(t, 3, *b.assignments[0].Speaker)
	assert.Empty(t, b.assignments[0].Participant)
}

func TestAssignFailureSkipsReload(t *testing.T) {
	b := &memBackend{assignErr: errors.New("500")}
	s := New(b, nil, nil)

	_, err := s.Assign(context.Background(), "sess", "t1", model.Participant{ID: "p"}, &model.TimeSlice{Start: 0, End: 1})
	require.Error(t, err)
	assert.Zero(t, b.reloads)
}

func TestLabeler(t *testing.T) {
	label := Labeler([]model.Participant{{ID: "a", Name: "Ada", Speaker: 1}})
	assert.Equal(t, "Ada", label(1))
	assert.Equal(t, "Speaker 2", label(2))
}

func TestWords(t *testing.T) {
	b := &memBackend{}
	s := New(b, nil, nil)

	words, err := s.Words(context.Background(), "s1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", words.TopicID)
	assert.Equal(t, 1, b.reloads)
}
