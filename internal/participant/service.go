// Package participant manages speaker aliases and re-attributes audio
// ranges to them.
package participant

import (
	"context"
	"fmt"
	"strings"

	slerrors "github.com/jwulff/steno-live/internal/errors"
	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/metrics"
	"github.com/jwulff/steno-live/internal/model"
)

// Backend is the server surface the service needs.
type Backend interface {
	Participants(ctx context.Context, sessionID string) ([]model.Participant, error)
	CreateParticipant(ctx context.Context, sessionID, name string, speaker *int) (model.Participant, error)
	DeleteParticipant(ctx context.Context, sessionID, participantID string) error
	AssignSpeaker(ctx context.Context, sessionID string, req model.SpeakerAssignment) error
	TopicWords(ctx context.Context, sessionID, topicID string) (model.TopicWords, error)
}

// Service wraps a Backend. Every mutation returns state re-read from the
// server.
type Service struct {
	backend Backend
	log     logging.Logger
	metrics *metrics.Metrics
}

// New creates a Service.
func New(backend Backend, log logging.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Service{backend: backend, log: log, metrics: m}
}

// List returns the session's participants.
func (s *Service) List(ctx context.Context, sessionID string) ([]model.Participant, error) {
	ps, err := s.backend.Participants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return ps, nil
}

// Create adds a participant and returns the refreshed list.
func (s *Service) Create(ctx context.Context, sessionID, name string) ([]model.Participant, error) {
	return s.create(ctx, sessionID, name, nil)
}

// CreateForSpeaker adds a participant bound to an existing speaker label.
func (s *Service) CreateForSpeaker(ctx context.Context, sessionID, name string, speaker int) ([]model.Participant, error) {
	return s.create(ctx, sessionID, name, &speaker)
}

func (s *Service) create(ctx context.Context, sessionID, name string, speaker *int) ([]model.Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("create participant: name is required")
	}
	p, err := s.backend.CreateParticipant(ctx, sessionID, name, speaker)
	if err != nil {
		return nil, fmt.Errorf("create participant %q: %w", name, err)
	}
	s.log.Info("participant created", logging.F("participant_id", p.ID), logging.F("speaker", p.Speaker))
	return s.List(ctx, sessionID)
}

// Delete removes a participant and returns the refreshed list.
func (s *Service) Delete(ctx context.Context, sessionID, participantID string) ([]model.Participant, error) {
	if err := s.backend.DeleteParticipant(ctx, sessionID, participantID); err != nil {
		return nil, fmt.Errorf("delete participant %s: %w", participantID, err)
	}
	s.log.Info("participant deleted", logging.F("participant_id", participantID))
	return s.List(ctx, sessionID)
}

// Words returns one topic's word groups.
func (s *Service) Words(ctx context.Context, sessionID, topicID string) (model.TopicWords, error) {
	words, err := s.backend.TopicWords(ctx, sessionID, topicID)
	if err != nil {
		return model.TopicWords{}, fmt.Errorf("load topic %s: %w", topicID, err)
	}
	return words, nil
}

// Assign relabels slice under participant and returns the topic's word
// groups as re-read from the server. A nil or malformed slice fails with
// ErrInvalidRange before anything is sent.
func (s *Service) Assign(ctx context.Context, sessionID, topicID string, p model.Participant, slice *model.TimeSlice) (model.TopicWords, error) {
	if err := checkSlice(slice); err != nil {
		return model.TopicWords{}, err
	}
	req := model.SpeakerAssignment{
		Participant:   p.ID,
		TimestampFrom: slice.Start,
		TimestampTo:   slice.End,
	}
	return s.assign(ctx, sessionID, topicID, req)
}

// AssignSpeaker relabels slice under a raw speaker number.
func (s *Service) AssignSpeaker(ctx context.Context, sessionID, topicID string, speaker int, slice *model.TimeSlice) (model.TopicWords, error) {
	if err := checkSlice(slice); err != nil {
		return model.TopicWords{}, err
	}
	req := model.SpeakerAssignment{
		Speaker:       &speaker,
		TimestampFrom: slice.Start,
		TimestampTo:   slice.End,
	}
	return s.assign(ctx, sessionID, topicID, req)
}

func (s *Service) assign(ctx context.Context, sessionID, topicID string, req model.SpeakerAssignment) (model.TopicWords, error) {
	if err := s.backend.AssignSpeaker(ctx, sessionID, req); err != nil {
		s.metrics.RecordAssignment(false)
		return model.TopicWords{}, fmt.Errorf("assign speaker: %w", err)
	}
	s.metrics.RecordAssignment(true)
	s.log.Info("range reassigned",
		logging.F("topic_id", topicID),
		logging.F("from", req.TimestampFrom),
		logging.F("to", req.TimestampTo))

	// Word boundaries can move outside the assigned range, so the view is
	// always rebuilt from the server.
	words, err := s.backend.TopicWords(ctx, sessionID, topicID)
	if err != nil {
		return model.TopicWords{}, fmt.Errorf("reload topic %s: %w", topicID, err)
	}
	return words, nil
}

func checkSlice(slice *model.TimeSlice) error {
	if slice == nil {
		return slerrors.New(slerrors.KindInvalidRange, "assign", "no selection", nil)
	}
	if err := slice.Valid(); err != nil {
		return slerrors.New(slerrors.KindInvalidRange, "assign", "", err)
	}
	return nil
}

// ForSpeaker returns the participant aliasing speaker, if any.
func ForSpeaker(ps []model.Participant, speaker int) (model.Participant, bool) {
	for _, p := range ps {
		if p.Speaker == speaker {
			return p, true
		}
	}
	return model.Participant{}, false
}

// Labeler renders speaker numbers using participant names where known.
func Labeler(ps []model.Participant) func(int) string {
	return func(speaker int) string {
		if p, ok := ForSpeaker(ps, speaker); ok && p.Name != "" {
			return p.Name
		}
		return fmt.Sprintf("Speaker %d", speaker)
	}
}
