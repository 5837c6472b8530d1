// Package model holds the data types shared by the capture and correction pipeline.
package model

import (
	"fmt"
	"math"
	"strings"
)

// Status is the lifecycle status of a recording session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusEnded      Status = "ended"
	StatusError      Status = "error"
)

// ParseStatus converts a backend status value. The backend reports a finished
// upload as "uploaded", which is processing from the client's point of view.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle":
		return StatusIdle, nil
	case "recording":
		return StatusRecording, nil
	case "processing", "uploaded":
		return StatusProcessing, nil
	case "ended":
		return StatusEnded, nil
	case "error":
		return StatusError, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusError
}

// Session is one recording/transcription attempt.
type Session struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Status     Status `json:"status"`
	DurationMs *int64 `json:"duration,omitempty"`
}

// DurationSeconds returns the session duration, or 0 when unknown.
func (s Session) DurationSeconds() float64 {
	if s.DurationMs == nil {
		return 0
	}
	return float64(*s.DurationMs) / 1000
}

// SpeakerSegment is one speaker's contribution inside a topic.
type SpeakerSegment struct {
	Speaker      int     `json:"speaker"`
	StartSeconds float64 `json:"start"`
	Text         string  `json:"text"`
}

// TopicBoundary is a server-identified segment of the transcript.
type TopicBoundary struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	TimestampSeconds float64          `json:"timestamp"`
	Text             string           `json:"transcript"`
	Summary          string           `json:"summary,omitempty"`
	SpeakerSegments  []SpeakerSegment `json:"segments,omitempty"`
}

// Word is a single transcribed token with its audio bounds.
type Word struct {
	Text         string  `json:"text"`
	StartSeconds float64 `json:"start"`
	EndSeconds   float64 `json:"end"`
}

// SpeakerWordGroup is a run of consecutive words attributed to one speaker.
type SpeakerWordGroup struct {
	Speaker int    `json:"speaker"`
	Words   []Word `json:"words"`
}

// TopicWords is the correction view of one topic.
type TopicWords struct {
	TopicID string             `json:"topic_id"`
	Groups  []SpeakerWordGroup `json:"words_per_speaker"`
}

// TimeSlice is a [Start, End] range in seconds into the session audio.
type TimeSlice struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Valid checks the slice bounds that do not depend on the session duration.
func (t TimeSlice) Valid() error {
	if math.IsNaN(t.Start) || math.IsNaN(t.End) {
		return fmt.Errorf("time slice has undefined bounds")
	}
	if t.Start < 0 {
		return fmt.Errorf("time slice starts before 0: %.3f", t.Start)
	}
	if t.Start > t.End {
		return fmt.Errorf("time slice start %.3f after end %.3f", t.Start, t.End)
	}
	return nil
}

// Within reports whether the slice lies inside [0, durationSeconds].
func (t TimeSlice) Within(durationSeconds float64) bool {
	return t.Valid() == nil && t.End <= durationSeconds
}

// Duration is End - Start.
func (t TimeSlice) Duration() float64 {
	return t.End - t.Start
}

// Participant is a user-facing alias for a speaker label.
type Participant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Speaker int    `json:"speaker"`
}

// AudioChunk is one ordered part of a chunked upload.
type AudioChunk struct {
	Index       int
	TotalChunks int
	Blob        []byte
}

// Validate enforces 0 <= Index < TotalChunks.
func (c AudioChunk) Validate() error {
	if c.TotalChunks <= 0 {
		return fmt.Errorf("chunk total must be positive, got %d", c.TotalChunks)
	}
	if c.Index < 0 || c.Index >= c.TotalChunks {
		return fmt.Errorf("chunk index %d out of range [0,%d)", c.Index, c.TotalChunks)
	}
	return nil
}

// Last reports whether this chunk completes the upload.
func (c AudioChunk) Last() bool {
	return c.Index == c.TotalChunks-1
}

// SessionDescription is an SDP offer or answer exchanged during signaling.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Waveform holds amplitude peaks for a session's audio.
type Waveform struct {
	Samples         []float64 `json:"data"`
	DurationSeconds float64   `json:"duration,omitempty"`
}

// SpeakerAssignment relabels an audio range. Exactly one of Participant and
// Speaker is set.
type SpeakerAssignment struct {
	Participant   string  `json:"participant,omitempty"`
	Speaker       *int    `json:"speaker,omitempty"`
	TimestampFrom float64 `json:"timestamp_from"`
	TimestampTo   float64 `json:"timestamp_to"`
}
