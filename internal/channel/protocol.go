// Package channel provides the client and protocol types for the live session
// push channel: a WebSocket carrying JSON frames of the form
// {"event": NAME, "data": {...}}.
package channel

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jwulff/steno-live/internal/model"
)

// Frame names sent by the server.
const (
	EventTranscript = "TRANSCRIPT"
	EventTopic      = "TOPIC"
	EventTopics     = "TOPICS"
	EventWaveform   = "WAVEFORM"
	EventDuration   = "DURATION"
	EventStatus     = "STATUS"
)

// Frame is one message on the socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TranscriptData is the payload of TRANSCRIPT.
type TranscriptData struct {
	Text        string `json:"text"`
	Translation string `json:"translation,omitempty"`
}

// TopicsData is the payload of TOPICS.
type TopicsData struct {
	Topics []model.TopicBoundary `json:"topics"`
}

// WaveformData is the payload of WAVEFORM.
type WaveformData struct {
	Waveform []float64 `json:"waveform"`
}

// DurationData is the payload of DURATION. Duration is in milliseconds.
type DurationData struct {
	Duration float64 `json:"duration"`
}

// StatusData is the payload of STATUS.
type StatusData struct {
	Value string `json:"value"`
}

// Event is a decoded push event. The set of implementations is closed.
type Event interface {
	isEvent()
}

// TranscriptDelta carries newly transcribed text.
type TranscriptDelta struct {
	Text string
}

// TopicsUpdated carries the full topic list, sorted by timestamp.
// The slice is never shared with earlier events.
type TopicsUpdated struct {
	Topics []model.TopicBoundary
}

// WaveformReady carries amplitude peaks and the latest known duration.
type WaveformReady struct {
	Samples         []float64
	DurationSeconds float64
}

// StatusChanged carries a server-reported session status.
type StatusChanged struct {
	Status model.Status
}

// Disconnected is always the last event before Events is closed.
type Disconnected struct {
	Reason error
}

func (TranscriptDelta) isEvent() {}
func (TopicsUpdated) isEvent()   {}
func (WaveformReady) isEvent()   {}
func (StatusChanged) isEvent()   {}
func (Disconnected) isEvent()    {}

// decoder turns frames into events. It keeps the topic list and the last
// reported duration between frames.
type decoder struct {
	topics          []model.TopicBoundary
	durationSeconds float64
}

// decode returns the event for f, or nil when the frame only updates state.
func (d *decoder) decode(f Frame) (Event, error) {
	switch f.Event {
	case EventTranscript:
		var data TranscriptData
		if err := unmarshalData(f, &data); err != nil {
			return nil, err
		}
		return TranscriptDelta{Text: data.Text}, nil

	case EventTopic:
		var topic model.TopicBoundary
		if err := unmarshalData(f, &topic); err != nil {
			return nil, err
		}
		d.topics = upsertTopic(d.topics, topic)
		return TopicsUpdated{Topics: cloneTopics(d.topics)}, nil

	case EventTopics:
		var data TopicsData
		if err := unmarshalData(f, &data); err != nil {
			return nil, err
		}
		d.topics = sortTopics(cloneTopics(data.Topics))
		return TopicsUpdated{Topics: cloneTopics(d.topics)}, nil

	case EventWaveform:
		var data WaveformData
		if err := unmarshalData(f, &data); err != nil {
			return nil, err
		}
		samples := append([]float64(nil), data.Waveform...)
		return WaveformReady{Samples: samples, DurationSeconds: d.durationSeconds}, nil

	case EventDuration:
		var data DurationData
		if err := unmarshalData(f, &data); err != nil {
			return nil, err
		}
		d.durationSeconds = data.Duration / 1000
		return nil, nil

	case EventStatus:
		var data StatusData
		if err := unmarshalData(f, &data); err != nil {
			return nil, err
		}
		status, err := model.ParseStatus(data.Value)
		if err != nil {
			return nil, err
		}
		return StatusChanged{Status: status}, nil
	}
	return nil, fmt.Errorf("unknown event %q", f.Event)
}

func unmarshalData(f Frame, v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s frame has no data", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("unmarshal %s data: %w", f.Event, err)
	}
	return nil
}

// upsertTopic returns a new slice with topic replaced by ID or appended.
func upsertTopic(topics []model.TopicBoundary, topic model.TopicBoundary) []model.TopicBoundary {
	out := cloneTopics(topics)
	for i := range out {
		if out[i].ID == topic.ID {
			out[i] = topic
			return sortTopics(out)
		}
	}
	return sortTopics(append(out, topic))
}

func cloneTopics(topics []model.TopicBoundary) []model.TopicBoundary {
	out := make([]model.TopicBoundary, len(topics))
	copy(out, topics)
	return out
}

func sortTopics(topics []model.TopicBoundary) []model.TopicBoundary {
	sort.SliceStable(topics, func(i, j int) bool {
		return topics[i].TimestampSeconds < topics[j].TimestampSeconds
	})
	return topics
}
