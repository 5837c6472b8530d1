package app

import (
	"github.com/jwulff/steno-live/internal/channel"
	"github.com/jwulff/steno-live/internal/model"
	"github.com/jwulff/steno-live/internal/upload"
)

// ChannelConnectedMsg is sent when the push channel is open.
type ChannelConnectedMsg struct {
	Source EventSource
}

// ChannelConnectErrorMsg is sent when dialing the push channel fails.
type ChannelConnectErrorMsg struct {
	Err error
}

// ChannelEventMsg wraps one pushed event.
type ChannelEventMsg struct {
	Event channel.Event
}

// channelClosedMsg is sent once the event stream has been fully drained.
type channelClosedMsg struct{}

// ReconnectTickMsg triggers a reconnection attempt.
type ReconnectTickMsg struct{}

// RecordResultMsg carries the outcome of starting capture.
type RecordResultMsg struct {
	Err error
}

// StopResultMsg carries the outcome of stopping capture.
type StopResultMsg struct {
	Err error
}

// UploadProgressMsg carries chunked upload progress.
type UploadProgressMsg struct {
	Progress upload.Progress
}

// AudioLoadedMsg carries a player for the finished recording.
type AudioLoadedMsg struct {
	Player AudioPlayer
	Err    error
}

// SnapshotLoadedMsg carries server state fetched when the view opens.
type SnapshotLoadedMsg struct {
	Snapshot Snapshot
	Err      error
}

// PlayheadTickMsg refreshes the waveform cursor.
type PlayheadTickMsg struct{}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}

// WordsLoadedMsg carries a topic's word groups.
type WordsLoadedMsg struct {
	Words model.TopicWords
	Err   error
}

// ParticipantsLoadedMsg carries the session's participants.
type ParticipantsLoadedMsg struct {
	Participants []model.Participant
	Err          error
}
