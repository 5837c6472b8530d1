// Package waveform keeps a rendered waveform, its topic markers and the audio
// player position consistent.
package waveform

import (
	"math"
	"sync"

	slerrors "github.com/jwulff/steno-live/internal/errors"
	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/model"
)

// Subscription is a registered position observer.
type Subscription interface {
	// Cancel stops further callbacks. Calling it again does nothing.
	Cancel()
}

// Player is the audio element the waveform follows.
type Player interface {
	Position() float64
	Seek(seconds float64)
	Play()
	Pause()
	Playing() bool
	// Observe calls fn with the position on every update.
	Observe(fn func(seconds float64)) Subscription
}

// Marker is a topic boundary placed on the waveform.
type Marker struct {
	TopicID string
	Title   string
	Seconds float64
	// X is the relative horizontal position in [0, 1].
	X float64
}

// Sync binds a Player to waveform data and markers.
type Sync struct {
	player Player
	log    logging.Logger

	mu       sync.Mutex
	samples  []float64
	duration float64
	topics   []model.TopicBoundary
	markers  []Marker
	autoStop Subscription
}

// New creates a Sync over player.
func New(player Player, log logging.Logger) *Sync {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Sync{player: player, log: log}
}

// Render replaces the peaks and duration. Markers are re-placed against
// the new duration.
func (s *Sync) Render(samples []float64, durationSeconds float64) {
	s.mu.Lock()
	s.samples = append([]float64(nil), samples...)
	if durationSeconds > 0 {
		s.duration = durationSeconds
	}
	s.markers = place(s.topics, s.duration)
	s.mu.Unlock()
}

// Duration returns the rendered duration in seconds.
func (s *Sync) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// Columns downsamples the peaks to width bars by taking the maximum
// magnitude in each bucket.
func (s *Sync) Columns(width int) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return downsample(s.samples, width)
}

// PlaceMarkers discards every marker and places one per topic.
func (s *Sync) PlaceMarkers(topics []model.TopicBoundary) []Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append([]model.TopicBoundary(nil), topics...)
	s.markers = place(s.topics, s.duration)
	return append([]Marker(nil), s.markers...)
}

// Markers returns the current markers.
func (s *Sync) Markers() []Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Marker(nil), s.markers...)
}

// MarkerAt returns the marker drawn in column when the waveform is width
// columns wide.
func (s *Sync) MarkerAt(column, width int) (Marker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markers {
		if ColumnOf(m.X, width) == column {
			return m, true
		}
	}
	return Marker{}, false
}

// SetPlayer replaces the player, keeping peaks and markers. A pending
// auto-stop is cancelled.
func (s *Sync) SetPlayer(p Player) {
	s.CancelAutoStop()
	s.mu.Lock()
	s.player = p
	s.mu.Unlock()
}

func (s *Sync) current() Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

// Cursor returns the player position in seconds.
func (s *Sync) Cursor() float64 {
	return s.current().Position()
}

// CursorColumn returns the column the cursor falls in, or -1 when the
// duration is unknown.
func (s *Sync) CursorColumn(width int) int {
	d := s.Duration()
	if d <= 0 {
		return -1
	}
	return ColumnOf(s.current().Position()/d, width)
}

// PlayFrom seeks to seconds and plays without a stop point.
func (s *Sync) PlayFrom(seconds float64) {
	s.CancelAutoStop()
	p := s.current()
	p.Seek(seconds)
	p.Play()
}

// PlayRange plays slice and pauses at its end. Any earlier auto-stop is
// cancelled before the new one is registered.
func (s *Sync) PlayRange(slice model.TimeSlice) error {
	if err := slice.Valid(); err != nil {
		return slerrors.New(slerrors.KindInvalidRange, "play", "", err)
	}
	if d := s.Duration(); d > 0 && !slice.Within(d) {
		return slerrors.New(slerrors.KindInvalidRange, "play", "slice beyond end of audio", nil)
	}

	s.CancelAutoStop()
	p := s.current()
	p.Seek(slice.Start)

	stop := &autoStop{}
	sub := p.Observe(func(pos float64) {
		if pos < slice.End || !s.owns(stop) {
			return
		}
		p.Pause()
		s.release(stop)
	})
	s.mu.Lock()
	stop.sub = sub
	s.autoStop = sub
	s.mu.Unlock()

	s.log.Debug("play range", logging.F("start", slice.Start), logging.F("end", slice.End))
	p.Play()
	return nil
}

// JumpTo seeks to the topic's start without playing.
func (s *Sync) JumpTo(topic model.TopicBoundary) {
	s.CancelAutoStop()
	s.current().Seek(topic.TimestampSeconds)
}

// CancelAutoStop removes the pending auto-stop, if any.
func (s *Sync) CancelAutoStop() {
	s.mu.Lock()
	sub := s.autoStop
	s.autoStop = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// StopHandle returns a Subscription whose Cancel removes whatever auto-stop
// is pending at that moment.
func (s *Sync) StopHandle() Subscription {
	return stopHandle{s}
}

type stopHandle struct{ s *Sync }

func (h stopHandle) Cancel() { h.s.CancelAutoStop() }

type autoStop struct {
	sub Subscription
}

// owns reports whether stop is still the registered auto-stop. A callback
// snapshotted before a newer PlayRange must not pause the new range.
func (s *Sync) owns(stop *autoStop) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stop.sub != nil && s.autoStop == stop.sub
}

// release cancels stop only if it is still the owned auto-stop.
func (s *Sync) release(stop *autoStop) {
	s.mu.Lock()
	sub := stop.sub
	if sub != nil && s.autoStop == sub {
		s.autoStop = nil
	}
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

func place(topics []model.TopicBoundary, duration float64) []Marker {
	markers := make([]Marker, 0, len(topics))
	for _, t := range topics {
		x := 0.0
		if duration > 0 {
			x = math.Min(math.Max(t.TimestampSeconds/duration, 0), 1)
		}
		markers = append(markers, Marker{TopicID: t.ID, Title: t.Title, Seconds: t.TimestampSeconds, X: x})
	}
	return markers
}

// ColumnOf maps a relative position in [0, 1] to a column index.
func ColumnOf(x float64, width int) int {
	if width <= 0 {
		return 0
	}
	col := int(x * float64(width))
	if col >= width {
		col = width - 1
	}
	if col < 0 {
		col = 0
	}
	return col
}

func downsample(samples []float64, width int) []float64 {
	if width <= 0 || len(samples) == 0 {
		return nil
	}
	out := make([]float64, width)
	n := len(samples)
	for i := range out {
		lo := i * n / width
		hi := (i + 1) * n / width
		if hi <= lo {
			hi = lo + 1
		}
		peak := 0.0
		for _, v := range samples[lo:min(hi, n)] {
			peak = math.Max(peak, math.Abs(v))
		}
		out[i] = peak
	}
	return out
}
