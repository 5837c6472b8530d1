// Package session owns the authoritative lifecycle status of a recording
// session and the reconnect policy for its push channel.
package session

import (
	"fmt"
	"sync"
	"time"

	slerrors "github.com/jwulff/steno-live/internal/errors"
	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/metrics"
	"github.com/jwulff/steno-live/internal/model"
)

// MaxReconnectAttempts bounds channel reconnects while processing.
const MaxReconnectAttempts = 5

// Action is what the caller should do after a channel disconnect.
type Action int

const (
	// Ignore means the session is already terminal.
	Ignore Action = iota
	// Reconnect means dial the channel again after Decision.Delay.
	Reconnect
	// Failed means the session moved to error.
	Failed
)

func (a Action) String() string {
	switch a {
	case Ignore:
		return "ignore"
	case Reconnect:
		return "reconnect"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Decision is returned by HandleDisconnect.
type Decision struct {
	Action  Action
	Delay   time.Duration
	Attempt int
}

// Listener observes every successful transition.
type Listener func(from, to model.Status)

// Machine holds one session's status. All methods are safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	status    model.Status
	err       error
	attempts  int
	listeners []Listener
	// watched machines follow a recording made elsewhere, so the server's
	// processing stands in for the local stop.
	watched bool

	log     logging.Logger
	metrics *metrics.Metrics
}

// New returns a machine in the idle state.
func New(log logging.Logger, m *metrics.Metrics) *Machine {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Machine{status: model.StatusIdle, log: log, metrics: m}
}

// Resume returns a machine for a session that reached status elsewhere,
// such as one being watched after another client recorded it.
func Resume(status model.Status, log logging.Logger, m *metrics.Metrics) *Machine {
	mc := New(log, m)
	if status != "" {
		mc.status = status
	}
	mc.watched = true
	return mc
}

// Status returns the current status.
func (m *Machine) Status() model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Err returns the cause recorded when the machine entered error.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// OnTransition registers a listener. Listeners run synchronously after the
// lock is released, in registration order.
func (m *Machine) OnTransition(fn Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// StartRecording moves idle to recording.
func (m *Machine) StartRecording() error {
	return m.move(model.StatusRecording, nil, model.StatusIdle)
}

// StopRecording moves recording to processing. It is local: the server is
// not consulted.
func (m *Machine) StopRecording() error {
	return m.move(model.StatusProcessing, nil, model.StatusRecording)
}

// ApplyServerStatus applies a status pushed by the server. A status equal to
// the current one is a no-op. ended is accepted only from processing; error
// is accepted from any non-terminal state. processing is accepted only on
// a machine from Resume; otherwise StopRecording alone leaves recording.
func (m *Machine) ApplyServerStatus(s model.Status) error {
	m.mu.Lock()
	current, watched := m.status, m.watched
	m.mu.Unlock()
	if s == current {
		return nil
	}

	switch s {
	case model.StatusProcessing:
		if watched {
			return m.move(s, nil, model.StatusIdle, model.StatusRecording)
		}
	case model.StatusEnded:
		return m.move(s, nil, model.StatusProcessing)
	case model.StatusError:
		cause := slerrors.New(slerrors.KindUnknown, "server", "server reported error", nil)
		return m.move(s, cause, model.StatusIdle, model.StatusRecording, model.StatusProcessing)
	}
	return slerrors.New(slerrors.KindInvalidTransition, "server",
		fmt.Sprintf("server status %q not accepted in %q", s, current), nil)
}

// Fail moves any non-terminal state to error.
func (m *Machine) Fail(cause error) error {
	return m.move(model.StatusError, cause, model.StatusIdle, model.StatusRecording, model.StatusProcessing)
}

// HandleDisconnect decides how to react to a dropped push channel.
// While processing it allows MaxReconnectAttempts reconnects with a
// 1s, 2s, 4s, 8s, 16s backoff; after that, and in any other non-terminal
// state, the session fails with ErrChannelDisconnected.
func (m *Machine) HandleDisconnect(reason error) Decision {
	m.mu.Lock()
	status := m.status
	if status.Terminal() {
		m.mu.Unlock()
		return Decision{Action: Ignore}
	}
	if status == model.StatusProcessing && m.attempts < MaxReconnectAttempts {
		attempt := m.attempts
		m.attempts++
		m.mu.Unlock()
		d := Decision{Action: Reconnect, Delay: Backoff(attempt), Attempt: attempt + 1}
		m.log.Warn("channel dropped, reconnecting",
			logging.F("attempt", d.Attempt), logging.F("delay", d.Delay), logging.Err(reason))
		return d
	}
	m.mu.Unlock()

	cause := slerrors.New(slerrors.KindChannelDisconnected, "channel", "", reason)
	if err := m.Fail(cause); err != nil {
		// Lost a race with another terminal transition.
		return Decision{Action: Ignore}
	}
	return Decision{Action: Failed}
}

// ResetReconnect clears the attempt counter after a successful reconnect.
func (m *Machine) ResetReconnect() {
	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
}

// Backoff returns 1<<min(attempt,4) seconds.
func Backoff(attempt int) time.Duration {
	return time.Duration(1<<min(attempt, 4)) * time.Second
}

func (m *Machine) move(to model.Status, cause error, from ...model.Status) error {
	m.mu.Lock()
	current := m.status
	allowed := false
	for _, f := range from {
		if current == f {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return slerrors.New(slerrors.KindInvalidTransition, string(current)+"->"+string(to), "", nil)
	}
	m.status = to
	if to == model.StatusError {
		m.err = cause
	}
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	m.metrics.RecordTransition(string(current), string(to))
	if cause != nil {
		m.log.Warn("session transition", logging.F("from", current), logging.F("to", to), logging.Err(cause))
	} else {
		m.log.Info("session transition", logging.F("from", current), logging.F("to", to))
	}
	for _, fn := range listeners {
		fn(current, to)
	}
	return nil
}
