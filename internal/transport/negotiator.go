// Package transport establishes the real-time media connection to the server.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	slerrors "github.com/jwulff/steno-live/internal/errors"
	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/media"
	"github.com/jwulff/steno-live/internal/metrics"
	"github.com/jwulff/steno-live/internal/model"
)

// State is the negotiator lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateSignaling State = "signaling"
	StateConnected State = "connected"
	StateClosed    State = "closed"
	StateError     State = "error"
)

// PeerState is the connection state reported by a Peer.
type PeerState string

const (
	PeerNew          PeerState = "new"
	PeerConnecting   PeerState = "connecting"
	PeerConnected    PeerState = "connected"
	PeerDisconnected PeerState = "disconnected"
	PeerFailed       PeerState = "failed"
	PeerClosed       PeerState = "closed"
)

// Signaler exchanges an offer for the server's answer.
type Signaler interface {
	Offer(ctx context.Context, sessionID string, offer model.SessionDescription) (model.SessionDescription, error)
}

// Peer is one side of a media connection.
type Peer interface {
	AttachAudio(st media.Stream) error
	// CreateOffer returns the local offer once candidate gathering is complete.
	CreateOffer(ctx context.Context) (model.SessionDescription, error)
	SetAnswer(answer model.SessionDescription) error
	OnStateChange(fn func(PeerState))
	Close() error
}

// PeerFactory creates a fresh Peer for each negotiation.
type PeerFactory func() (Peer, error)

// DefaultTimeout bounds the wait for a connected peer after the answer is applied.
const DefaultTimeout = 15 * time.Second

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithTimeout sets how long Start waits for the peer to connect.
func WithTimeout(d time.Duration) Option {
	return func(n *Negotiator) { n.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(n *Negotiator) { n.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Negotiator) { n.metrics = m }
}

// Negotiator drives one offer/answer exchange and owns the resulting peer.
type Negotiator struct {
	signaler Signaler
	newPeer  PeerFactory
	timeout  time.Duration
	log      logging.Logger
	metrics  *metrics.Metrics

	mu          sync.Mutex
	state       State
	err         error
	peer        Peer
	connected   chan struct{}
	connectOnce sync.Once
	failed      chan error
	listeners   []func(State, error)
}

// NewNegotiator creates an idle negotiator.
func NewNegotiator(sig Signaler, newPeer PeerFactory, opts ...Option) *Negotiator {
	n := &Negotiator{
		signaler: sig,
		newPeer:  newPeer,
		timeout:  DefaultTimeout,
		log:      logging.NewNopLogger(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// State returns the current state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Err returns the failure that moved the negotiator to StateError.
func (n *Negotiator) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// OnStateChange registers fn for every transition.
func (n *Negotiator) OnStateChange(fn func(State, error)) {
	n.mu.Lock()
	n.listeners = append(n.listeners, fn)
	n.mu.Unlock()
}

// Start negotiates a connection carrying st and blocks until the peer
// reports connected. Any failure before that returns an error matching
// ErrNegotiationFailed and releases the peer.
func (n *Negotiator) Start(ctx context.Context, st media.Stream, sessionID string) error {
	n.mu.Lock()
	if n.state != StateIdle {
		state := n.state
		n.mu.Unlock()
		return slerrors.New(slerrors.KindInvalidTransition, "negotiate",
			fmt.Sprintf("cannot start from %s", state), nil)
	}
	n.connected = make(chan struct{})
	n.failed = make(chan error, 1)
	n.mu.Unlock()

	begin := time.Now()
	n.transition(StateSignaling, nil)

	peer, err := n.newPeer()
	if err != nil {
		return n.abort("peer", "could not create peer connection", err, begin)
	}
	n.mu.Lock()
	n.peer = peer
	n.mu.Unlock()

	peer.OnStateChange(n.onPeerState)

	if err := peer.AttachAudio(st); err != nil {
		return n.abort("attach", "could not attach audio track", err, begin)
	}

	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		return n.abort("offer", "could not create offer", err, begin)
	}
	n.log.Debug("offer created", logging.F("sdp_bytes", len(offer.SDP)))

	answer, err := n.signaler.Offer(ctx, sessionID, offer)
	if err != nil {
		return n.abort("signaling", "server rejected the offer", err, begin)
	}

	if err := peer.SetAnswer(answer); err != nil {
		return n.abort("answer", "could not apply the server answer", err, begin)
	}

	timer := time.NewTimer(n.timeout)
	defer timer.Stop()

	select {
	case <-n.connected:
		n.metrics.RecordNegotiation("connected", time.Since(begin))
		n.log.Info("transport connected", logging.F("elapsed", time.Since(begin)))
		return nil
	case err := <-n.failed:
		return n.abort("connect", "peer connection failed", err, begin)
	case <-timer.C:
		n.metrics.RecordNegotiation("timeout", time.Since(begin))
		return n.fail("connect", fmt.Sprintf("no connection after %s", n.timeout), nil)
	case <-ctx.Done():
		return n.abort("connect", "cancelled", ctx.Err(), begin)
	}
}

// Close releases the peer from any state. A negotiator in StateError stays
// in StateError so the failure remains observable.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	peer := n.peer
	n.peer = nil
	state := n.state
	failed := n.failed
	n.mu.Unlock()

	if failed != nil {
		select {
		case failed <- fmt.Errorf("closed during negotiation"):
		default:
		}
	}

	var err error
	if peer != nil {
		err = peer.Close()
	}
	if state != StateError && state != StateClosed {
		n.transition(StateClosed, nil)
	}
	return err
}

func (n *Negotiator) onPeerState(ps PeerState) {
	n.mu.Lock()
	state := n.state
	connected, failed := n.connected, n.failed
	n.mu.Unlock()

	n.log.Debug("peer state", logging.F("peer_state", string(ps)), logging.F("state", string(state)))

	switch state {
	case StateSignaling:
		switch ps {
		case PeerConnected:
			n.connectOnce.Do(func() {
				n.transition(StateConnected, nil)
				close(connected)
			})
		case PeerFailed, PeerClosed:
			select {
			case failed <- fmt.Errorf("peer %s", ps):
			default:
			}
		}
	case StateConnected:
		if ps == PeerFailed || ps == PeerClosed {
			n.fail("transport", fmt.Sprintf("peer %s after connecting", ps), nil)
		}
	}
}

func (n *Negotiator) abort(stage, msg string, cause error, begin time.Time) error {
	n.metrics.RecordNegotiation("failed", time.Since(begin))
	return n.fail(stage, msg, cause)
}

// fail moves to StateError and releases the peer.
func (n *Negotiator) fail(stage, msg string, cause error) error {
	err := slerrors.New(slerrors.KindNegotiationFailed, stage, msg, cause)

	n.mu.Lock()
	peer := n.peer
	n.peer = nil
	n.mu.Unlock()
	if peer != nil {
		if cerr := peer.Close(); cerr != nil {
			n.log.Warn("peer close failed", logging.Err(cerr))
		}
	}

	n.log.Warn("negotiation failed", logging.F("stage", stage), logging.Err(err))
	n.transition(StateError, err)
	return err
}

func (n *Negotiator) transition(to State, err error) {
	n.mu.Lock()
	if n.state == to || n.state == StateError || n.state == StateClosed {
		n.mu.Unlock()
		return
	}
	n.state = to
	if err != nil {
		n.err = err
	}
	listeners := append([]func(State, error){}, n.listeners...)
	n.mu.Unlock()

	for _, fn := range listeners {
		fn(to, err)
	}
}
