package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	slerrors "github.com/jwulff/steno-live/internal/errors"
	"github.com/jwulff/steno-live/internal/media"
	"github.com/jwulff/steno-live/internal/model"
)

// fakePeer reports states on demand. If autoConnect is set it reports
// connected as soon as the answer is applied.
type fakePeer struct {
	mu          sync.Mutex
	onState     func(PeerState)
	attached    media.Stream
	answer      model.SessionDescription
	closed      int
	autoConnect bool
	offerErr    error
	answerErr   error
}

func (p *fakePeer) AttachAudio(st media.Stream) error {
	p.attached = st
	return nil
}

func (p *fakePeer) CreateOffer(ctx context.Context) (model.SessionDescription, error) {
	if p.offerErr != nil {
		return model.SessionDescription{}, p.offerErr
	}
	return model.SessionDescription{Type: "offer", SDP: "v=0 offer"}, nil
}

func (p *fakePeer) SetAnswer(a model.SessionDescription) error {
	if p.answerErr != nil {
		return p.answerErr
	}
	p.mu.Lock()
	p.answer = a
	p.mu.Unlock()
	if p.autoConnect {
		go p.emit(PeerConnected)
	}
	return nil
}

func (p *fakePeer) OnStateChange(fn func(PeerState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Answer() model.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answer
}

func (p *fakePeer) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) emit(s PeerState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

type fakeSignaler struct {
	err       error
	sessionID string
	offer     model.SessionDescription
}

func (s *fakeSignaler) Offer(ctx context.Context, sessionID string, offer model.SessionDescription) (model.SessionDescription, error) {
	s.sessionID = sessionID
	s.offer = offer
	if s.err != nil {
		return model.SessionDescription{}, s.err
	}
	return model.SessionDescription{Type: "answer", SDP: "v=0 answer"}, nil
}

func factoryFor(p *fakePeer) PeerFactory {
	return func() (Peer, error) { return p, nil }
}

func testStream() media.Stream {
	return media.NewSliceStream(media.Format{SampleRate: 48000, Channels: 1}, nil)
}

func TestNegotiatorConnects(t *testing.T) {
	peer := &fakePeer{autoConnect: true}
	sig := &fakeSignaler{}
	n := NewNegotiator(sig, factoryFor(peer), WithTimeout(time.Second))

	var mu sync.Mutex
	var seen []State
	n.OnStateChange(func(s State, err error) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	require.NoError(t, n.Start(context.Background(), testStream(), "sess-1"))

	assert.Equal(t, StateConnected, n.State())
	assert.Equal(t, "sess-1", sig.sessionID)
	assert.Equal(t, "offer", sig.offer.Type)
	assert.Equal(t, "v=0 answer", peer.Answer().SDP)
	assert.NotNil(t, peer.attached)

	mu.Lock()
	assert.Equal(t, []State{StateSignaling, StateConnected}, seen)
	mu.Unlock()

	require.NoError(t, n.Close())
	assert.Equal(t, StateClosed, n.State())
	assert.Equal(t, 1, peer.Closed())
}

func TestNegotiatorFailuresBeforeConnect(t *testing.T) {
	tests := []struct {
		name   string
		peer   *fakePeer
		sigErr error
	}{
		{"offer", &fakePeer{offerErr: errors.New("no codecs")}, nil},
		{"signaling", &fakePeer{}, errors.New("http 502")},
		{"answer", &fakePeer{answerErr: errors.New("bad sdp")}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNegotiator(&fakeSignaler{err: tt.sigErr}, factoryFor(tt.peer), WithTimeout(time.Second))

			err := n.Start(context.Background(), testStream(), "s")
			require.Error(t, err)
			assert.ErrorIs(t, err, slerrors.ErrNegotiationFailed)
			assert.Contains(t, err.Error(), tt.name)
			assert.Equal(t, StateError, n.State())
			assert.Equal(t, 1, tt.peer.Closed(), "peer released on failure")
		})
	}
}

func TestNegotiatorPeerFailsBeforeConnect(t *testing.T) {
	peer := &fakePeer{}
	n := NewNegotiator(&fakeSignaler{}, factoryFor(peer), WithTimeout(5*time.Second))

	done := make(chan error, 1)
	go func() { done <- n.Start(context.Background(), testStream(), "s") }()

	require.Eventually(t, func() bool { return peer.Answer().SDP != "" }, time.Second, 5*time.Millisecond)
	peer.emit(PeerFailed)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, slerrors.ErrNegotiationFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after peer failure")
	}
}

func TestNegotiatorTimeout(t *testing.T) {
	peer := &fakePeer{}
	n := NewNegotiator(&fakeSignaler{}, factoryFor(peer), WithTimeout(20*time.Millisecond))

	err := n.Start(context.Background(), testStream(), "s")
	assert.ErrorIs(t, err, slerrors.ErrNegotiationFailed)
	assert.Equal(t, StateError, n.State())
}

func TestNegotiatorFailureAfterConnect(t *testing.T) {
	peer := &fakePeer{autoConnect: true}
	n := NewNegotiator(&fakeSignaler{}, factoryFor(peer), WithTimeout(time.Second))

	errs := make(chan error, 4)
	n.OnStateChange(func(s State, err error) {
		if s == StateError {
			errs <- err
		}
	})

	require.NoError(t, n.Start(context.Background(), testStream(), "s"))
	peer.emit(PeerFailed)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, slerrors.ErrNegotiationFailed)
	case <-time.After(time.Second):
		t.Fatal("listener not notified")
	}
	assert.Equal(t, StateError, n.State())

	// Close still succeeds and the error stays observable.
	require.NoError(t, n.Close())
	assert.Equal(t, StateError, n.State())
	assert.Error(t, n.Err())
}

func TestNegotiatorCloseFromIdle(t *testing.T) {
	n := NewNegotiator(&fakeSignaler{}, factoryFor(&fakePeer{}))
	require.NoError(t, n.Close())
	assert.Equal(t, StateClosed, n.State())

	err := n.Start(context.Background(), testStream(), "s")
	assert.ErrorIs(t, err, slerrors.ErrInvalidTransition)
}

func TestNegotiatorCloseDuringSignaling(t *testing.T) {
	peer := &fakePeer{}
	n := NewNegotiator(&fakeSignaler{}, factoryFor(peer), WithTimeout(5*time.Second))

	done := make(chan error, 1)
	go func() { done <- n.Start(context.Background(), testStream(), "s") }()

	require.Eventually(t, func() bool { return peer.Answer().SDP != "" }, time.Second, 5*time.Millisecond)
	require.NoError(t, n.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, slerrors.ErrNegotiationFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Close")
	}
	assert.Equal(t, StateClosed, n.State())
	assert.GreaterOrEqual(t, peer.Closed(), 1)
}
