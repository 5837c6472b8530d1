package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/media"
	"github.com/jwulff/steno-live/internal/model"
)

// PionPeer sends one PCMU audio track over a pion PeerConnection.
// Captured audio is pumped onto the track only once the connection is up.
type PionPeer struct {
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticSample
	log   logging.Logger

	mu      sync.Mutex
	stream  media.Stream
	onState func(PeerState)
	pumping bool
	done    chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewPionPeer creates a peer connection using the given STUN/TURN URLs.
func NewPionPeer(iceServers []string, log logging.Logger) (*PionPeer, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: pcmuRate, Channels: 1},
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("registering PCMU: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: pcmuRate, Channels: 1},
		"audio", "stenolive",
	)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("creating audio track: %w", err)
	}

	p := &PionPeer{pc: pc, track: track, log: log, done: make(chan struct{})}
	pc.OnConnectionStateChange(p.handleState)
	return p, nil
}

// NewPionPeerFactory returns a PeerFactory for NewNegotiator.
func NewPionPeerFactory(iceServers []string, log logging.Logger) PeerFactory {
	return func() (Peer, error) {
		return NewPionPeer(iceServers, log)
	}
}

// AttachAudio adds the outgoing track. The stream is read once connected.
func (p *PionPeer) AttachAudio(st media.Stream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return fmt.Errorf("audio already attached")
	}
	sender, err := p.pc.AddTrack(p.track)
	if err != nil {
		return fmt.Errorf("adding track: %w", err)
	}
	p.stream = st

	// RTCP must be drained for interceptors to run.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *PionPeer) CreateOffer(ctx context.Context) (model.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return model.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return model.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return model.SessionDescription{}, ctx.Err()
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return model.SessionDescription{}, errors.New("no local description after gathering")
	}
	return model.SessionDescription{Type: local.Type.String(), SDP: local.SDP}, nil
}

func (p *PionPeer) SetAnswer(answer model.SessionDescription) error {
	typ := webrtc.SDPTypeAnswer
	if answer.Type != "" {
		typ = webrtc.NewSDPType(answer.Type)
	}
	if typ != webrtc.SDPTypeAnswer {
		return fmt.Errorf("expected answer, got %q", answer.Type)
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: answer.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (p *PionPeer) OnStateChange(fn func(PeerState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

// Close stops the pump and closes the connection. It does not close the stream.
func (p *PionPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	err := p.pc.Close()
	p.wg.Wait()
	return err
}

func (p *PionPeer) handleState(s webrtc.PeerConnectionState) {
	ps := mapPeerState(s)

	p.mu.Lock()
	fn := p.onState
	startPump := ps == PeerConnected && !p.pumping && !p.closed && p.stream != nil
	if startPump {
		p.pumping = true
		p.wg.Add(1)
	}
	st := p.stream
	p.mu.Unlock()

	if startPump {
		go p.pump(st)
	}
	if fn != nil {
		fn(ps)
	}
}

// pump reads 20 ms frames from st and writes them as PCMU samples.
func (p *PionPeer) pump(st media.Stream) {
	defer p.wg.Done()

	f := st.Format()
	frame := make([]int16, f.SamplesPer(int(frameLength.Milliseconds())))
	for {
		select {
		case <-p.done:
			return
		default:
		}

		n, err := readFrame(st, frame)
		if n > 0 {
			data := EncodePCMU(frame[:n], f)
			if werr := p.track.WriteSample(pionmedia.Sample{Data: data, Duration: frameLength}); werr != nil {
				if errors.Is(werr, io.ErrClosedPipe) {
					return
				}
				p.log.Warn("write sample failed", logging.Err(werr))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.Warn("audio pump stopped", logging.Err(err))
			}
			return
		}
	}
}

func readFrame(st media.Stream, frame []int16) (int, error) {
	total := 0
	for total < len(frame) {
		n, err := st.Read(frame[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func mapPeerState(s webrtc.PeerConnectionState) PeerState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return PeerConnecting
	case webrtc.PeerConnectionStateConnected:
		return PeerConnected
	case webrtc.PeerConnectionStateDisconnected:
		return PeerDisconnected
	case webrtc.PeerConnectionStateFailed:
		return PeerFailed
	case webrtc.PeerConnectionStateClosed:
		return PeerClosed
	default:
		return PeerNew
	}
}
