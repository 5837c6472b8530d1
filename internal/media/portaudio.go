package media

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	slerrors "github.com/jwulff/steno-live/internal/errors"
)

const (
	portAudioPrefix = "pa:"
	// framesPerBuffer at 48 kHz is 20 ms.
	framesPerBuffer = 960
)

// PortAudioBackend captures from host audio devices.
type PortAudioBackend struct {
	mu          sync.Mutex
	initialized bool
}

// NewPortAudioBackend initializes the PortAudio host library.
// Terminate must be called once the backend is no longer used.
func NewPortAudioBackend() (*PortAudioBackend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return &PortAudioBackend{initialized: true}, nil
}

// Terminate releases the host library.
func (b *PortAudioBackend) Terminate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil
	}
	b.initialized = false
	return portaudio.Terminate()
}

func (b *PortAudioBackend) Name() string { return "portaudio" }

func (b *PortAudioBackend) Handles(deviceID string) bool {
	return strings.HasPrefix(deviceID, portAudioPrefix)
}

// Devices lists host devices with at least one input channel.
func (b *PortAudioBackend) Devices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var out []Device
	for _, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		out = append(out, Device{
			ID:      portAudioPrefix + info.Name,
			Label:   info.Name,
			Kind:    classifyKind(info.Name),
			Default: def != nil && def.Name == info.Name,
		})
	}
	return out, nil
}

// Open starts a blocking input stream on the named device, or the host
// default input when deviceID is empty.
func (b *PortAudioBackend) Open(deviceID string, f Format) (Stream, error) {
	info, err := b.lookup(strings.TrimPrefix(deviceID, portAudioPrefix))
	if err != nil {
		return nil, err
	}

	channels := f.Channels
	if channels > info.MaxInputChannels {
		channels = info.MaxInputChannels
	}

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = channels
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = framesPerBuffer * f.SampleRate / 48000

	buf := make([]int16, params.FramesPerBuffer*channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, classifyPortAudio("open", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, classifyPortAudio("start", err)
	}

	return &portAudioStream{
		stream: stream,
		buf:    buf,
		format: Format{SampleRate: f.SampleRate, Channels: channels},
	}, nil
}

func (b *PortAudioBackend) lookup(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, classifyPortAudio("default input", err)
		}
		return info, nil
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, classifyPortAudio("devices", err)
	}
	for _, info := range infos {
		if info.Name == name && info.MaxInputChannels > 0 {
			return info, nil
		}
	}
	return nil, slerrors.New(slerrors.KindDeviceUnavailable, "lookup",
		fmt.Sprintf("no input device named %q", name), nil)
}

func classifyPortAudio(stage string, err error) error {
	var paErr portaudio.Error
	if errors.As(err, &paErr) {
		switch paErr {
		case portaudio.InvalidDevice, portaudio.DeviceUnavailable,
			portaudio.InvalidChannelCount, portaudio.InvalidSampleRate:
			return slerrors.New(slerrors.KindDeviceUnavailable, stage, "", err)
		}
	}
	return slerrors.New(slerrors.KindPermissionDenied, stage, "host refused input", err)
}

type portAudioStream struct {
	format Format

	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	pending []int16
	closed  bool
}

func (s *portAudioStream) Format() Format { return s.format }

func (s *portAudioStream) Read(p []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.EOF
	}
	if len(s.pending) == 0 {
		if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return 0, fmt.Errorf("portaudio read: %w", err)
		}
		s.pending = s.buf
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *portAudioStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	stopErr := s.stream.Stop()
	return errors.Join(stopErr, s.stream.Close())
}
