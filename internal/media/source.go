// Package media acquires audio streams from capture devices or files.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	slerrors "github.com/jwulff/steno-live/internal/errors"
	"github.com/jwulff/steno-live/internal/logging"
)

// DeviceKind distinguishes capture sources.
type DeviceKind string

const (
	KindMicrophone DeviceKind = "microphone"
	KindSystem     DeviceKind = "system"
	KindFile       DeviceKind = "file"
)

// Device is an enumerated capture device.
type Device struct {
	ID      string
	Label   string
	Kind    DeviceKind
	Default bool
}

// Format describes interleaved 16-bit PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// Validate rejects formats no backend can produce.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", f.Channels)
	}
	return nil
}

// SamplesPer returns the interleaved sample count covering ms milliseconds.
func (f Format) SamplesPer(ms int) int {
	return f.SampleRate * ms / 1000 * f.Channels
}

// Stream is a live source of interleaved int16 samples.
// Read blocks until samples are available and returns io.EOF once the
// stream has ended or been closed. Close stops every underlying track
// and is safe to call more than once.
type Stream interface {
	Format() Format
	Read(p []int16) (int, error)
	Close() error
}

// Backend enumerates and opens devices of one family.
type Backend interface {
	Name() string
	Handles(deviceID string) bool
	Devices() ([]Device, error)
	Open(deviceID string, f Format) (Stream, error)
}

// Source hands out streams from its backends and tracks every stream
// it has handed out until that stream is closed.
type Source struct {
	backends []Backend
	format   Format
	log      logging.Logger

	mu   sync.Mutex
	held map[*trackedStream]struct{}
}

// NewSource creates a Source. The first backend serves the empty device ID.
func NewSource(format Format, log logging.Logger, backends ...Backend) *Source {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Source{
		backends: backends,
		format:   format,
		log:      log,
		held:     make(map[*trackedStream]struct{}),
	}
}

// ListDevices returns the devices of every backend. A backend that fails
// to enumerate is logged and skipped.
func (s *Source) ListDevices() ([]Device, error) {
	var out []Device
	var firstErr error
	for _, b := range s.backends {
		devs, err := b.Devices()
		if err != nil {
			s.log.Warn("device enumeration failed", logging.F("backend", b.Name()), logging.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, devs...)
	}
	if len(out) == 0 && firstErr != nil {
		return nil, fmt.Errorf("listing devices: %w", firstErr)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Default && !out[j].Default
	})
	return out, nil
}

// Acquire opens deviceID. Failures are classified as ErrPermissionDenied
// or ErrDeviceUnavailable.
func (s *Source) Acquire(ctx context.Context, deviceID string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.format.Validate(); err != nil {
		return nil, slerrors.New(slerrors.KindDeviceUnavailable, "acquire", "bad capture format", err)
	}

	b := s.backendFor(deviceID)
	if b == nil {
		return nil, slerrors.New(slerrors.KindDeviceUnavailable, "acquire",
			fmt.Sprintf("no backend for device %q", deviceID), nil)
	}

	st, err := b.Open(deviceID, s.format)
	if err != nil {
		if errors.Is(err, slerrors.ErrPermissionDenied) || errors.Is(err, slerrors.ErrDeviceUnavailable) {
			return nil, fmt.Errorf("acquire %q: %w", deviceID, err)
		}
		return nil, slerrors.New(slerrors.KindDeviceUnavailable, "acquire", deviceID, err)
	}

	// The caller may have given up while the device was opening.
	if err := ctx.Err(); err != nil {
		_ = st.Close()
		return nil, err
	}

	ts := &trackedStream{Stream: st, owner: s}
	s.mu.Lock()
	s.held[ts] = struct{}{}
	s.mu.Unlock()

	s.log.Info("device acquired",
		logging.F("backend", b.Name()),
		logging.F("device", deviceID),
		logging.F("sample_rate", st.Format().SampleRate),
		logging.F("channels", st.Format().Channels))
	return ts, nil
}

// ReleaseAll closes every stream still held.
func (s *Source) ReleaseAll() error {
	s.mu.Lock()
	streams := make([]*trackedStream, 0, len(s.held))
	for ts := range s.held {
		streams = append(streams, ts)
	}
	s.mu.Unlock()

	var errs []error
	for _, ts := range streams {
		if err := ts.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Held reports how many acquired streams are still open.
func (s *Source) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

func (s *Source) backendFor(deviceID string) Backend {
	if deviceID == "" {
		if len(s.backends) == 0 {
			return nil
		}
		return s.backends[0]
	}
	for _, b := range s.backends {
		if b.Handles(deviceID) {
			return b
		}
	}
	return nil
}

func (s *Source) release(ts *trackedStream) {
	s.mu.Lock()
	delete(s.held, ts)
	s.mu.Unlock()
}

type trackedStream struct {
	Stream
	owner *Source
	once  sync.Once
	err   error
}

func (t *trackedStream) Close() error {
	t.once.Do(func() {
		t.err = t.Stream.Close()
		t.owner.release(t)
	})
	return t.err
}

// classifyKind guesses a device kind from a host device name.
func classifyKind(name string) DeviceKind {
	n := strings.ToLower(name)
	for _, marker := range []string{"monitor", "loopback", "stereo mix", "blackhole", "soundflower"} {
		if strings.Contains(n, marker) {
			return KindSystem
		}
	}
	return KindMicrophone
}

// SliceStream replays fixed samples, then reports io.EOF.
type SliceStream struct {
	format  Format
	mu      sync.Mutex
	samples []int16
	closed  bool
}

// NewSliceStream returns a Stream over samples.
func NewSliceStream(f Format, samples []int16) *SliceStream {
	return &SliceStream{format: f, samples: samples}
}

func (s *SliceStream) Format() Format { return s.format }

func (s *SliceStream) Read(p []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.samples) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.samples)
	s.samples = s.samples[n:]
	return n, nil
}

func (s *SliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called.
func (s *SliceStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
