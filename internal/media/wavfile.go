package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	slerrors "github.com/jwulff/steno-live/internal/errors"
)

const filePrefix = "file:"

// WAVBackend plays 16-bit PCM WAV files as if they were live devices.
type WAVBackend struct {
	// Dir is listed by Devices. Empty lists nothing.
	Dir string
	// Realtime paces reads to the file's sample rate.
	Realtime bool

	now   func() time.Time
	sleep func(time.Duration)
}

// NewWAVBackend creates a file backend.
func NewWAVBackend(dir string, realtime bool) *WAVBackend {
	return &WAVBackend{Dir: dir, Realtime: realtime, now: time.Now, sleep: time.Sleep}
}

// FileDeviceID returns the device ID for a WAV path.
func FileDeviceID(path string) string {
	return filePrefix + path
}

func (b *WAVBackend) Name() string { return "wav" }

func (b *WAVBackend) Handles(deviceID string) bool {
	return strings.HasPrefix(deviceID, filePrefix)
}

// Devices lists the .wav files in Dir.
func (b *WAVBackend) Devices() ([]Device, error) {
	if b.Dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(b.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", b.Dir, err)
	}
	var out []Device
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		path := filepath.Join(b.Dir, e.Name())
		out = append(out, Device{ID: FileDeviceID(path), Label: e.Name(), Kind: KindFile})
	}
	return out, nil
}

// Open decodes the file header and returns a stream over its samples.
// The requested format is ignored; the stream reports the file's own format.
func (b *WAVBackend) Open(deviceID string, _ Format) (Stream, error) {
	path := strings.TrimPrefix(deviceID, filePrefix)
	f, err := os.Open(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, slerrors.New(slerrors.KindPermissionDenied, "open", path, err)
		default:
			return nil, slerrors.New(slerrors.KindDeviceUnavailable, "open", path, err)
		}
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, slerrors.New(slerrors.KindDeviceUnavailable, "decode", path+" is not a valid WAV file", dec.Err())
	}
	if dec.NumChans == 0 {
		f.Close()
		return nil, slerrors.New(slerrors.KindDeviceUnavailable, "decode", path+" has no audio tracks", nil)
	}
	if dec.BitDepth != 16 {
		f.Close()
		return nil, slerrors.New(slerrors.KindDeviceUnavailable, "decode",
			fmt.Sprintf("%s is %d-bit, want 16-bit PCM", path, dec.BitDepth), nil)
	}

	now, sleep := b.now, b.sleep
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = time.Sleep
	}

	return &wavStream{
		file:     f,
		dec:      dec,
		format:   Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)},
		realtime: b.Realtime,
		now:      now,
		sleep:    sleep,
	}, nil
}

type wavStream struct {
	format   Format
	realtime bool
	now      func() time.Time
	sleep    func(time.Duration)

	mu      sync.Mutex
	file    *os.File
	dec     *wav.Decoder
	buf     *audio.IntBuffer
	started time.Time
	emitted int
	closed  bool
}

func (s *wavStream) Format() Format { return s.format }

func (s *wavStream) Read(p []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if s.buf == nil || cap(s.buf.Data) < len(p) {
		s.buf = &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: s.format.Channels, SampleRate: s.format.SampleRate},
			Data:           make([]int, len(p)),
			SourceBitDepth: 16,
		}
	}
	s.buf.Data = s.buf.Data[:len(p)]

	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("wav read: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	for i := 0; i < n; i++ {
		p[i] = int16(s.buf.Data[i])
	}

	if s.realtime {
		s.pace(n)
	}
	return n, nil
}

// pace sleeps until the wall clock catches up with the samples emitted.
func (s *wavStream) pace(n int) {
	if s.started.IsZero() {
		s.started = s.now()
	}
	s.emitted += n
	perSecond := s.format.SampleRate * s.format.Channels
	due := s.started.Add(time.Duration(s.emitted) * time.Second / time.Duration(perSecond))
	if wait := due.Sub(s.now()); wait > 0 {
		s.sleep(wait)
	}
}

func (s *wavStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// WAVWriter spools interleaved int16 samples to a 16-bit PCM WAV file.
type WAVWriter struct {
	path   string
	format Format

	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	buf     *audio.IntBuffer
	written int64
	closed  bool
}

// CreateWAV creates path and writes a WAV header for format f.
func CreateWAV(path string, f Format) (*WAVWriter, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return &WAVWriter{
		path:   path,
		format: f,
		file:   file,
		enc:    wav.NewEncoder(file, f.SampleRate, 16, f.Channels, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
			SourceBitDepth: 16,
		},
	}, nil
}

// Path returns the file being written.
func (w *WAVWriter) Path() string { return w.path }

// Samples returns how many samples have been written.
func (w *WAVWriter) Samples() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Write appends samples.
func (w *WAVWriter) Write(samples []int16) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("wav writer closed")
	}
	if cap(w.buf.Data) < len(samples) {
		w.buf.Data = make([]int, len(samples))
	}
	w.buf.Data = w.buf.Data[:len(samples)]
	for i, v := range samples {
		w.buf.Data[i] = int(v)
	}
	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("wav write: %w", err)
	}
	w.written += int64(len(samples))
	return nil
}

// Close finalizes the header and closes the file.
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	encErr := w.enc.Close()
	return errors.Join(encErr, w.file.Close())
}

// Spool copies st into w until st ends. It does not close either side.
func Spool(st Stream, w *WAVWriter) error {
	frame := make([]int16, st.Format().SamplesPer(20))
	if len(frame) == 0 {
		frame = make([]int16, 320)
	}
	for {
		n, err := st.Read(frame)
		if n > 0 {
			if werr := w.Write(frame[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
