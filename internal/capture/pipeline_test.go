package capture

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	slerrors "github.com/jwulff/steno-live/internal/errors"
	"github.com/jwulff/steno-live/internal/media"
	"github.com/jwulff/steno-live/internal/model"
	"github.com/jwulff/steno-live/internal/session"
	"github.com/jwulff/steno-live/internal/transport"
	"github.com/jwulff/steno-live/internal/upload"
)

var testFormat = media.Format{SampleRate: 16000, Channels: 1}

type testBackend struct {
	openErr error
	opened  []*media.SliceStream
}

func (b *testBackend) Name() string                 { return "test" }
func (b *testBackend) Handles(deviceID string) bool { return strings.HasPrefix(deviceID, "test:") }
func (b *testBackend) Devices() ([]media.Device, error) {
	return []media.Device{{ID: "test:mic", Label: "Mic", Default: true}}, nil
}

func (b *testBackend) Open(deviceID string, f media.Format) (media.Stream, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	samples := make([]int16, f.SamplesPer(100))
	for i := range samples {
		samples[i] = int16(i % 200)
	}
	s := media.NewSliceStream(f, samples)
	b.opened = append(b.opened, s)
	return s, nil
}

type fakeNegotiator struct {
	mu       sync.Mutex
	startErr error
	started  media.Stream
	closed   int
	listener func(transport.State, error)
}

func (n *fakeNegotiator) Start(ctx context.Context, st media.Stream, sessionID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = st
	return n.startErr
}

func (n *fakeNegotiator) OnStateChange(fn func(transport.State, error)) {
	n.mu.Lock()
	n.listener = fn
	n.mu.Unlock()
}

func (n *fakeNegotiator) Close() error {
	n.mu.Lock()
	n.closed++
	n.mu.Unlock()
	return nil
}

func (n *fakeNegotiator) emit(s transport.State, err error) {
	n.mu.Lock()
	fn := n.listener
	n.mu.Unlock()
	fn(s, err)
}

type fakeUploader struct {
	mu      sync.Mutex
	paths   []string
	sizes   []int64
	err     error
	block   bool
	started chan struct{}
}

func (u *fakeUploader) UploadPath(ctx context.Context, path, sessionID string, progress func(upload.Progress)) error {
	info, statErr := os.Stat(path)
	u.mu.Lock()
	u.paths = append(u.paths, path)
	if statErr == nil {
		u.sizes = append(u.sizes, info.Size())
	}
	u.mu.Unlock()

	if u.block {
		close(u.started)
		<-ctx.Done()
		return slerrors.New(slerrors.KindUploadFailed, "chunk 0", "", ctx.Err())
	}
	if u.err != nil {
		return u.err
	}
	if progress != nil {
		progress(upload.Progress{BytesAcknowledged: info.Size(), TotalBytes: info.Size(), Percent: 100})
	}
	return nil
}

type harness struct {
	backend  *testBackend
	source   *media.Source
	neg      *fakeNegotiator
	up       *fakeUploader
	machine  *session.Machine
	pipeline *Pipeline
	sub      *countingSub
}

type countingSub struct{ cancelled int }

func (s *countingSub) Cancel() { s.cancelled++ }

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend: &testBackend{},
		neg:     &fakeNegotiator{},
		up:      &fakeUploader{},
		machine: session.New(nil, nil),
		sub:     &countingSub{},
	}
	h.source = media.NewSource(testFormat, nil, h.backend)
	h.pipeline = New("sess-1", h.source, h.neg, h.up, h.machine, Options{SpoolDir: t.TempDir()})
	h.pipeline.Track(h.sub)
	return h
}

func TestRecordLiveThenStop(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.pipeline.Record(context.Background(), "test:mic", ""))
	assert.Equal(t, ModeLive, h.pipeline.Mode())
	assert.Equal(t, model.StatusRecording, h.machine.Status())
	assert.NotNil(t, h.neg.started)

	require.NoError(t, h.pipeline.Stop(context.Background()))
	assert.Equal(t, model.StatusProcessing, h.machine.Status())
	assert.True(t, h.backend.opened[0].Closed(), "track stopped")
	assert.Equal(t, 0, h.source.Held())
	assert.Equal(t, 1, h.neg.closed)
	assert.Equal(t, 1, h.sub.cancelled)
	assert.Empty(t, h.up.paths)
}

func TestRecordFallsBackToSpoolAndUploadsOnStop(t *testing.T) {
	h := newHarness(t)
	h.neg.startErr = slerrors.New(slerrors.KindNegotiationFailed, "signaling", "", errors.New("502"))

	var progress []upload.Progress
	h.pipeline.opts.OnProgress = func(p upload.Progress) { progress = append(progress, p) }

	require.NoError(t, h.pipeline.Record(context.Background(), "test:mic", ""))
	assert.Equal(t, ModeSpool, h.pipeline.Mode())
	assert.Equal(t, model.StatusRecording, h.machine.Status())

	require.NoError(t, h.pipeline.Stop(context.Background()))
	assert.Equal(t, model.StatusProcessing, h.machine.Status())

	require.Len(t, h.up.paths, 1)
	assert.Greater(t, h.up.sizes[0], int64(44), "spooled WAV has audio after the header")
	_, err := os.Stat(h.up.paths[0])
	assert.True(t, os.IsNotExist(err), "spool file removed after upload")
	require.Len(t, progress, 1)
	assert.True(t, progress[0].Done())
}

func TestSpoolUploadFailureEndsInError(t *testing.T) {
	h := newHarness(t)
	h.neg.startErr = slerrors.New(slerrors.KindNegotiationFailed, "connect", "", nil)
	h.up.err = slerrors.New(slerrors.KindUploadFailed, "chunk 2", "", errors.New("500"))

	require.NoError(t, h.pipeline.Record(context.Background(), "test:mic", ""))
	err := h.pipeline.Stop(context.Background())
	assert.ErrorIs(t, err, slerrors.ErrUploadFailed)
	assert.Equal(t, model.StatusError, h.machine.Status())
	assert.Equal(t, 1, h.sub.cancelled, "observers cancelled even when upload fails")
}

func TestRecordAcquireFailure(t *testing.T) {
	h := newHarness(t)
	h.backend.openErr = slerrors.New(slerrors.KindPermissionDenied, "open", "", nil)

	err := h.pipeline.Record(context.Background(), "test:mic", "")
	assert.ErrorIs(t, err, slerrors.ErrPermissionDenied)
	assert.Equal(t, model.StatusError, h.machine.Status())
	assert.Nil(t, h.neg.started, "no negotiation without a stream")
}

func TestRecordOtherNegotiationErrorDoesNotFallBack(t *testing.T) {
	h := newHarness(t)
	h.neg.startErr = context.Canceled

	err := h.pipeline.Record(context.Background(), "test:mic", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.StatusError, h.machine.Status())
	assert.Equal(t, 0, h.source.Held())
	assert.Equal(t, ModeNone, h.pipeline.Mode())
}

func TestRecordMixesSecondDevice(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.pipeline.Record(context.Background(), "test:mic", "test:system"))
	assert.Len(t, h.backend.opened, 2)
	assert.Equal(t, 2, h.source.Held())

	require.NoError(t, h.pipeline.Stop(context.Background()))
	assert.Equal(t, 0, h.source.Held())
}

func TestTransportFailureWhileRecordingReleasesCapture(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.pipeline.Record(context.Background(), "test:mic", ""))

	h.neg.emit(transport.StateError, slerrors.New(slerrors.KindNegotiationFailed, "peer", "", nil))
	assert.Equal(t, model.StatusError, h.machine.Status())
	assert.Equal(t, 0, h.source.Held(), "tracks stopped without Stop")
	assert.Equal(t, 1, h.neg.closed)
	assert.Equal(t, 1, h.sub.cancelled)
	assert.False(t, h.pipeline.Active())

	err := h.pipeline.Stop(context.Background())
	assert.ErrorIs(t, err, slerrors.ErrInvalidTransition, "error is terminal")
	assert.Equal(t, 1, h.neg.closed, "no second close")
}

func TestSessionErrorDiscardsSpool(t *testing.T) {
	h := newHarness(t)
	h.neg.startErr = slerrors.New(slerrors.KindNegotiationFailed, "connect", "", nil)
	require.NoError(t, h.pipeline.Record(context.Background(), "test:mic", ""))
	require.Equal(t, ModeSpool, h.pipeline.Mode())

	require.NoError(t, h.machine.ApplyServerStatus(model.StatusError))
	assert.Equal(t, 0, h.source.Held())
	assert.Equal(t, ModeNone, h.pipeline.Mode())
	assert.Empty(t, h.up.paths, "failed session is not uploaded")

	entries, err := os.ReadDir(h.pipeline.opts.SpoolDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "spool file removed")
}

func TestSessionErrorCancelsUpload(t *testing.T) {
	h := newHarness(t)
	h.up.block = true
	h.up.started = make(chan struct{})
	path := t.TempDir() + "/meeting.wav"
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	errc := make(chan error, 1)
	go func() { errc <- h.pipeline.Upload(context.Background(), path) }()
	<-h.up.started

	require.NoError(t, h.machine.Fail(errors.New("channel lost")))
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, slerrors.ErrUploadFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("upload not cancelled")
	}
}

func TestStopWithoutRecording(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.pipeline.Stop(context.Background()), slerrors.ErrInvalidTransition)
}

func TestUploadFile(t *testing.T) {
	h := newHarness(t)
	path := t.TempDir() + "/meeting.wav"
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVE"), 0o644))

	var seen []model.Status
	h.machine.OnTransition(func(from, to model.Status) { seen = append(seen, to) })

	require.NoError(t, h.pipeline.Upload(context.Background(), path))
	assert.Equal(t, []model.Status{model.StatusRecording, model.StatusProcessing}, seen)
	assert.Equal(t, []string{path}, h.up.paths)
	assert.Equal(t, ModeNone, h.pipeline.Mode())
}

func TestUploadMissingFile(t *testing.T) {
	h := newHarness(t)
	err := h.pipeline.Upload(context.Background(), "/nonexistent/file.wav")
	assert.ErrorIs(t, err, slerrors.ErrUploadFailed)
	assert.Equal(t, model.StatusIdle, h.machine.Status())
}

func TestStopAbortsUpload(t *testing.T) {
	h := newHarness(t)
	h.up.block = true
	h.up.started = make(chan struct{})
	path := t.TempDir() + "/meeting.wav"
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	errc := make(chan error, 1)
	go func() { errc <- h.pipeline.Upload(context.Background(), path) }()
	<-h.up.started

	require.NoError(t, h.pipeline.Stop(context.Background()))
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, slerrors.ErrUploadFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("upload did not return")
	}
	assert.Equal(t, model.StatusError, h.machine.Status())
}
