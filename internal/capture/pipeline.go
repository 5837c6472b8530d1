// Package capture runs a recording from device acquisition to the server,
// over the real-time transport or, when that cannot be negotiated, through
// a spooled file and chunked upload.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	slerrors "github.com/jwulff/steno-live/internal/errors"
	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/media"
	"github.com/jwulff/steno-live/internal/model"
	"github.com/jwulff/steno-live/internal/session"
	"github.com/jwulff/steno-live/internal/transport"
	"github.com/jwulff/steno-live/internal/upload"
	"github.com/jwulff/steno-live/internal/waveform"
)

// Acquirer hands out capture streams.
type Acquirer interface {
	Acquire(ctx context.Context, deviceID string) (media.Stream, error)
	ReleaseAll() error
}

// Negotiator carries a stream over the real-time transport.
type Negotiator interface {
	Start(ctx context.Context, st media.Stream, sessionID string) error
	OnStateChange(fn func(transport.State, error))
	Close() error
}

// Uploader sends a finished file.
type Uploader interface {
	UploadPath(ctx context.Context, path, sessionID string, progress func(upload.Progress)) error
}

// Mode is how audio reaches the server.
type Mode string

const (
	ModeNone   Mode = ""
	ModeLive   Mode = "live"
	ModeSpool  Mode = "spool"
	ModeUpload Mode = "upload"
)

// Options configures a Pipeline.
type Options struct {
	// SpoolDir holds fallback recordings; empty uses os.TempDir.
	SpoolDir string
	// OnProgress receives upload progress in spool and upload modes.
	OnProgress func(upload.Progress)
	Log        logging.Logger
}

// Pipeline records one session.
type Pipeline struct {
	sessionID  string
	source     Acquirer
	negotiator Negotiator
	uploader   Uploader
	machine    *session.Machine
	opts       Options
	log        logging.Logger

	mu           sync.Mutex
	mode         Mode
	stream       media.Stream
	spool        *media.WAVWriter
	group        *errgroup.Group
	cancelUpload context.CancelFunc
	uploadDone   chan struct{}
	subs         []waveform.Subscription
}

// New creates a pipeline for sessionID. Transport failures after connect
// move machine to error, and any move to error releases capture.
func New(sessionID string, source Acquirer, neg Negotiator, up Uploader, machine *session.Machine, opts Options) *Pipeline {
	log := opts.Log
	if log == nil {
		log = logging.NewNopLogger()
	}
	p := &Pipeline{
		sessionID:  sessionID,
		source:     source,
		negotiator: neg,
		uploader:   up,
		machine:    machine,
		opts:       opts,
		log:        log.With(logging.F("session_id", sessionID), logging.F("component", "capture")),
	}
	if neg != nil {
		neg.OnStateChange(func(s transport.State, err error) {
			if s == transport.StateError && p.Mode() == ModeLive {
				_ = p.machine.Fail(err)
			}
		})
	}
	machine.OnTransition(func(from, to model.Status) {
		if to == model.StatusError {
			p.release()
		}
	})
	return p
}

// release drops whatever capture is running after the session failed.
// A spooled recording is discarded.
func (p *Pipeline) release() {
	p.mu.Lock()
	mode, cancel := p.mode, p.cancelUpload
	p.mu.Unlock()

	switch mode {
	case ModeLive, ModeSpool:
		if err := p.teardown(context.Background(), false); err != nil {
			p.log.Warn("releasing capture failed", logging.Err(err))
			return
		}
		p.log.Info("capture released", logging.F("mode", string(mode)))
	case ModeUpload:
		cancel()
	}
}

// Mode reports the active delivery mode.
func (p *Pipeline) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Active reports whether capture or an upload holds resources.
func (p *Pipeline) Active() bool {
	return p.Mode() != ModeNone
}

// Track registers a playback observer to cancel on Stop.
func (p *Pipeline) Track(sub waveform.Subscription) {
	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()
}

// Record acquires deviceID (mixed with secondDeviceID when set) and starts
// delivering it. The session enters recording only once audio is flowing
// to the transport or the spool file.
func (p *Pipeline) Record(ctx context.Context, deviceID, secondDeviceID string) error {
	if s := p.machine.Status(); s != model.StatusIdle {
		return slerrors.New(slerrors.KindInvalidTransition, "record", fmt.Sprintf("session is %s", s), nil)
	}

	st, err := p.acquire(ctx, deviceID, secondDeviceID)
	if err != nil {
		_ = p.machine.Fail(err)
		return err
	}

	mode := ModeLive
	var spool *media.WAVWriter
	var group *errgroup.Group
	if err := p.negotiator.Start(ctx, st, p.sessionID); err != nil {
		if !errors.Is(err, slerrors.ErrNegotiationFailed) {
			p.abortRecord(st, err)
			return err
		}
		p.log.Warn("transport unavailable, recording to file for upload", logging.Err(err))
		_ = p.negotiator.Close()

		spool, err = p.createSpool(st.Format())
		if err != nil {
			p.abortRecord(st, err)
			return err
		}
		group = new(errgroup.Group)
		group.Go(func() error { return media.Spool(st, spool) })
		mode = ModeSpool
	}

	p.mu.Lock()
	p.mode = mode
	p.stream = st
	p.spool = spool
	p.group = group
	p.mu.Unlock()

	if err := p.machine.StartRecording(); err != nil {
		_ = p.teardown(context.Background(), false)
		return err
	}
	p.log.Info("recording", logging.F("mode", string(mode)))
	return nil
}

// Upload sends a pre-recorded file. Stop aborts it.
func (p *Pipeline) Upload(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return slerrors.New(slerrors.KindUploadFailed, "open", path, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)

	p.mu.Lock()
	if p.mode != ModeNone {
		p.mu.Unlock()
		return slerrors.New(slerrors.KindInvalidTransition, "upload", "pipeline busy", nil)
	}
	p.mode = ModeUpload
	p.cancelUpload = cancel
	p.uploadDone = done
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.mode = ModeNone
		p.cancelUpload = nil
		p.mu.Unlock()
	}()

	if err := p.machine.StartRecording(); err != nil {
		return err
	}
	if err := p.uploader.UploadPath(ctx, path, p.sessionID, p.opts.OnProgress); err != nil {
		_ = p.machine.Fail(err)
		return err
	}
	return p.machine.StopRecording()
}

// Stop ends the recording: media tracks first, then the transport or the
// spooled upload, then playback observers. Every step runs even if an
// earlier one failed. In upload mode it aborts the upload instead.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	mode := p.mode
	cancel, done := p.cancelUpload, p.uploadDone
	p.mu.Unlock()

	switch mode {
	case ModeNone:
		return slerrors.New(slerrors.KindInvalidTransition, "stop", "not recording", nil)
	case ModeUpload:
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	err := p.teardown(ctx, true)
	if serr := p.machine.StopRecording(); serr != nil {
		err = errors.Join(err, serr)
	}
	if err != nil && errors.Is(err, slerrors.ErrUploadFailed) {
		_ = p.machine.Fail(err)
	}
	return err
}

// teardown releases everything Record set up. With deliver unset a spooled
// recording is discarded instead of uploaded.
func (p *Pipeline) teardown(ctx context.Context, deliver bool) error {
	p.mu.Lock()
	mode, st, spool, group, subs := p.mode, p.stream, p.spool, p.group, p.subs
	p.mode, p.stream, p.spool, p.group, p.subs = ModeNone, nil, nil, nil, nil
	p.mu.Unlock()

	var errs []error

	// (a) tracks
	if st != nil {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stream: %w", err))
		}
	}
	if err := p.source.ReleaseAll(); err != nil {
		errs = append(errs, fmt.Errorf("release devices: %w", err))
	}

	// (b) transport or spooled upload
	switch mode {
	case ModeLive:
		if err := p.negotiator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	case ModeSpool:
		if deliver {
			if err := p.finishSpool(ctx, group, spool); err != nil {
				errs = append(errs, err)
			}
		} else {
			_ = group.Wait()
			_ = spool.Close()
			_ = os.Remove(spool.Path())
		}
	}

	// (c) playback observers
	for _, sub := range subs {
		sub.Cancel()
	}

	return errors.Join(errs...)
}

func (p *Pipeline) finishSpool(ctx context.Context, group *errgroup.Group, spool *media.WAVWriter) error {
	spoolErr := group.Wait()
	closeErr := spool.Close()
	defer os.Remove(spool.Path())

	if err := errors.Join(spoolErr, closeErr); err != nil {
		return slerrors.New(slerrors.KindUploadFailed, "spool", "", err)
	}
	if spool.Samples() == 0 {
		return slerrors.New(slerrors.KindUploadFailed, "spool", "no audio captured", nil)
	}
	p.log.Info("uploading spooled recording", logging.F("samples", spool.Samples()))
	return p.uploader.UploadPath(ctx, spool.Path(), p.sessionID, p.opts.OnProgress)
}

func (p *Pipeline) acquire(ctx context.Context, deviceID, secondDeviceID string) (media.Stream, error) {
	st, err := p.source.Acquire(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if secondDeviceID == "" {
		return st, nil
	}
	second, err := p.source.Acquire(ctx, secondDeviceID)
	if err != nil {
		_ = p.source.ReleaseAll()
		return nil, err
	}
	mixed, err := media.Mix(st, second)
	if err != nil {
		_ = p.source.ReleaseAll()
		return nil, slerrors.New(slerrors.KindDeviceUnavailable, "mix", "", err)
	}
	return mixed, nil
}

func (p *Pipeline) createSpool(f media.Format) (*media.WAVWriter, error) {
	dir := p.opts.SpoolDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, slerrors.New(slerrors.KindUploadFailed, "spool", dir, err)
	}
	path := filepath.Join(dir, "stenolive-"+p.sessionID+".wav")
	w, err := media.CreateWAV(path, f)
	if err != nil {
		return nil, slerrors.New(slerrors.KindUploadFailed, "spool", "", err)
	}
	return w, nil
}

func (p *Pipeline) abortRecord(st media.Stream, cause error) {
	_ = st.Close()
	_ = p.source.ReleaseAll()
	_ = p.machine.Fail(cause)
}
