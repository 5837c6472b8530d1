package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jwulff/steno-live/internal/api"
	"github.com/jwulff/steno-live/internal/app"
	"github.com/jwulff/steno-live/internal/capture"
	"github.com/jwulff/steno-live/internal/channel"
	"github.com/jwulff/steno-live/internal/config"
	"github.com/jwulff/steno-live/internal/db"
	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/model"
	"github.com/jwulff/steno-live/internal/playback"
	"github.com/jwulff/steno-live/internal/session"
	"github.com/jwulff/steno-live/internal/transport"
	"github.com/jwulff/steno-live/internal/upload"
)

// Live command flags.
var (
	recordDevice string
	recordSecond string
	recordName   string
	recordWAVDir string
	uploadName   string
)

const (
	playbackTick   = 100 * time.Millisecond
	defaultSession = "Meeting"
)

func newRecordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a new session and follow it live",
		Long: `Create a session, then open the live view. Press space to start and
stop capture.

Audio goes over WebRTC. If the connection cannot be established, capture
is spooled to a local WAV file and uploaded in chunks when you stop.

Examples:
  stenolive record
  stenolive record --device "pa:MacBook Pro Microphone" --second-device "pa:BlackHole 2ch"
  stenolive record --device file:./fixtures/meeting.wav --name "Replay"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&recordDevice, "device", "d", "", "Capture device ID (default input when empty)")
	cmd.Flags().StringVar(&recordSecond, "second-device", "", "Second device mixed into the capture")
	cmd.Flags().StringVarP(&recordName, "name", "n", defaultSession, "Session name")
	cmd.Flags().StringVar(&recordWAVDir, "wav-dir", "", "Directory of WAV files usable as devices")
	return cmd
}

func newUploadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a recording and follow its processing",
		Long: `Create a session, upload a pre-recorded file in chunks and open the
live view while the server processes it.

Examples:
  stenolive upload meeting.wav
  stenolive upload standup.mp3 --name "Standup"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd.Context(), args[0])
		},
	}
	cmd.Flags().StringVarP(&uploadName, "name", "n", "", "Session name (default: file name)")
	return cmd
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [session-id]",
		Short: "Follow an existing session",
		Long: `Open the live view for a session that is already recording or
processing. Without an argument the most recent unfinished session in the
local cache is used.

Examples:
  stenolive watch 0d1c9a7e-...
  stenolive watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return runWatch(cmd.Context(), id)
		},
	}
}

// liveDeps are shared by every command that opens the live view.
type liveDeps struct {
	client *api.Client
	store  *db.Store
}

func openLiveDeps() (*liveDeps, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	return &liveDeps{client: client, store: openStore()}, nil
}

func (d *liveDeps) Close() {
	if d.store != nil {
		_ = d.store.Close()
	}
}

// openStore opens the local cache. The views work without it.
func openStore() *db.Store {
	store, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Warn("local cache unavailable", logging.F("path", cfg.DBPath), logging.Err(err))
		return nil
	}
	return store
}

func (d *liveDeps) remember(sess model.Session) {
	if d.store == nil {
		return
	}
	if err := d.store.UpsertSession(sess); err != nil {
		log.Warn("caching session failed", logging.F("session_id", sess.ID), logging.Err(err))
	}
}

// appConfig wires the live model to the server and cache.
func (d *liveDeps) appConfig(sess model.Session, machine *session.Machine) app.Config {
	client, id := d.client, sess.ID
	ac := app.Config{
		SessionID:   id,
		SessionName: sess.Name,
		Machine:     machine,
		Log:         log,
		Dial: func(ctx context.Context) (app.EventSource, error) {
			ch, err := channel.Connect(ctx, client.EventsURL(id), id, channel.Options{
				Header:  client.AuthHeader(),
				Log:     log,
				Metrics: stats,
			})
			if err != nil {
				return nil, err
			}
			return ch, nil
		},
		LoadAudio: func(ctx context.Context) (app.AudioPlayer, error) {
			return loadAudio(ctx, client, id)
		},
		Snapshot: func(ctx context.Context) (app.Snapshot, error) {
			return loadSnapshot(ctx, client, id)
		},
	}
	if d.store != nil {
		ac.Cache = d.store
	}
	return ac
}

func loadAudio(ctx context.Context, client *api.Client, sessionID string) (app.AudioPlayer, error) {
	body, err := client.Audio(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	b, err := playback.OpenBeep(body, playbackTick, log)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// loadSnapshot fetches topics and, when available, the waveform. A missing
// waveform is normal for a session still recording.
func loadSnapshot(ctx context.Context, client *api.Client, sessionID string) (app.Snapshot, error) {
	topics, err := client.Topics(ctx, sessionID)
	if err != nil {
		return app.Snapshot{}, err
	}
	snap := app.Snapshot{Topics: topics}
	w, err := client.Waveform(ctx, sessionID)
	var se *api.StatusError
	switch {
	case err == nil:
		snap.Waveform = &w
	case errors.As(err, &se) && se.Code == http.StatusNotFound:
	default:
		log.Debug("waveform not loaded", logging.Err(err))
	}
	return snap, nil
}

// newPipeline builds capture for sessionID. Progress is forwarded to the
// program once it exists.
func newPipeline(client *api.Client, source capture.Acquirer, sessionID string, machine *session.Machine, program **tea.Program) (*capture.Pipeline, error) {
	spoolDir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	spoolDir = filepath.Join(spoolDir, "spool")
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spool dir: %w", err)
	}

	neg := transport.NewNegotiator(client, transport.NewPionPeerFactory(cfg.ICEServers, log),
		transport.WithTimeout(cfg.NegotiationTimeout),
		transport.WithLogger(log),
		transport.WithMetrics(stats),
	)
	up := upload.New(client,
		upload.WithChunkSize(cfg.ChunkSizeBytes),
		upload.WithLogger(log),
		upload.WithMetrics(stats),
	)
	return capture.New(sessionID, source, neg, up, machine, capture.Options{
		SpoolDir: spoolDir,
		Log:      log,
		OnProgress: func(p upload.Progress) {
			if *program != nil {
				(*program).Send(app.UploadProgressMsg{Progress: p})
			}
		},
	}), nil
}

func runProgram(ctx context.Context, m tea.Model) (*tea.Program, func() error) {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	return p, func() error {
		_, err := p.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	}
}

func runRecord(ctx context.Context) error {
	deps, err := openLiveDeps()
	if err != nil {
		return err
	}
	defer deps.Close()

	sess, err := deps.client.CreateSession(ctx, recordName)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	deps.remember(sess)
	log.Info("session created", logging.F("session_id", sess.ID))

	source, closeSource := newSource(recordWAVDir, true)
	defer closeSource()

	machine := session.New(log, stats)
	var program *tea.Program
	pipeline, err := newPipeline(deps.client, source, sess.ID, machine, &program)
	if err != nil {
		return err
	}

	ac := deps.appConfig(sess, machine)
	ac.Recorder = pipeline
	ac.DeviceID = recordDevice
	ac.SecondDeviceID = recordSecond
	ac.Snapshot = nil

	var run func() error
	program, run = runProgram(ctx, app.New(ac))
	if err := run(); err != nil {
		return err
	}
	fmt.Printf("Session %s: %s\n", sess.ID, machine.Status())
	return nil
}

func runUpload(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	deps, err := openLiveDeps()
	if err != nil {
		return err
	}
	defer deps.Close()

	name := uploadName
	if name == "" {
		name = filepath.Base(path)
	}
	sess, err := deps.client.CreateSession(ctx, name)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	deps.remember(sess)

	machine := session.New(log, stats)
	var program *tea.Program
	pipeline, err := newPipeline(deps.client, nil, sess.ID, machine, &program)
	if err != nil {
		return err
	}

	ac := deps.appConfig(sess, machine)
	ac.Snapshot = nil

	var run func() error
	program, run = runProgram(ctx, app.New(ac))
	go func() {
		err := pipeline.Upload(ctx, path)
		program.Send(app.StopResultMsg{Err: err})
	}()
	if err := run(); err != nil {
		return err
	}
	fmt.Printf("Session %s: %s\n", sess.ID, machine.Status())
	return nil
}

func runWatch(ctx context.Context, sessionID string) error {
	deps, err := openLiveDeps()
	if err != nil {
		return err
	}
	defer deps.Close()

	if sessionID == "" {
		if deps.store == nil {
			return fmt.Errorf("no session given and no local cache")
		}
		cached, err := deps.store.ActiveSession()
		if err != nil {
			return err
		}
		if cached == nil {
			return fmt.Errorf("no unfinished session in the local cache")
		}
		sessionID = cached.ID
	}

	sess, err := deps.client.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	deps.remember(sess)

	machine := session.Resume(sess.Status, log, stats)
	_, run := runProgram(ctx, app.New(deps.appConfig(sess, machine)))
	return run()
}
