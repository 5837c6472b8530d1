package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jwulff/steno-live/internal/api"
	"github.com/jwulff/steno-live/internal/app"
	"github.com/jwulff/steno-live/internal/db"
	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/model"
	"github.com/jwulff/steno-live/internal/participant"
	"github.com/jwulff/steno-live/internal/waveform"
)

// Correct command flags.
var correctNoAudio bool

func newCorrectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct [session-id]",
		Short: "Fix speaker attribution in a finished session",
		Long: `Open the correction view for a session. Move the cursor through the
words, set an anchor with v, press enter to resolve the selection and a
digit to give that range to a participant.

Without an argument the most recent session in the local cache is used.
Topics fall back to the local cache when the server cannot be reached.

Examples:
  stenolive correct 0d1c9a7e-...
  stenolive correct --no-audio`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return runCorrect(cmd.Context(), id)
		},
	}
	cmd.Flags().BoolVar(&correctNoAudio, "no-audio", false, "Do not load audio for range playback")
	return cmd
}

func runCorrect(ctx context.Context, sessionID string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	store := openStore()
	if store != nil {
		defer store.Close()
	}

	sessionID, err = resolveSessionID(store, sessionID)
	if err != nil {
		return err
	}

	topics, err := loadTopics(ctx, client, store, sessionID)
	if err != nil {
		return err
	}

	var sync *waveform.Sync
	if !correctNoAudio {
		player, err := loadAudio(ctx, client, sessionID)
		if err != nil {
			log.Warn("audio unavailable, playback disabled", logging.Err(err))
		} else {
			defer player.Close()
			sync = waveform.New(player, log)
			if w, err := client.Waveform(ctx, sessionID); err == nil {
				sync.Render(w.Samples, w.DurationSeconds)
			}
		}
	}

	service := participant.New(client, log, stats)
	m := app.NewCorrection(app.CorrectionConfig{
		SessionID: sessionID,
		Topics:    topics,
		Service:   service,
		Sync:      sync,
		Log:       log,
	})
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && ctx.Err() == nil {
		return err
	}

	cacheParticipants(ctx, service, store, sessionID)
	return nil
}

// resolveSessionID falls back to the most recent cached session.
func resolveSessionID(store *db.Store, sessionID string) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}
	if store == nil {
		return "", fmt.Errorf("no session given and no local cache")
	}
	latest, err := store.LatestSession()
	if err != nil {
		return "", err
	}
	if latest == nil {
		return "", fmt.Errorf("no session in the local cache")
	}
	return latest.ID, nil
}

// loadTopics reads topics from the server and refreshes the cache, or
// reads the cache when the server fails.
func loadTopics(ctx context.Context, client *api.Client, store *db.Store, sessionID string) ([]model.TopicBoundary, error) {
	topics, err := client.Topics(ctx, sessionID)
	if err == nil {
		if store != nil {
			if cerr := store.ReplaceTopics(sessionID, topics); cerr != nil {
				log.Warn("caching topics failed", logging.Err(cerr))
			}
		}
		return topics, nil
	}
	if store == nil {
		return nil, fmt.Errorf("loading topics: %w", err)
	}
	cached, cerr := store.TopicsForSession(sessionID)
	if cerr != nil || len(cached) == 0 {
		return nil, fmt.Errorf("loading topics: %w", err)
	}
	log.Warn("server unavailable, using cached topics", logging.Err(err))
	out := make([]model.TopicBoundary, len(cached))
	for i, t := range cached {
		out[i] = t.TopicBoundary
	}
	return out, nil
}

func cacheParticipants(ctx context.Context, service *participant.Service, store *db.Store, sessionID string) {
	if store == nil {
		return
	}
	ps, err := service.List(ctx, sessionID)
	if err != nil {
		log.Warn("reading participants for cache failed", logging.Err(err))
		return
	}
	if err := store.ReplaceParticipants(sessionID, ps); err != nil {
		log.Warn("caching participants failed", logging.Err(err))
	}
}
