package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/jwulff/steno-live/internal/config"
	"github.com/jwulff/steno-live/internal/db"
	"github.com/jwulff/steno-live/internal/model"
	"github.com/jwulff/steno-live/internal/participant"
)

func TestVersionCommand(t *testing.T) {
	if versionCmd.Use != "version" {
		t.Errorf("Unexpected Use: %s", versionCmd.Use)
	}
	if versionCmd.Short != "Print version information" {
		t.Errorf("Unexpected Short: %s", versionCmd.Short)
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	want := []string{"version", "devices", "record", "upload", "watch", "correct", "participants", "assign", "mcp"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("subcommand %q not registered", name)
		}
	}

	for _, name := range []string{"list", "add", "rm"} {
		cmd, _, err := rootCmd.Find([]string{"participants", name})
		if err != nil || cmd.Name() != name {
			t.Errorf("participants %s not registered", name)
		}
	}
}

func TestPersistentFlags(t *testing.T) {
	for _, name := range []string{"server", "token", "log-level", "log-json", "metrics-addr", "db"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("--%s flag not found", name)
		}
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg = config.DefaultConfig()
	serverURL, dbPath = "https://steno.example.com", "/tmp/x.db"
	defer func() { serverURL, dbPath = "", "" }()

	applyFlagOverrides(rootCmd)

	if cfg.ServerURL != "https://steno.example.com" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.DBPath != "/tmp/x.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Token != "" {
		t.Errorf("Token = %q, unset flags must not override", cfg.Token)
	}
}

func TestOwnsTerminal(t *testing.T) {
	tests := map[string]bool{
		"record":  true,
		"watch":   true,
		"mcp":     true,
		"devices": false,
		"assign":  false,
	}
	for name, want := range tests {
		if got := ownsTerminal(&cobra.Command{Use: name}); got != want {
			t.Errorf("ownsTerminal(%s) = %v, want %v", name, got, want)
		}
	}
}

func TestResolveSessionIDFromCache(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if _, err := resolveSessionID(store, ""); err == nil {
		t.Error("empty cache should be an error")
	}
	if err := store.UpsertSession(model.Session{ID: "s1", Name: "Standup", Status: model.StatusEnded}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	id, err := resolveSessionID(store, "")
	if err != nil || id != "s1" {
		t.Errorf("resolveSessionID = %q, %v", id, err)
	}
	id, err = resolveSessionID(nil, "explicit")
	if err != nil || id != "explicit" {
		t.Errorf("explicit id = %q, %v", id, err)
	}
}

type fakeCache struct {
	cached []model.Participant
	stored []model.Participant
}

func (c *fakeCache) ReplaceParticipants(sessionID string, ps []model.Participant) error {
	c.stored = ps
	return nil
}

func (c *fakeCache) ParticipantsForSession(sessionID string) ([]model.Participant, error) {
	return c.cached, nil
}

type offlineBackend struct{}

func (offlineBackend) Participants(ctx context.Context, sessionID string) ([]model.Participant, error) {
	return nil, errors.New("connection refused")
}

func (offlineBackend) CreateParticipant(ctx context.Context, sessionID, name string, speaker *int) (model.Participant, error) {
	return model.Participant{}, errors.New("connection refused")
}

func (offlineBackend) DeleteParticipant(ctx context.Context, sessionID, id string) error {
	return errors.New("connection refused")
}

func (offlineBackend) AssignSpeaker(ctx context.Context, sessionID string, req model.SpeakerAssignment) error {
	return errors.New("connection refused")
}

func (offlineBackend) TopicWords(ctx context.Context, sessionID, topicID string) (model.TopicWords, error) {
	return model.TopicWords{}, errors.New("connection refused")
}

func TestParticipantListFallsBackToCache(t *testing.T) {
	cache := &fakeCache{cached: []model.Participant{{ID: "p1", Name: "Ada", Speaker: 0}}}
	svc := &participantService{Service: participant.New(offlineBackend{}, nil, nil), store: cache}

	ps, err := svc.list(context.Background(), "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ps) != 1 || ps[0].Name != "Ada" {
		t.Errorf("participants = %+v", ps)
	}

	svc.store = &fakeCache{}
	if _, err := svc.list(context.Background(), "s1"); err == nil {
		t.Error("empty cache should surface the server error")
	}
}
