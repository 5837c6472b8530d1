package api

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// TestLiveServer creates a session on a real server and reads it back.
// Skipped unless STENOLIVE_LIVE_SERVER is set.
func TestLiveServer(t *testing.T) {
	base := os.Getenv("STENOLIVE_LIVE_SERVER")
	if base == "" {
		t.Skip("STENOLIVE_LIVE_SERVER not set")
	}

	c, err := New(base, WithToken(os.Getenv("STENOLIVE_TOKEN")))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := c.CreateSession(ctx, "stenolive smoke test")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	fmt.Printf("Created session: id=%s status=%s\n", s.ID, s.Status)

	got, err := c.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.ID != s.ID {
		t.Errorf("id = %q, want %q", got.ID, s.ID)
	}

	topics, err := c.Topics(ctx, s.ID)
	if err != nil {
		t.Fatalf("topics: %v", err)
	}
	fmt.Printf("Topics: %d\n", len(topics))
	fmt.Println("Events URL:", c.EventsURL(s.ID))
}
