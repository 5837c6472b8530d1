package ui

import (
	"strings"
	"testing"

	"github.com/jwulff/steno-live/internal/model"
)

func TestStatusBadge(t *testing.T) {
	tests := map[model.Status]string{
		model.StatusIdle:       "IDLE",
		model.StatusRecording:  "REC",
		model.StatusProcessing: "PROCESSING",
		model.StatusEnded:      "ENDED",
		model.StatusError:      "ERROR",
		model.Status("bogus"):  "IDLE",
	}
	for status, want := range tests {
		if got := StatusBadge(status); !strings.Contains(got, want) {
			t.Errorf("StatusBadge(%q) = %q, want it to contain %q", status, got, want)
		}
	}
}

func TestFooterHint(t *testing.T) {
	got := FooterHint("q", "Quit")
	if !strings.Contains(got, "q") || !strings.Contains(got, " Quit") {
		t.Errorf("FooterHint = %q", got)
	}
}
