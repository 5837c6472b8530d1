// Package db caches sessions, topics and participants in a local SQLite file.
package db

import (
	"time"

	"github.com/jwulff/steno-live/internal/model"
)

// Session is a cached session row.
type Session struct {
	model.Session
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Topic is a cached topic row.
type Topic struct {
	model.TopicBoundary
	SessionID string
	UpdatedAt time.Time
}
