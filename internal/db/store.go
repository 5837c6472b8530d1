package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jwulff/steno-live/internal/model"
)

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'idle',
		durationMs INTEGER,
		createdAt REAL NOT NULL,
		updatedAt REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS topics (
		id TEXT NOT NULL,
		sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		transcript TEXT NOT NULL DEFAULT '',
		timestampSeconds REAL NOT NULL,
		segments TEXT NOT NULL DEFAULT '[]',
		updatedAt REAL NOT NULL,
		PRIMARY KEY (sessionId, id)
	);

	CREATE TABLE IF NOT EXISTS participants (
		id TEXT NOT NULL,
		sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		speaker INTEGER NOT NULL,
		PRIMARY KEY (sessionId, id)
	);
`

// Store is a read-write cache of server state.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path with WAL and the cache schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertSession inserts or refreshes a session. An empty status keeps the
// cached one.
func (s *Store) UpsertSession(sess model.Session) error {
	now := unixFromTime(s.now())
	var duration sql.NullInt64
	if sess.DurationMs != nil {
		duration = sql.NullInt64{Int64: *sess.DurationMs, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, name, status, durationMs, createdAt, updatedAt)
		VALUES (?, ?, COALESCE(NULLIF(?, ''), 'idle'), ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE sessions.name END,
			status = CASE WHEN ? != '' THEN excluded.status ELSE sessions.status END,
			durationMs = COALESCE(excluded.durationMs, sessions.durationMs),
			updatedAt = excluded.updatedAt
	`, sess.ID, sess.Name, string(sess.Status), duration, now, now, string(sess.Status))
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.ID, err)
	}
	return nil
}

// SetStatus records a status change, creating the row if needed.
func (s *Store) SetStatus(sessionID string, status model.Status) error {
	return s.UpsertSession(model.Session{ID: sessionID, Status: status})
}

// SetDuration records the session length in milliseconds.
func (s *Store) SetDuration(sessionID string, ms int64) error {
	return s.UpsertSession(model.Session{ID: sessionID, DurationMs: &ms})
}

// ReplaceTopics swaps the session's topic list for topics.
func (s *Store) ReplaceTopics(sessionID string, topics []model.TopicBoundary) error {
	if err := s.UpsertSession(model.Session{ID: sessionID}); err != nil {
		return err
	}
	now := unixFromTime(s.now())

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM topics WHERE sessionId = ?`, sessionID); err != nil {
		return fmt.Errorf("delete topics: %w", err)
	}
	for _, t := range topics {
		segments, err := json.Marshal(t.SpeakerSegments)
		if err != nil {
			return fmt.Errorf("marshal segments for topic %s: %w", t.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO topics (id, sessionId, title, summary, transcript, timestampSeconds, segments, updatedAt)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, sessionID, t.Title, t.Summary, t.Text, t.TimestampSeconds, string(segments), now); err != nil {
			return fmt.Errorf("insert topic %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// TopicsForSession returns a session's topics ordered by start time.
func (s *Store) TopicsForSession(sessionID string) ([]Topic, error) {
	rows, err := s.db.Query(`
		SELECT id, sessionId, title, summary, transcript, timestampSeconds, segments, updatedAt
		FROM topics
		WHERE sessionId = ?
		ORDER BY timestampSeconds ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var t Topic
		var segments string
		var updatedAt float64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Title, &t.Summary, &t.Text,
			&t.TimestampSeconds, &segments, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		if err := json.Unmarshal([]byte(segments), &t.SpeakerSegments); err != nil {
			return nil, fmt.Errorf("decode segments for topic %s: %w", t.ID, err)
		}
		t.UpdatedAt = timeFromUnix(updatedAt)
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// ReplaceParticipants swaps the session's participant list.
func (s *Store) ReplaceParticipants(sessionID string, ps []model.Participant) error {
	if err := s.UpsertSession(model.Session{ID: sessionID}); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM participants WHERE sessionId = ?`, sessionID); err != nil {
		return fmt.Errorf("delete participants: %w", err)
	}
	for _, p := range ps {
		if _, err := tx.Exec(`
			INSERT INTO participants (id, sessionId, name, speaker) VALUES (?, ?, ?, ?)
		`, p.ID, sessionID, p.Name, p.Speaker); err != nil {
			return fmt.Errorf("insert participant %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// ParticipantsForSession returns a session's participants ordered by speaker.
func (s *Store) ParticipantsForSession(sessionID string) ([]model.Participant, error) {
	rows, err := s.db.Query(`
		SELECT id, name, speaker
		FROM participants
		WHERE sessionId = ?
		ORDER BY speaker ASC, name ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var ps []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Speaker); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		ps = append(ps, p)
	}
	return ps, rows.Err()
}

// Session returns one cached session, or nil if it is not cached.
func (s *Store) Session(id string) (*Session, error) {
	return s.scanSession(s.db.QueryRow(`
		SELECT id, name, status, durationMs, createdAt, updatedAt
		FROM sessions
		WHERE id = ?
	`, id))
}

// ActiveSession returns the most recently touched session that is still
// recording or processing, if any.
func (s *Store) ActiveSession() (*Session, error) {
	return s.scanSession(s.db.QueryRow(`
		SELECT id, name, status, durationMs, createdAt, updatedAt
		FROM sessions
		WHERE status IN ('recording', 'processing')
		ORDER BY updatedAt DESC
		LIMIT 1
	`))
}

// LatestSession returns the most recently touched session regardless of status.
func (s *Store) LatestSession() (*Session, error) {
	return s.scanSession(s.db.QueryRow(`
		SELECT id, name, status, durationMs, createdAt, updatedAt
		FROM sessions
		ORDER BY updatedAt DESC
		LIMIT 1
	`))
}

func (s *Store) scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var status string
	var duration sql.NullInt64
	var createdAt, updatedAt float64

	if err := row.Scan(&sess.ID, &sess.Name, &status, &duration, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	sess.Status = model.Status(status)
	if duration.Valid {
		ms := duration.Int64
		sess.DurationMs = &ms
	}
	sess.CreatedAt = timeFromUnix(createdAt)
	sess.UpdatedAt = timeFromUnix(updatedAt)
	return &sess, nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
