package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/emerband/relay/pkg/relay/event"
	rerrors "github.com/emerband/relay/pkg/relay/errors"
)

// SQLiteStore persists queued events to SQLite.
// It is the default engine for a single device process.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) a SQLite event store.
// The path should be a file path (e.g., "./relay.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// AUTOINCREMENT guarantees ids are never reused after a delete.
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS queued_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			latitude TEXT,
			longitude TEXT,
			payload TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_queued_events_created_at
		ON queued_events(created_at, id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Insert implements Store.
func (s *SQLiteStore) Insert(ctx context.Context, ev *event.QueuedEvent) (int64, error) {
	if err := ev.Validate(); err != nil {
		return 0, rerrors.NewStorageError("insert", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, rerrors.NewStorageError("insert", ErrStoreClosed)
	}

	lat, lon := nullLocation(ev.Location)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO queued_events (kind, created_at, latitude, longitude, payload, retry_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(ev.Kind), ev.CreatedAt, lat, lon, nullString(ev.Payload), ev.RetryCount)
	if err != nil {
		return 0, rerrors.NewStorageError("insert", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, rerrors.NewStorageError("insert", err)
	}
	ev.ID = id
	return id, nil
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, ev *event.QueuedEvent) error {
	if err := ev.Validate(); err != nil {
		return rerrors.NewStorageError("update", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rerrors.NewStorageError("update", ErrStoreClosed)
	}

	lat, lon := nullLocation(ev.Location)
	res, err := s.db.ExecContext(ctx, `
		UPDATE queued_events
		SET kind = ?, created_at = ?, latitude = ?, longitude = ?, payload = ?, retry_count = ?
		WHERE id = ?
	`, string(ev.Kind), ev.CreatedAt, lat, lon, nullString(ev.Payload), ev.RetryCount, ev.ID)
	if err != nil {
		return rerrors.NewStorageError("update", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return rerrors.NewStorageError("update", err)
	}
	if n == 0 {
		return &rerrors.NotFoundError{ID: ev.ID}
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rerrors.NewStorageError("delete", ErrStoreClosed)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM queued_events WHERE id = ?`, id); err != nil {
		return rerrors.NewStorageError("delete", err)
	}
	return nil
}

// ListAll implements Store.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]*event.QueuedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rerrors.NewStorageError("list", ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, created_at, latitude, longitude, payload, retry_count
		FROM queued_events
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, rerrors.NewStorageError("list", err)
	}
	defer rows.Close()

	events := make([]*event.QueuedEvent, 0)
	for rows.Next() {
		var (
			ev       event.QueuedEvent
			kind     string
			lat, lon sql.NullString
			payload  sql.NullString
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.CreatedAt, &lat, &lon, &payload, &ev.RetryCount); err != nil {
			return nil, rerrors.NewStorageError("list", fmt.Errorf("scan queued event: %w", err))
		}
		ev.Kind = event.Kind(kind)
		ev.Location = locationFromNull(lat, lon)
		ev.Payload = payload.String
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, rerrors.NewStorageError("list", fmt.Errorf("iterate queued events: %w", err))
	}
	return events, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, rerrors.NewStorageError("count", ErrStoreClosed)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_events`).Scan(&n); err != nil {
		return 0, rerrors.NewStorageError("count", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullLocation(loc *event.Location) (sql.NullString, sql.NullString) {
	if loc == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return nullString(loc.Latitude), nullString(loc.Longitude)
}

func locationFromNull(lat, lon sql.NullString) *event.Location {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &event.Location{Latitude: lat.String, Longitude: lon.String}
}
