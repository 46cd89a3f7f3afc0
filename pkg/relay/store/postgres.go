package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emerband/relay/pkg/relay/event"
	rerrors "github.com/emerband/relay/pkg/relay/errors"
)

// PostgresStore persists queued events in PostgreSQL.
// Useful when a gateway relays events for many devices.
type PostgresStore struct {
	pool *pgxpool.Pool

	mu     sync.RWMutex
	closed bool
}

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS relay_queued_events (
		id BIGSERIAL PRIMARY KEY,
		kind TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		latitude TEXT,
		longitude TEXT,
		payload TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0)
	);
	CREATE INDEX IF NOT EXISTS idx_relay_queued_events_created_at
		ON relay_queued_events (created_at, id);
`

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, rerrors.NewStorageError("connect", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, rerrors.NewStorageError("connect", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, rerrors.NewStorageError("migrate", fmt.Errorf("create table: %w", err))
	}

	return &PostgresStore{pool: pool}, nil
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, ev *event.QueuedEvent) (int64, error) {
	if err := ev.Validate(); err != nil {
		return 0, rerrors.NewStorageError("insert", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, rerrors.NewStorageError("insert", ErrStoreClosed)
	}

	lat, lon := optLocation(ev.Location)
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO relay_queued_events (kind, created_at, latitude, longitude, payload, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, string(ev.Kind), ev.CreatedAt, lat, lon, optString(ev.Payload), ev.RetryCount).Scan(&id)
	if err != nil {
		return 0, rerrors.NewStorageError("insert", err)
	}

	ev.ID = id
	return id, nil
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, ev *event.QueuedEvent) error {
	if err := ev.Validate(); err != nil {
		return rerrors.NewStorageError("update", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return rerrors.NewStorageError("update", ErrStoreClosed)
	}

	lat, lon := optLocation(ev.Location)
	tag, err := s.pool.Exec(ctx, `
		UPDATE relay_queued_events
		SET kind = $1, created_at = $2, latitude = $3, longitude = $4, payload = $5, retry_count = $6
		WHERE id = $7
	`, string(ev.Kind), ev.CreatedAt, lat, lon, optString(ev.Payload), ev.RetryCount, ev.ID)
	if err != nil {
		return rerrors.NewStorageError("update", err)
	}
	if tag.RowsAffected() == 0 {
		return &rerrors.NotFoundError{ID: ev.ID}
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return rerrors.NewStorageError("delete", ErrStoreClosed)
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM relay_queued_events WHERE id = $1`, id); err != nil {
		return rerrors.NewStorageError("delete", err)
	}
	return nil
}

// ListAll implements Store.
func (s *PostgresStore) ListAll(ctx context.Context) ([]*event.QueuedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rerrors.NewStorageError("list", ErrStoreClosed)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, created_at, latitude, longitude, payload, retry_count
		FROM relay_queued_events
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, rerrors.NewStorageError("list", err)
	}

	events, err := pgx.CollectRows(rows, scanPostgresEvent)
	if err != nil {
		return nil, rerrors.NewStorageError("list", fmt.Errorf("scan queued events: %w", err))
	}
	if events == nil {
		events = make([]*event.QueuedEvent, 0)
	}
	return events, nil
}

func scanPostgresEvent(row pgx.CollectableRow) (*event.QueuedEvent, error) {
	var (
		ev                event.QueuedEvent
		kind              string
		lat, lon, payload *string
	)
	if err := row.Scan(&ev.ID, &kind, &ev.CreatedAt, &lat, &lon, &payload, &ev.RetryCount); err != nil {
		return nil, err
	}
	ev.Kind = event.Kind(kind)
	if lat != nil && lon != nil {
		ev.Location = &event.Location{Latitude: *lat, Longitude: *lon}
	}
	if payload != nil {
		ev.Payload = *payload
	}
	return &ev, nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, rerrors.NewStorageError("count", ErrStoreClosed)
	}

	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM relay_queued_events`).Scan(&n); err != nil {
		return 0, rerrors.NewStorageError("count", err)
	}
	return n, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.pool.Close()
	return nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optLocation(loc *event.Location) (*string, *string) {
	if loc == nil {
		return nil, nil
	}
	return optString(loc.Latitude), optString(loc.Longitude)
}
