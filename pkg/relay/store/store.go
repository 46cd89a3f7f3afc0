// Package store provides durable persistence for undelivered events.
//
// A store holds one record per undelivered event and returns them oldest
// first. It performs no delivery logic: the dispatcher decides when records
// are updated or deleted.
package store

import (
	"context"
	"errors"

	"github.com/emerband/relay/pkg/relay/event"
)

// Store persists queued events across process restarts.
// Implementations must be safe for concurrent use and atomic per record.
type Store interface {
	// Insert persists a new event and returns its id.
	// The id is also written to ev.ID. Persistence failures are
	// returned as *errors.StorageError.
	Insert(ctx context.Context, ev *event.QueuedEvent) (int64, error)

	// Update replaces the record matching ev.ID.
	// Returns *errors.NotFoundError if no such record exists.
	Update(ctx context.Context, ev *event.QueuedEvent) error

	// Delete removes a record.
	// Returns nil if the record doesn't exist.
	Delete(ctx context.Context, id int64) error

	// ListAll returns every queued record ordered by CreatedAt ascending,
	// ties broken by id. Returns an empty slice (not error) if none are queued.
	ListAll(ctx context.Context) ([]*event.QueuedEvent, error)

	// Count returns the number of queued records.
	Count(ctx context.Context) (int, error)

	// Close releases any resources (connections, files).
	Close() error
}

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("event store closed")

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
