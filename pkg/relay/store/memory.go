package store

import (
	"context"
	"sort"
	"sync"

	"github.com/emerband/relay/pkg/relay/event"
	rerrors "github.com/emerband/relay/pkg/relay/errors"
)

// MemoryStore is an in-memory event store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[int64]*event.QueuedEvent
	nextID int64
	closed bool
}

// NewMemoryStore creates a new in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[int64]*event.QueuedEvent),
	}
}

// Insert implements Store.
func (m *MemoryStore) Insert(_ context.Context, ev *event.QueuedEvent) (int64, error) {
	if err := ev.Validate(); err != nil {
		return 0, rerrors.NewStorageError("insert", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, rerrors.NewStorageError("insert", ErrStoreClosed)
	}

	m.nextID++
	ev.ID = m.nextID
	m.events[ev.ID] = ev.Clone()
	return ev.ID, nil
}

// Update implements Store.
func (m *MemoryStore) Update(_ context.Context, ev *event.QueuedEvent) error {
	if err := ev.Validate(); err != nil {
		return rerrors.NewStorageError("update", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return rerrors.NewStorageError("update", ErrStoreClosed)
	}
	if _, ok := m.events[ev.ID]; !ok {
		return &rerrors.NotFoundError{ID: ev.ID}
	}

	m.events[ev.ID] = ev.Clone()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return rerrors.NewStorageError("delete", ErrStoreClosed)
	}

	delete(m.events, id)
	return nil
}

// ListAll implements Store.
func (m *MemoryStore) ListAll(_ context.Context) ([]*event.QueuedEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, rerrors.NewStorageError("list", ErrStoreClosed)
	}

	events := make([]*event.QueuedEvent, 0, len(m.events))
	for _, ev := range m.events {
		events = append(events, ev.Clone())
	}
	sortOldestFirst(events)
	return events, nil
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, rerrors.NewStorageError("count", ErrStoreClosed)
	}
	return len(m.events), nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.events = nil
	return nil
}

// sortOldestFirst orders by CreatedAt, then id.
func sortOldestFirst(events []*event.QueuedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt < events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})
}
