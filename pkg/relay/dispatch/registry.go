package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/emerband/relay/pkg/relay/event"
)

// Handler attempts to deliver one event kind right now.
//
// Send returns true when delivered and false for expected failures (no
// network, no recipients). A non-nil error means a programming error; it is
// logged at error level and counted as a failed attempt.
type Handler interface {
	Send(ctx context.Context, ev *event.QueuedEvent) (bool, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev *event.QueuedEvent) (bool, error)

// Send implements Handler.
func (f HandlerFunc) Send(ctx context.Context, ev *event.QueuedEvent) (bool, error) {
	return f(ctx, ev)
}

// Registry maps event kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[event.Kind]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[event.Kind]Handler),
	}
}

// Register adds a handler for kind.
// Returns an error if the kind already has a handler.
func (r *Registry) Register(kind event.Kind, h Handler) error {
	if _, err := event.ParseKind(string(kind)); err != nil {
		return err
	}
	if h == nil {
		return errors.New("handler is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("handler for kind %q already registered", kind)
	}
	r.handlers[kind] = h
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(kind event.Kind, h Handler) {
	if err := r.Register(kind, h); err != nil {
		panic(err)
	}
}

// Get returns the handler for kind.
func (r *Registry) Get(kind event.Kind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []event.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]event.Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
