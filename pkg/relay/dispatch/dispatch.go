// Package dispatch decides, for each safety event, whether to deliver it now
// or queue it, and drains the queue each time the network comes back.
//
// # Lifecycle
//
// A submitted event is checked against current reachability:
//
//   - reachable: one direct attempt through the kind's Handler, nothing is
//     persisted. A failed direct send is not retried unless
//     WithQueueOnDirectFailure is set.
//   - unreachable: the event is inserted into the store with RetryCount 0.
//
// On every reachability signal the Dispatcher drains the store oldest first.
// Success deletes the record. Failure increments RetryCount; once it reaches
// the retry ceiling (MaxRetryAttempts by default) the record is deleted and
// reported as a permanent failure exactly once. A failing record never stops
// the pass.
//
// A handler that outlives its timeout counts as a failed attempt, but its
// record is skipped by later passes until the handler returns. A late success
// deletes the record; a late failure on the final attempt evicts it.
//
// # Concurrency
//
// One worker goroutine owns every store mutation and handler call. Drain
// signals go through a one-slot channel, so signals that arrive during a pass
// collapse into a single follow-up pass and no two drains ever overlap.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/emerband/relay/pkg/relay/event"
)

// MaxRetryAttempts is the default number of failed queued attempts after
// which an event is evicted.
const MaxRetryAttempts = 3

// DefaultHandlerTimeout bounds a single handler invocation.
const DefaultHandlerTimeout = 20 * time.Second

// ErrStopped is returned when the Dispatcher is not running.
var ErrStopped = errors.New("dispatcher is not running")

// Outcome is how a submitted event was routed.
type Outcome int

// Submission outcomes.
const (
	OutcomeDelivered Outcome = iota + 1
	OutcomeFailed
	OutcomeQueued
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeFailed:
		return "failed"
	case OutcomeQueued:
		return "queued"
	default:
		return "unknown"
	}
}

// Reachability is the view of the connectivity monitor the Dispatcher needs.
// *connectivity.Monitor satisfies it.
type Reachability interface {
	IsReachable(ctx context.Context) bool
	Start(onReachable func()) error
	Stop()
}

// Locator returns the device's last known location.
// A nil location with a nil error means none is known.
type Locator interface {
	LastKnown(ctx context.Context) (*event.Location, error)
}

// LocatorFunc adapts a function to the Locator interface.
type LocatorFunc func(ctx context.Context) (*event.Location, error)

// LastKnown implements Locator.
func (f LocatorFunc) LastKnown(ctx context.Context) (*event.Location, error) {
	return f(ctx)
}

// DrainReport summarizes one drain pass.
type DrainReport struct {
	PassID    string
	Attempted int
	Delivered int
	Retried   int
	Evicted   int
	Skipped   int // previous attempt still running
	Duration  time.Duration
}

// Stats are cumulative counters since the Dispatcher was created.
type Stats struct {
	Submitted         int64
	DirectDelivered   int64
	DirectFailed      int64
	Queued            int64
	Delivered         int64
	Retried           int64
	PermanentFailures int64
	DrainPasses       int64
}
