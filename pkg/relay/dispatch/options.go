package dispatch

import (
	"log/slog"
	"time"

	"github.com/emerband/relay/pkg/relay/event"
	rerrors "github.com/emerband/relay/pkg/relay/errors"
	"github.com/emerband/relay/pkg/relay/observability"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics recorder (default: no-op).
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithSpanManager sets the tracing span manager (default: no-op).
func WithSpanManager(s observability.SpanManager) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.spans = s
		}
	}
}

// WithMaxRetryAttempts sets the retry ceiling (default MaxRetryAttempts).
// Values below 1 are ignored.
func WithMaxRetryAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n >= 1 {
			d.maxAttempts = n
		}
	}
}

// WithHandlerTimeout bounds each handler invocation (default 20s).
// Expiry counts as a failed attempt.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.handlerTimeout = timeout
		}
	}
}

// WithLocator sets the location source used by Emergency.
func WithLocator(l Locator) Option {
	return func(d *Dispatcher) {
		d.locator = l
	}
}

// WithRetryBackoff schedules a follow-up drain, after a backoff, whenever a
// pass leaves failed records queued while the network is still reachable.
// Without it such records wait for the next reachability transition.
func WithRetryBackoff(cfg rerrors.RetryConfig) Option {
	return func(d *Dispatcher) {
		c := cfg
		d.retryBackoff = &c
	}
}

// WithQueueOnDirectFailure persists a failed direct send so the drain loop
// retries it. The failed direct attempt counts toward the retry ceiling.
func WithQueueOnDirectFailure(enabled bool) Option {
	return func(d *Dispatcher) {
		d.queueOnDirectFailure = enabled
	}
}

// WithOnDelivered registers a hook called after each successful delivery,
// direct or queued. Hooks run on the worker and must not block.
func WithOnDelivered(fn func(ev *event.QueuedEvent)) Option {
	return func(d *Dispatcher) {
		d.onDelivered = fn
	}
}

// WithOnRetry registers a hook called when a failed queued event stays queued.
func WithOnRetry(fn func(ev *event.QueuedEvent)) Option {
	return func(d *Dispatcher) {
		d.onRetry = fn
	}
}

// WithOnPermanentFailure registers a hook called exactly once per evicted event.
// err is a *errors.DeliveryFailure.
func WithOnPermanentFailure(fn func(ev *event.QueuedEvent, err error)) Option {
	return func(d *Dispatcher) {
		d.onPermanentFailure = fn
	}
}
