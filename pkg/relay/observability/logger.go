// Package observability provides logging, metrics and tracing for the relay:
// structured logging via slog, metrics and tracing via OpenTelemetry.
//
// Every helper accepts a nil logger, and every interface has a no-op
// implementation, so all of it is opt-in.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emerband/relay/pkg/relay/event"
)

// NewLogger builds a slog.Logger writing to w.
// format is "json" or "text"; level is debug, info, warn or error.
func NewLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// EnrichLogger adds event context to a logger.
//
// Example:
//
//	l := EnrichLogger(logger, ev)
//	l.Info("sending") // includes event_id, kind, retry_count
func EnrichLogger(logger *slog.Logger, ev *event.QueuedEvent) *slog.Logger {
	if logger == nil || ev == nil {
		return logger
	}
	return logger.With(
		slog.Int64("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.Int("retry_count", ev.RetryCount),
	)
}

// LogEventQueued logs that an event was persisted for later delivery.
func LogEventQueued(logger *slog.Logger, ev *event.QueuedEvent) {
	if logger == nil {
		return
	}
	logger.Info("event queued while offline",
		slog.Int64("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.Int64("created_at", ev.CreatedAt),
	)
}

// LogDirectSend logs the outcome of a direct (online) send.
func LogDirectSend(logger *slog.Logger, kind event.Kind, delivered bool, durationMs float64) {
	if logger == nil {
		return
	}
	level := slog.LevelInfo
	msg := "event delivered directly"
	if !delivered {
		level = slog.LevelWarn
		msg = "direct send failed"
	}
	logger.Log(context.Background(), level, msg,
		slog.String("kind", string(kind)),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDrainStart logs the start of a drain pass.
func LogDrainStart(logger *slog.Logger, passID string, pending int) {
	if logger == nil {
		return
	}
	logger.Info("drain pass starting",
		slog.String("pass_id", passID),
		slog.Int("pending", pending),
	)
}

// LogDrainComplete logs the result of a drain pass.
func LogDrainComplete(logger *slog.Logger, passID string, attempted, delivered, retried, evicted int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("drain pass completed",
		slog.String("pass_id", passID),
		slog.Int("attempted", attempted),
		slog.Int("delivered", delivered),
		slog.Int("retried", retried),
		slog.Int("evicted", evicted),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDrainError logs a drain pass that could not read the store.
func LogDrainError(logger *slog.Logger, passID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("drain pass failed",
		slog.String("pass_id", passID),
		slog.String("error", err.Error()),
	)
}

// LogDelivered logs a queued event that was delivered and removed.
func LogDelivered(logger *slog.Logger, ev *event.QueuedEvent) {
	if logger == nil {
		return
	}
	logger.Info("queued event delivered",
		slog.Int64("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.Int("retry_count", ev.RetryCount),
	)
}

// LogDeliveryRetry logs a failed attempt that left the event queued.
func LogDeliveryRetry(logger *slog.Logger, ev *event.QueuedEvent, maxAttempts int) {
	if logger == nil {
		return
	}
	logger.Warn("delivery failed, will retry",
		slog.Int64("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.Int("retry_count", ev.RetryCount),
		slog.Int("max_attempts", maxAttempts),
	)
}

// LogPermanentFailure logs an event evicted at the retry ceiling.
func LogPermanentFailure(logger *slog.Logger, ev *event.QueuedEvent, err error) {
	if logger == nil {
		return
	}
	attrs := []any{
		slog.Int64("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.Int("retry_count", ev.RetryCount),
		slog.Int64("created_at", ev.CreatedAt),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	logger.Error("event permanently failed", attrs...)
}

// LogHandlerError logs a handler that returned an error or panicked.
// A handler error is a bug, not an expected delivery failure.
func LogHandlerError(logger *slog.Logger, ev *event.QueuedEvent, err error) {
	if logger == nil {
		return
	}
	logger.Error("handler error",
		slog.Int64("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.String("error", err.Error()),
	)
}

// LogStorageError logs a store operation failure (non-fatal to the pass).
func LogStorageError(logger *slog.Logger, op string, eventID int64, err error) {
	if logger == nil {
		return
	}
	logger.Error("storage operation failed",
		slog.String("operation", op),
		slog.Int64("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
