package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordSubmit does nothing.
func (NoopMetrics) RecordSubmit(_ context.Context, _, _ string) {}

// RecordDelivered does nothing.
func (NoopMetrics) RecordDelivered(_ context.Context, _ string) {}

// RecordRetry does nothing.
func (NoopMetrics) RecordRetry(_ context.Context, _ string, _ int) {}

// RecordPermanentFailure does nothing.
func (NoopMetrics) RecordPermanentFailure(_ context.Context, _ string) {}

// RecordHandler does nothing.
func (NoopMetrics) RecordHandler(_ context.Context, _ string, _ time.Duration, _ bool) {}

// RecordDrain does nothing.
func (NoopMetrics) RecordDrain(_ context.Context, _ int, _ time.Duration) {}

// RecordQueueDepth does nothing.
func (NoopMetrics) RecordQueueDepth(_ context.Context, _ int) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartDrainSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartDrainSpan(ctx context.Context, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartDeliverSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartDeliverSpan(ctx context.Context, _ string, _ int64, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
