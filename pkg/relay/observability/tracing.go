package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the relay tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("relay")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartDrainSpan starts a span for one drain pass.
	StartDrainSpan(ctx context.Context, passID string, pending int) (context.Context, trace.Span)

	// StartDeliverSpan starts a span for one delivery attempt.
	// During a drain it is a child of the drain span.
	StartDeliverSpan(ctx context.Context, kind string, eventID int64, retryCount int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartDrainSpan starts a span for one drain pass.
func (m *otelSpanManager) StartDrainSpan(ctx context.Context, passID string, pending int) (context.Context, trace.Span) {
	return StartDrainSpan(ctx, passID, pending)
}

// StartDeliverSpan starts a span for one delivery attempt.
func (m *otelSpanManager) StartDeliverSpan(ctx context.Context, kind string, eventID int64, retryCount int) (context.Context, trace.Span) {
	return StartDeliverSpan(ctx, kind, eventID, retryCount)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// Convenience functions that operate on the global tracer.

// StartDrainSpan starts a span for one drain pass.
// Uses the global OTel tracer.
func StartDrainSpan(ctx context.Context, passID string, pending int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "relay.drain",
		trace.WithAttributes(
			attribute.String("drain.pass_id", passID),
			attribute.Int("drain.pending", pending),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartDeliverSpan starts a span for one delivery attempt.
// eventID is zero for a direct send.
// Uses the global OTel tracer.
func StartDeliverSpan(ctx context.Context, kind string, eventID int64, retryCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "relay.deliver",
		trace.WithAttributes(
			attribute.String("event.kind", kind),
			attribute.Int64("event.id", eventID),
			attribute.Int("event.retry_count", retryCount),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
