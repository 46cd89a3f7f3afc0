package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome labels used on relay metrics.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeQueued    = "queued"
)

// MetricsRecorder records relay metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordSubmit records a producer submission and how it was routed.
	RecordSubmit(ctx context.Context, kind, outcome string)

	// RecordDelivered records an event delivered from the queue.
	RecordDelivered(ctx context.Context, kind string)

	// RecordRetry records a failed attempt that left the event queued.
	RecordRetry(ctx context.Context, kind string, retryCount int)

	// RecordPermanentFailure records an event evicted at the retry ceiling.
	RecordPermanentFailure(ctx context.Context, kind string)

	// RecordHandler records one handler invocation.
	RecordHandler(ctx context.Context, kind string, duration time.Duration, delivered bool)

	// RecordDrain records a completed drain pass.
	RecordDrain(ctx context.Context, attempted int, duration time.Duration)

	// RecordQueueDepth records the number of queued events.
	RecordQueueDepth(ctx context.Context, depth int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	submitted         metric.Int64Counter
	delivered         metric.Int64Counter
	retried           metric.Int64Counter
	permanentFailures metric.Int64Counter
	handlerLatency    metric.Float64Histogram
	drainLatency      metric.Float64Histogram
	queueDepth        metric.Int64Gauge
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("relay")

	submitted, err := meter.Int64Counter("relay.events.submitted",
		metric.WithDescription("Number of events submitted by producers"),
	)
	if err != nil {
		return nil, err
	}

	delivered, err := meter.Int64Counter("relay.events.delivered",
		metric.WithDescription("Number of queued events delivered"),
	)
	if err != nil {
		return nil, err
	}

	retried, err := meter.Int64Counter("relay.events.retried",
		metric.WithDescription("Number of failed attempts that left an event queued"),
	)
	if err != nil {
		return nil, err
	}

	permanentFailures, err := meter.Int64Counter("relay.events.permanent_failures",
		metric.WithDescription("Number of events evicted at the retry ceiling"),
	)
	if err != nil {
		return nil, err
	}

	handlerLatency, err := meter.Float64Histogram("relay.handler.latency_ms",
		metric.WithDescription("Handler invocation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	drainLatency, err := meter.Float64Histogram("relay.drain.latency_ms",
		metric.WithDescription("Drain pass latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Gauge("relay.queue.depth",
		metric.WithDescription("Number of events waiting for delivery"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		submitted:         submitted,
		delivered:         delivered,
		retried:           retried,
		permanentFailures: permanentFailures,
		handlerLatency:    handlerLatency,
		drainLatency:      drainLatency,
		queueDepth:        queueDepth,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func kindAttr(kind string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}

// RecordSubmit records a producer submission.
func (m *otelMetrics) RecordSubmit(ctx context.Context, kind, outcome string) {
	m.submitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

// RecordDelivered records a delivered queued event.
func (m *otelMetrics) RecordDelivered(ctx context.Context, kind string) {
	m.delivered.Add(ctx, 1, kindAttr(kind))
}

// RecordRetry records a failed attempt that left the event queued.
func (m *otelMetrics) RecordRetry(ctx context.Context, kind string, retryCount int) {
	m.retried.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Int("retry_count", retryCount),
	))
}

// RecordPermanentFailure records an eviction.
func (m *otelMetrics) RecordPermanentFailure(ctx context.Context, kind string) {
	m.permanentFailures.Add(ctx, 1, kindAttr(kind))
}

// RecordHandler records one handler invocation.
func (m *otelMetrics) RecordHandler(ctx context.Context, kind string, duration time.Duration, delivered bool) {
	m.handlerLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("delivered", delivered),
	))
}

// RecordDrain records a drain pass.
func (m *otelMetrics) RecordDrain(ctx context.Context, attempted int, duration time.Duration) {
	m.drainLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.Int("attempted", attempted),
	))
}

// RecordQueueDepth records the number of queued events.
func (m *otelMetrics) RecordQueueDepth(ctx context.Context, depth int) {
	m.queueDepth.Record(ctx, int64(depth))
}
