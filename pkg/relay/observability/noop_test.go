package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordSubmit(ctx, "EMERGENCY", OutcomeQueued)
		m.RecordDelivered(ctx, "EMERGENCY")
		m.RecordRetry(ctx, "CYBER", 2)
		m.RecordPermanentFailure(ctx, "CYBER")
		m.RecordHandler(ctx, "", 0, false)
		m.RecordDrain(ctx, 0, time.Second)
		m.RecordQueueDepth(ctx, 0)
	})
}

func TestNoopSpanManager(t *testing.T) {
	var sm SpanManager = NoopSpanManager{}
	ctx := context.Background()

	t.Run("returns the same context", func(t *testing.T) {
		got, span := sm.StartDrainSpan(ctx, "pass", 1)
		assert.Equal(t, ctx, got)
		assert.False(t, span.IsRecording())

		got, span = sm.StartDeliverSpan(ctx, "CYBER", 1, 0)
		assert.Equal(t, ctx, got)
		assert.False(t, span.SpanContext().IsValid())
	})

	t.Run("end and events do not panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			_, span := sm.StartDrainSpan(ctx, "pass", 0)
			sm.EndSpanWithError(span, errors.New("x"))
			sm.EndSpanWithError(nil, nil)
			sm.AddSpanEvent(ctx, "evt", attribute.String("k", "v"))
		})
	})
}
