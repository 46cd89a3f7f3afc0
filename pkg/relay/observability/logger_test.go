package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emerband/relay/pkg/relay/event"
)

// testHandler captures log records for testing.
type testHandler struct {
	buf   *bytes.Buffer
	level slog.Level
	attrs []slog.Attr
}

func newTestHandler() *testHandler {
	return &testHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newH := &testHandler{
		buf:   h.buf,
		level: h.level,
		attrs: make([]slog.Attr, len(h.attrs)+len(attrs)),
	}
	copy(newH.attrs, h.attrs)
	copy(newH.attrs[len(h.attrs):], attrs)
	return newH
}

func (h *testHandler) WithGroup(_ string) slog.Handler {
	return h
}

func (h *testHandler) getLastRecord() map[string]any {
	lines := bytes.Split(h.buf.Bytes(), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if len(lines[i]) > 0 {
			var m map[string]any
			if err := json.Unmarshal(lines[i], &m); err == nil {
				return m
			}
		}
	}
	return nil
}

func testEvent() *event.QueuedEvent {
	ev := event.New(event.KindEmergency, event.WithCreatedAtMillis(1_700_000_000_000))
	ev.ID = 42
	ev.RetryCount = 1
	return ev
}

func TestNewLogger(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger(&buf, "json", "debug")
		require.NoError(t, err)

		logger.Debug("hello", slog.String("k", "v"))

		var m map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
		assert.Equal(t, "hello", m["msg"])
		assert.Equal(t, "v", m["k"])
	})

	t.Run("text format filters by level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger(&buf, "text", "warn")
		require.NoError(t, err)

		logger.Info("hidden")
		logger.Warn("shown")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.True(t, strings.Contains(out, "shown"))
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := NewLogger(&bytes.Buffer{}, "xml", "info")
		assert.Error(t, err)
	})

	t.Run("unknown level", func(t *testing.T) {
		_, err := NewLogger(&bytes.Buffer{}, "json", "loud")
		assert.Error(t, err)
	})
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds event_id, kind, and retry_count", func(t *testing.T) {
		h := newTestHandler()
		enriched := EnrichLogger(slog.New(h), testEvent())
		enriched.Info("test message")

		record := h.getLastRecord()
		require.NotNil(t, record)
		assert.Equal(t, float64(42), record["event_id"]) // JSON decodes ints as float64
		assert.Equal(t, "EMERGENCY", record["kind"])
		assert.Equal(t, float64(1), record["retry_count"])
	})

	t.Run("nil logger returns nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, testEvent()))
	})
}

func TestLogEventQueued(t *testing.T) {
	h := newTestHandler()
	LogEventQueued(slog.New(h), testEvent())

	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, "event queued while offline", record["msg"])
	assert.Equal(t, float64(1_700_000_000_000), record["created_at"])
}

func TestLogDirectSend(t *testing.T) {
	t.Run("delivered at INFO", func(t *testing.T) {
		h := newTestHandler()
		LogDirectSend(slog.New(h), event.KindCyberAlert, true, 12.5)

		record := h.getLastRecord()
		require.NotNil(t, record)
		assert.Equal(t, "INFO", record["level"])
		assert.Equal(t, "CYBER", record["kind"])
		assert.Equal(t, 12.5, record["duration_ms"])
	})

	t.Run("failure at WARN", func(t *testing.T) {
		h := newTestHandler()
		LogDirectSend(slog.New(h), event.KindCyberAlert, false, 1)

		record := h.getLastRecord()
		require.NotNil(t, record)
		assert.Equal(t, "WARN", record["level"])
		assert.Equal(t, "direct send failed", record["msg"])
	})
}

func TestLogDrain(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogDrainStart(logger, "pass-1", 3)
	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "drain pass starting", record["msg"])
	assert.Equal(t, float64(3), record["pending"])

	LogDrainComplete(logger, "pass-1", 3, 1, 1, 1, 40)
	record = h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "drain pass completed", record["msg"])
	assert.Equal(t, "pass-1", record["pass_id"])
	assert.Equal(t, float64(1), record["evicted"])

	LogDrainError(logger, "pass-2", errors.New("disk gone"))
	record = h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "disk gone", record["error"])
}

func TestLogDeliveryOutcomes(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)
	ev := testEvent()

	LogDelivered(logger, ev)
	assert.Equal(t, "queued event delivered", h.getLastRecord()["msg"])

	LogDeliveryRetry(logger, ev, 3)
	record := h.getLastRecord()
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, float64(3), record["max_attempts"])

	LogPermanentFailure(logger, ev, nil)
	record = h.getLastRecord()
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "event permanently failed", record["msg"])
	assert.NotContains(t, record, "error")

	LogPermanentFailure(logger, ev, errors.New("no recipients"))
	assert.Equal(t, "no recipients", h.getLastRecord()["error"])

	LogHandlerError(logger, ev, errors.New("boom"))
	assert.Equal(t, "handler error", h.getLastRecord()["msg"])

	LogStorageError(logger, "update", ev.ID, errors.New("locked"))
	record = h.getLastRecord()
	assert.Equal(t, "update", record["operation"])
	assert.Equal(t, "locked", record["error"])
}

func TestLogHelpers_NilLogger(t *testing.T) {
	ev := testEvent()
	err := errors.New("x")

	assert.NotPanics(t, func() {
		LogEventQueued(nil, ev)
		LogDirectSend(nil, ev.Kind, true, 0)
		LogDrainStart(nil, "p", 0)
		LogDrainComplete(nil, "p", 0, 0, 0, 0, 0)
		LogDrainError(nil, "p", err)
		LogDelivered(nil, ev)
		LogDeliveryRetry(nil, ev, 3)
		LogPermanentFailure(nil, ev, err)
		LogHandlerError(nil, ev, err)
		LogStorageError(nil, "insert", 0, err)
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), 5.0)
}
