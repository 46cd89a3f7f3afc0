package connectivity_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emerband/relay/pkg/relay/connectivity"
)

// syncBuffer guards a bytes.Buffer shared with the polling goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMonitor_FiresOncePerTransition(t *testing.T) {
	sw := connectivity.NewSwitchProbe(false)
	m := connectivity.NewMonitor(sw, connectivity.WithInterval(5*time.Millisecond))

	var fired atomic.Int32
	require.NoError(t, m.Start(func() { fired.Add(1) }))
	defer m.Stop()

	// Offline: nothing fires.
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, fired.Load())

	sw.Set(true)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Staying online emits nothing further.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())

	sw.Set(false)
	time.Sleep(30 * time.Millisecond)
	sw.Set(true)
	require.Eventually(t, func() bool { return fired.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestMonitor_StartOnlineFiresOnce(t *testing.T) {
	m := connectivity.NewMonitor(connectivity.NewSwitchProbe(true), connectivity.WithInterval(5*time.Millisecond))

	var fired atomic.Int32
	require.NoError(t, m.Start(func() { fired.Add(1) }))
	defer m.Stop()

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestMonitor_StartIdempotent(t *testing.T) {
	m := connectivity.NewMonitor(connectivity.NewSwitchProbe(true), connectivity.WithInterval(5*time.Millisecond))

	var first, second atomic.Int32
	require.NoError(t, m.Start(func() { first.Add(1) }))
	require.NoError(t, m.Start(func() { second.Add(1) }))
	defer m.Stop()

	require.Eventually(t, func() bool { return first.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), first.Load())
	assert.Zero(t, second.Load(), "second Start must not register a callback")
}

func TestMonitor_StopSafeAndRestartable(t *testing.T) {
	sw := connectivity.NewSwitchProbe(false)
	m := connectivity.NewMonitor(sw, connectivity.WithInterval(5*time.Millisecond))

	assert.NotPanics(t, m.Stop, "Stop before Start")

	var fired atomic.Int32
	require.NoError(t, m.Start(func() { fired.Add(1) }))
	assert.True(t, m.Running())
	m.Stop()
	m.Stop()
	assert.False(t, m.Running())

	// Stopped monitors ignore transitions.
	sw.Set(true)
	m.Observe(true)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fired.Load())

	// Restart re-arms the detector from "unreachable".
	require.NoError(t, m.Start(func() { fired.Add(1) }))
	defer m.Stop()
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMonitor_ObservePush(t *testing.T) {
	// A long interval leaves the pushed observations in charge.
	sw := connectivity.NewSwitchProbe(false)
	m := connectivity.NewMonitor(sw, connectivity.WithInterval(time.Hour))

	var fired atomic.Int32
	require.NoError(t, m.Start(func() { fired.Add(1) }))
	defer m.Stop()

	m.Observe(true)
	m.Observe(true)
	assert.Equal(t, int32(1), fired.Load())

	m.Observe(false)
	m.Observe(true)
	assert.Equal(t, int32(2), fired.Load())
}

func TestMonitor_ConcurrentObserve(t *testing.T) {
	m := connectivity.NewMonitor(connectivity.NewSwitchProbe(false), connectivity.WithInterval(time.Hour))

	var fired atomic.Int32
	require.NoError(t, m.Start(func() { fired.Add(1) }))
	defer m.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Observe(true)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fired.Load())
}

func TestMonitor_NilCallback(t *testing.T) {
	m := connectivity.NewMonitor(connectivity.NewSwitchProbe(true))
	assert.Error(t, m.Start(nil))
}

func TestMonitor_Unavailable(t *testing.T) {
	t.Run("push-only monitor follows Observe", func(t *testing.T) {
		m := connectivity.NewMonitor(nil, connectivity.WithInterval(5*time.Millisecond))
		ctx := context.Background()

		assert.False(t, m.IsReachable(ctx), "not started")

		var fired atomic.Int32
		require.NoError(t, m.Start(func() { fired.Add(1) }))
		defer m.Stop()

		time.Sleep(20 * time.Millisecond)
		assert.Zero(t, fired.Load(), "nothing polls")
		assert.False(t, m.IsReachable(ctx))

		m.Observe(true)
		m.Observe(true)
		assert.Equal(t, int32(1), fired.Load())
		assert.True(t, m.IsReachable(ctx))

		m.Observe(false)
		assert.False(t, m.IsReachable(ctx))
		m.Observe(true)
		assert.Equal(t, int32(2), fired.Load())
	})

	t.Run("erroring probe reports unreachable and logs once", func(t *testing.T) {
		logs := &syncBuffer{}
		probe := connectivity.ProbeFunc(func(context.Context) (bool, error) {
			return false, errors.New("no network service")
		})
		m := connectivity.NewMonitor(probe,
			connectivity.WithInterval(5*time.Millisecond),
			connectivity.WithLogger(slog.New(slog.NewTextHandler(logs, nil))),
		)

		var fired atomic.Int32
		require.NoError(t, m.Start(func() { fired.Add(1) }))
		time.Sleep(30 * time.Millisecond)
		m.Stop()

		assert.False(t, m.IsReachable(context.Background()))
		assert.Zero(t, fired.Load())
		assert.Equal(t, 1, strings.Count(logs.String(), "reachability facility unavailable"))
		assert.Contains(t, logs.String(), "no network service")
	})
}

func TestMonitor_IsReachableHonoursTimeout(t *testing.T) {
	probe := connectivity.ProbeFunc(func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, nil
	})
	m := connectivity.NewMonitor(probe, connectivity.WithProbeTimeout(10*time.Millisecond))

	start := time.Now()
	assert.False(t, m.IsReachable(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestMonitor_StopInterruptsSlowProbe(t *testing.T) {
	probe := connectivity.ProbeFunc(func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
	m := connectivity.NewMonitor(probe, connectivity.WithProbeTimeout(time.Hour))
	require.NoError(t, m.Start(func() {}))

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a slow probe")
	}
}
