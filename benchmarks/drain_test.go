package benchmarks

import (
	"context"
	"testing"

	"github.com/emerband/relay/pkg/relay/dispatch"
	"github.com/emerband/relay/pkg/relay/event"
	"github.com/emerband/relay/pkg/relay/store"
)

// offline is a Reachability that never fires.
type offline struct{}

func (offline) IsReachable(context.Context) bool { return false }
func (offline) Start(func()) error               { return nil }
func (offline) Stop()                            {}

func newBenchDispatcher(b *testing.B, s store.Store, delivered bool, opts ...dispatch.Option) *dispatch.Dispatcher {
	b.Helper()
	reg := dispatch.NewRegistry()
	reg.MustRegister(event.KindEmergency, dispatch.HandlerFunc(
		func(context.Context, *event.QueuedEvent) (bool, error) { return delivered, nil }))

	d := dispatch.New(s, offline{}, reg, opts...)
	if err := d.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(d.Stop)
	return d
}

// BenchmarkSubmit_Queued measures the offline path through the worker.
func BenchmarkSubmit_Queued(b *testing.B) {
	ctx := context.Background()
	d := newBenchDispatcher(b, store.NewMemoryStore(), true)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := d.Submit(ctx, sampleEvent(i)); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDrain_Delivered measures draining a 50-event backlog that succeeds.
func BenchmarkDrain_Delivered(b *testing.B) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	d := newBenchDispatcher(b, s, true)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for j := 0; j < 50; j++ {
			if _, err := s.Insert(ctx, sampleEvent(j)); err != nil {
				b.Fatal(err)
			}
		}
		b.StartTimer()

		if _, err := d.DrainNow(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDrain_Failing measures a pass where every attempt fails and each
// record is updated in place.
func BenchmarkDrain_Failing(b *testing.B) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	d := newBenchDispatcher(b, s, false, dispatch.WithMaxRetryAttempts(1<<30))

	for j := 0; j < 50; j++ {
		if _, err := s.Insert(ctx, sampleEvent(j)); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := d.DrainNow(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
