package benchmarks

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/emerband/relay/pkg/relay/event"
	"github.com/emerband/relay/pkg/relay/store"
)

func sampleEvent(i int) *event.QueuedEvent {
	return event.New(event.KindEmergency,
		event.WithCreatedAtMillis(int64(1_700_000_000_000+i)),
		event.WithLocation(event.NewLocation(12.9716, 77.5946)),
		event.WithPayload("User: Alice"),
	)
}

func benchStores(b *testing.B) map[string]store.Store {
	b.Helper()

	sqlite, err := store.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = sqlite.Close() })

	mr := miniredis.RunT(b)
	rs := store.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "bench:")
	b.Cleanup(func() { _ = rs.Close() })

	return map[string]store.Store{
		"memory": store.NewMemoryStore(),
		"sqlite": sqlite,
		"redis":  rs,
	}
}

// BenchmarkStore_Insert measures persisting one event.
func BenchmarkStore_Insert(b *testing.B) {
	ctx := context.Background()
	for name, s := range benchStores(b) {
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := s.Insert(ctx, sampleEvent(i)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkStore_ListAll measures reading a 100-event backlog.
func BenchmarkStore_ListAll(b *testing.B) {
	ctx := context.Background()
	for name, s := range benchStores(b) {
		for i := 0; i < 100; i++ {
			if _, err := s.Insert(ctx, sampleEvent(i)); err != nil {
				b.Fatal(err)
			}
		}
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := s.ListAll(ctx); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkStore_UpdateDelete measures the per-record drain mutations.
func BenchmarkStore_UpdateDelete(b *testing.B) {
	ctx := context.Background()
	for name, s := range benchStores(b) {
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				ev := sampleEvent(i)
				if _, err := s.Insert(ctx, ev); err != nil {
					b.Fatal(err)
				}
				ev.RetryCount++
				if err := s.Update(ctx, ev); err != nil {
					b.Fatal(err)
				}
				if err := s.Delete(ctx, ev.ID); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
