package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/emerband/relay/pkg/relay/event"
	rerrors "github.com/emerband/relay/pkg/relay/errors"
)

// DefaultRedisPrefix namespaces every key the Redis store writes.
const DefaultRedisPrefix = "relay:"

// RedisStore persists queued events in Redis.
//
// Layout:
//   - <prefix>events:seq    INCR counter for ids
//   - <prefix>events:index  sorted set scored by created_at, members are zero-padded ids
//   - <prefix>event:<id>    JSON record
type RedisStore struct {
	client *redis.Client
	prefix string

	mu     sync.RWMutex
	closed bool
}

// NewRedisStore wraps an existing client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr string, db int, password, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, rerrors.NewStorageError("connect", fmt.Errorf("redis %s: %w", addr, err))
	}
	return NewRedisStore(client, prefix), nil
}

func (s *RedisStore) seqKey() string   { return s.prefix + "events:seq" }
func (s *RedisStore) indexKey() string { return s.prefix + "events:index" }

func (s *RedisStore) recordKey(id int64) string {
	return s.prefix + "event:" + strconv.FormatInt(id, 10)
}

// indexMember zero-pads ids so equal scores sort by id.
func indexMember(id int64) string {
	return fmt.Sprintf("%020d", id)
}

// Insert implements Store.
func (s *RedisStore) Insert(ctx context.Context, ev *event.QueuedEvent) (int64, error) {
	if err := ev.Validate(); err != nil {
		return 0, rerrors.NewStorageError("insert", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, rerrors.NewStorageError("insert", ErrStoreClosed)
	}

	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return 0, rerrors.NewStorageError("insert", err)
	}

	record := ev.Clone()
	record.ID = id
	data, err := json.Marshal(record)
	if err != nil {
		return 0, rerrors.NewStorageError("insert", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(id), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(record.CreatedAt),
			Member: indexMember(id),
		})
		return nil
	})
	if err != nil {
		return 0, rerrors.NewStorageError("insert", err)
	}

	ev.ID = id
	return id, nil
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, ev *event.QueuedEvent) error {
	if err := ev.Validate(); err != nil {
		return rerrors.NewStorageError("update", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return rerrors.NewStorageError("update", ErrStoreClosed)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return rerrors.NewStorageError("update", err)
	}

	// SET XX only writes when the record still exists.
	ok, err := s.client.SetXX(ctx, s.recordKey(ev.ID), data, 0).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return rerrors.NewStorageError("update", err)
	}
	if !ok {
		return &rerrors.NotFoundError{ID: ev.ID}
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return rerrors.NewStorageError("delete", ErrStoreClosed)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(id))
		pipe.ZRem(ctx, s.indexKey(), indexMember(id))
		return nil
	})
	if err != nil {
		return rerrors.NewStorageError("delete", err)
	}
	return nil
}

// ListAll implements Store.
func (s *RedisStore) ListAll(ctx context.Context) ([]*event.QueuedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rerrors.NewStorageError("list", ErrStoreClosed)
	}

	members, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, rerrors.NewStorageError("list", err)
	}

	events := make([]*event.QueuedEvent, 0, len(members))
	if len(members) == 0 {
		return events, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, rerrors.NewStorageError("list", fmt.Errorf("bad index member %q: %w", m, err))
		}
		keys = append(keys, s.recordKey(id))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, rerrors.NewStorageError("list", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Deleted between ZRANGE and MGET.
			continue
		}
		var ev event.QueuedEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, rerrors.NewStorageError("list", fmt.Errorf("decode %s: %w", keys[i], err))
		}
		events = append(events, &ev)
	}
	return events, nil
}

// Count implements Store.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, rerrors.NewStorageError("count", ErrStoreClosed)
	}

	n, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, rerrors.NewStorageError("count", err)
	}
	return int(n), nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.client.Close()
}
