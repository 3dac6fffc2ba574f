package authguard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Store persists per-source State. Update must apply fn atomically.
type Store interface {
	Get(ctx context.Context, source string) (State, bool, error)
	Update(ctx context.Context, source string, ttl time.Duration, fn func(*State)) (State, error)
	Delete(ctx context.Context, source string) error
}

// MemoryStore keeps state in a bounded, expiring LRU. The oldest sources
// are evicted first once size is reached.
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.LRU[string, State]
}

// NewMemoryStore creates a store holding at most size sources, each
// expiring ttl after its last update.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{cache: lru.NewLRU[string, State](size, nil, ttl)}
}

func (s *MemoryStore) Get(_ context.Context, source string) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.cache.Get(source)
	return st, ok, nil
}

func (s *MemoryStore) Update(_ context.Context, source string, _ time.Duration, fn func(*State)) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, _ := s.cache.Get(source)
	st.Failures = append([]time.Time(nil), st.Failures...)
	fn(&st)
	s.cache.Add(source, st)
	return st, nil
}

func (s *MemoryStore) Delete(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(source)
	return nil
}

// RedisStore keeps state as JSON strings updated with optimistic locking.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "authguard:"
	}
	return &RedisStore{client: client, prefix: prefix, maxRetries: 10}
}

func (s *RedisStore) Get(ctx context.Context, source string) (State, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+source).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, errors.Join(ErrStoreUnavailable, err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, false, errors.Join(ErrStoreUnavailable, err)
	}
	return st, true, nil
}

func (s *RedisStore) Update(ctx context.Context, source string, ttl time.Duration, fn func(*State)) (State, error) {
	key := s.prefix + source
	var out State

	txf := func(tx *redis.Tx) error {
		var st State
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &st); err != nil {
				return err
			}
		}
		fn(&st)
		encoded, err := json.Marshal(st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, ttl)
			return nil
		})
		if err == nil {
			out = st
		}
		return err
	}

	for range s.maxRetries {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return State{}, errors.Join(ErrStoreUnavailable, err)
	}
	return State{}, errors.Join(ErrStoreUnavailable, redis.TxFailedErr)
}

func (s *RedisStore) Delete(ctx context.Context, source string) error {
	if err := s.client.Del(ctx, s.prefix+source).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
