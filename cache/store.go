package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrMiss is returned by Get when the key does not exist or has expired.
	ErrMiss = errors.New("cache miss")
	// ErrRedisUnavailable wraps transport and server failures.
	ErrRedisUnavailable = errors.New("cache backend unavailable")
)

const scanBatch = 200

// Options configures a Store.
type Options struct {
	// Prefix namespaces every key, e.g. "authgate:".
	Prefix string
	// OperationTimeout bounds each round trip. Zero disables the bound.
	OperationTimeout time.Duration
}

// Store is a JSON value cache over Redis. All keys are namespaced by the
// configured prefix; values never outlive their TTL.
type Store struct {
	redis   redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// Stats summarizes the keyspace owned by a Store.
type Stats struct {
	Keys      int64 `json:"keys"`
	TotalKeys int64 `json:"total_keys"`
}

// New creates a Store backed by the given Redis client.
func New(client redis.UniversalClient, opts Options) *Store {
	return &Store{
		redis:   client,
		prefix:  opts.Prefix,
		timeout: opts.OperationTimeout,
	}
}

// Client exposes the underlying Redis client for sibling components that
// share the connection pool.
func (s *Store) Client() redis.UniversalClient {
	return s.redis
}

// Prefix returns the key namespace.
func (s *Store) Prefix() string {
	return s.prefix
}

// Key returns the fully namespaced form of key.
func (s *Store) Key(key string) string {
	return s.prefix + key
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Get decodes the value stored at key into dest.
func (s *Store) Get(ctx context.Context, key string, dest any) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	raw, err := s.redis.Get(ctx, s.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return nil
}

// Set stores value at key. A non-positive ttl stores without expiry.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.redis.Set(ctx, s.Key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete removes keys. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.Key(k)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := s.redis.Exists(ctx, s.Key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// Increment adds delta to the integer at key and returns the new value.
// The ttl is applied only when the key is created by this call.
func (s *Store) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	full := s.Key(key)
	n, err := s.redis.IncrBy(ctx, full, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n == delta && ttl > 0 {
		if err := s.redis.Expire(ctx, full, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return n, nil
}

// Decrement subtracts delta from the integer at key.
func (s *Store) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := s.redis.DecrBy(ctx, s.Key(key), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// GetMany returns the raw JSON for every key that is present. Missing keys
// are absent from the result.
func (s *Store) GetMany(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.Key(k)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	values, err := s.redis.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		out[keys[i]] = json.RawMessage(str)
	}
	return out, nil
}

// SetMany stores every entry with the same ttl in one pipeline.
func (s *Store) SetMany(ctx context.Context, entries map[string]any, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	encoded := make(map[string][]byte, len(entries))
	for k, v := range entries {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("cache: encode %q: %w", k, err)
		}
		encoded[k] = raw
	}
	if ttl < 0 {
		ttl = 0
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, raw := range encoded {
			p.Set(ctx, s.Key(k), raw, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Clear deletes every key under the store prefix and returns how many were
// removed. It refuses to run without a prefix.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	if s.prefix == "" {
		return 0, errors.New("cache: refusing to clear an unprefixed keyspace")
	}

	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(keys) > 0 {
			n, err := s.redis.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Stats counts the keys under the prefix alongside the database size.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	total, err := s.redis.DBSize(ctx).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var (
		cursor uint64
		owned  int64
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		owned += int64(len(keys))
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return Stats{Keys: owned, TotalKeys: total}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Remember returns the cached value at key, or calls load, caches its
// result for ttl and returns it. Cache read failures fall through to load;
// cache write failures are ignored because load is the source of truth.
func Remember[T any](ctx context.Context, s *Store, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var cached T
	if err := s.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	value, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	_ = s.Set(ctx, key, value, ttl)
	return value, nil
}
