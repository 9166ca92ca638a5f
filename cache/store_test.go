package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, Options{Prefix: "test:", OperationTimeout: time.Second}), mr
}

type profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func TestSetGetRoundTripUsesPrefix(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, UserKey("A@Example.com"), profile{ID: "1", Email: "a@example.com"}, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("test:user:a@example.com") {
		t.Fatalf("expected namespaced key, have %v", mr.Keys())
	}

	var got profile
	if err := s.Get(ctx, UserKey("a@example.com"), &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "1" {
		t.Fatalf("unexpected profile %+v", got)
	}
}

func TestGetMissAfterTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	var v string
	if err := s.Get(ctx, "k", &v); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "k", 1, 0)
	for i := 0; i < 2; i++ {
		if err := s.Delete(ctx, "k"); err != nil {
			t.Fatalf("delete #%d: %v", i, err)
		}
	}
	ok, err := s.Exists(ctx, "k")
	if err != nil || ok {
		t.Fatalf("expected key gone, ok=%v err=%v", ok, err)
	}
}

func TestIncrementAppliesTTLOnCreate(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	n, err := s.Increment(ctx, "hits", 1, time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("first increment: n=%d err=%v", n, err)
	}
	n, err = s.Increment(ctx, "hits", 2, time.Minute)
	if err != nil || n != 3 {
		t.Fatalf("second increment: n=%d err=%v", n, err)
	}
	if ttl := mr.TTL("test:hits"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	n, err = s.Decrement(ctx, "hits", 1)
	if err != nil || n != 2 {
		t.Fatalf("decrement: n=%d err=%v", n, err)
	}
}

func TestGetManySkipsMissing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SetMany(ctx, map[string]any{"a": 1, "b": "two"}, time.Minute); err != nil {
		t.Fatalf("set many: %v", err)
	}
	got, err := s.GetMany(ctx, "a", "b", "c")
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(got) != 2 || string(got["a"]) != "1" || string(got["b"]) != `"two"` {
		t.Fatalf("unexpected values %v", got)
	}
}

func TestRememberLoadsOnceAndCaches(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	calls := 0
	load := func(context.Context) (profile, error) {
		calls++
		return profile{ID: "7"}, nil
	}
	for i := 0; i < 3; i++ {
		p, err := Remember(ctx, s, UserIDKey("7"), time.Hour, load)
		if err != nil || p.ID != "7" {
			t.Fatalf("remember #%d: %+v %v", i, p, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one load, got %d", calls)
	}
}

func TestRememberFallsThroughWhenRedisDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	p, err := Remember(context.Background(), s, "x", time.Hour, func(context.Context) (profile, error) {
		return profile{ID: "db"}, nil
	})
	if err != nil || p.ID != "db" {
		t.Fatalf("expected loader result, got %+v %v", p, err)
	}
}

func TestClearOnlyTouchesPrefix(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "a", 1, 0)
	_ = s.Set(ctx, "b", 2, 0)
	if err := mr.Set("other:c", "3"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil || stats.Keys != 2 || stats.TotalKeys != 3 {
		t.Fatalf("unexpected stats %+v %v", stats, err)
	}

	n, err := s.Clear(ctx)
	if err != nil || n != 2 {
		t.Fatalf("clear: n=%d err=%v", n, err)
	}
	if !mr.Exists("other:c") {
		t.Fatalf("foreign key removed")
	}
}

func TestUnavailableIsWrapped(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	var v string
	if err := s.Get(context.Background(), "k", &v); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
