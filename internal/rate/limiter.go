package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Policy is the attempt ceiling for one action.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

func (p Policy) validate() error {
	if p.MaxAttempts <= 0 || p.Window <= 0 {
		return fmt.Errorf("%w: max=%d window=%s", ErrInvalidPolicy, p.MaxAttempts, p.Window)
	}
	return nil
}

// Decision is the outcome of one attempt.
type Decision struct {
	Allowed bool
	// Attempts is the counter value after this call.
	Attempts int
	// Remaining is how many more attempts the window admits.
	Remaining int
	// RetryAfter is the time until the window resets. Set only on denial.
	RetryAfter time.Duration
}

// Config configures a Limiter.
type Config struct {
	Prefix   string
	Policies map[string]Policy
	Now      func() time.Time
}

// Limiter enforces fixed-window attempt ceilings per actor and action.
type Limiter struct {
	redis    redis.UniversalClient
	prefix   string
	policies map[string]Policy
	now      func() time.Time
}

// New creates a Limiter backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) (*Limiter, error) {
	policies := make(map[string]Policy, len(cfg.Policies))
	for action, p := range cfg.Policies {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", action, err)
		}
		policies[action] = p
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		redis:    redisClient,
		prefix:   cfg.Prefix,
		policies: policies,
		now:      now,
	}, nil
}

var tryConsumeScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local attempts = tonumber(redis.call("HGET", KEYS[1], "attempts") or "0")
local start = tonumber(redis.call("HGET", KEYS[1], "window_start") or "-1")

if start < 0 or now - start > window then
	attempts = 0
	start = now
	redis.call("HSET", KEYS[1], "attempts", 0, "window_start", ARGV[1])
end

redis.call("PEXPIRE", KEYS[1], window * 2)

if attempts >= max then
	return {0, attempts, start}
end

attempts = redis.call("HINCRBY", KEYS[1], "attempts", 1)
return {1, attempts, start}
`)

// Policy returns the configured policy for action.
func (l *Limiter) Policy(action string) (Policy, bool) {
	p, ok := l.policies[action]
	return p, ok
}

// Allow applies the configured policy for action. Actions without a
// policy are always allowed.
func (l *Limiter) Allow(ctx context.Context, actorKey, action string) (Decision, error) {
	p, ok := l.policies[action]
	if !ok {
		return Decision{Allowed: true}, nil
	}
	return l.TryConsume(ctx, actorKey, action, p.MaxAttempts, p.Window)
}

// TryConsume records one attempt by actorKey at action and reports whether
// it fits within maxAttempts per window.
func (l *Limiter) TryConsume(ctx context.Context, actorKey, action string, maxAttempts int, window time.Duration) (Decision, error) {
	if err := (Policy{MaxAttempts: maxAttempts, Window: window}).validate(); err != nil {
		return Decision{}, err
	}

	nowMS := l.now().UnixMilli()
	windowMS := window.Milliseconds()

	res, err := tryConsumeScript.Run(ctx, l.redis,
		[]string{l.key(action, actorKey)},
		nowMS, windowMS, maxAttempts,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrRedisUnavailable, res)
	}

	attempts := int(res[1])
	d := Decision{
		Allowed:   res[0] == 1,
		Attempts:  attempts,
		Remaining: max(maxAttempts-attempts, 0),
	}
	if !d.Allowed {
		resetAt := res[2] + windowMS
		d.RetryAfter = time.Duration(max(resetAt-nowMS, 0)) * time.Millisecond
	}
	return d, nil
}

// Reset clears the counter for actorKey at action.
func (l *Limiter) Reset(ctx context.Context, actorKey, action string) error {
	if err := l.redis.Del(ctx, l.key(action, actorKey)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) key(action, actorKey string) string {
	return l.prefix + "rl:" + action + ":" + actorKey
}
