package ipguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authgate/audit"
)

const (
	// ReasonBlacklisted marks a denial caused by a blocklist entry.
	ReasonBlacklisted = "blacklisted"
	// ReasonRateLimitExceeded marks a denial caused by request velocity.
	ReasonRateLimitExceeded = "rate_limit_exceeded"
	// ReasonFailedLogins is the reason attached to automatic blocks.
	ReasonFailedLogins = "too_many_failed_logins"

	scanBatch = 200
)

var (
	// ErrInvalidSource is returned when a source is not an IP address.
	ErrInvalidSource = errors.New("invalid source address")
	// ErrRedisUnavailable wraps blocklist store failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Config tunes a Blocker.
type Config struct {
	Prefix string
	// MaxRequests is the per-source ceiling within Window.
	MaxRequests int
	Window      time.Duration
	// Retention is how long request log entries are kept.
	Retention time.Duration
	// FailureThreshold failed logins within FailureWindow trigger an
	// automatic block of AutoBlockDuration. Zero disables escalation.
	FailureThreshold  int
	FailureWindow     time.Duration
	AutoBlockDuration time.Duration
	Now               func() time.Time
}

// DefaultConfig returns the gateway defaults: 100 requests per minute,
// 24h request log retention, auto-block for one hour after 20 failed logins
// in an hour.
func DefaultConfig() Config {
	return Config{
		Prefix:            "",
		MaxRequests:       100,
		Window:            time.Minute,
		Retention:         24 * time.Hour,
		FailureThreshold:  20,
		FailureWindow:     time.Hour,
		AutoBlockDuration: time.Hour,
	}
}

// Entry is one blocklist record. A nil ExpiresAt means permanent.
type Entry struct {
	Source    string     `json:"source"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the entry still blocks at now.
func (e Entry) Active(now time.Time) bool {
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// Verdict is the outcome of Check.
type Verdict struct {
	Allowed bool
	Reason  string
	Entry   *Entry
	// RetryAfter is set for velocity denials.
	RetryAfter time.Duration
}

// SweepResult reports what Sweep removed.
type SweepResult struct {
	BlocksRemoved      int   `json:"blocks_removed"`
	RequestLogsPruned  int64 `json:"request_logs_pruned"`
	RequestLogsDeleted int   `json:"request_logs_deleted"`
}

// Blocker decides whether a source address may proceed.
type Blocker struct {
	redis  redis.UniversalClient
	cfg    Config
	audit  audit.Recorder
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Blocker. rec may be nil.
func New(client redis.UniversalClient, cfg Config, rec audit.Recorder, logger *slog.Logger) (*Blocker, error) {
	if cfg.MaxRequests <= 0 || cfg.Window <= 0 {
		return nil, errors.New("ipguard: MaxRequests and Window must be positive")
	}
	if cfg.Retention < cfg.Window {
		return nil, errors.New("ipguard: Retention must cover Window")
	}
	if cfg.FailureThreshold > 0 && (cfg.FailureWindow <= 0 || cfg.AutoBlockDuration <= 0) {
		return nil, errors.New("ipguard: escalation requires FailureWindow and AutoBlockDuration")
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Blocker{redis: client, cfg: cfg, audit: rec, logger: logger, now: now}, nil
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, audit.Event) {}

func (b *Blocker) blockKey(source string) string { return b.cfg.Prefix + "ipg:block:" + source }
func (b *Blocker) indexKey() string              { return b.cfg.Prefix + "ipg:blocklist" }
func (b *Blocker) requestKey(source string) string {
	return b.cfg.Prefix + "ipg:req:" + source
}
func (b *Blocker) failureKey(source string) string {
	return b.cfg.Prefix + "ipg:fail:" + source
}

// IsBlocked reports whether source has an active blocklist entry.
func (b *Blocker) IsBlocked(ctx context.Context, source string) (bool, *Entry, error) {
	raw, err := b.redis.Get(ctx, b.blockKey(source)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return false, nil, fmt.Errorf("ipguard: decode entry for %s: %w", source, err)
	}
	if !e.Active(b.now()) {
		return false, nil, nil
	}
	return true, &e, nil
}

// Check denies blocklisted sources and sources whose request log within
// the trailing window exceeds the ceiling. Every denial is audited.
func (b *Blocker) Check(ctx context.Context, source string) (Verdict, error) {
	blocked, entry, err := b.IsBlocked(ctx, source)
	if err != nil {
		return Verdict{Allowed: true}, err
	}
	if blocked {
		b.audit.Record(ctx, audit.Event{
			Category: audit.CategorySecurity,
			Action:   "source_denied",
			Source:   source,
			Severity: audit.SeverityWarning,
			Details:  map[string]any{"reason": ReasonBlacklisted, "block_reason": entry.Reason},
		})
		return Verdict{Reason: ReasonBlacklisted, Entry: entry}, nil
	}

	count, err := b.RequestCount(ctx, source)
	if err != nil {
		return Verdict{Allowed: true}, err
	}
	if count > int64(b.cfg.MaxRequests) {
		b.audit.Record(ctx, audit.Event{
			Category: audit.CategorySecurity,
			Action:   "source_denied",
			Source:   source,
			Severity: audit.SeverityWarning,
			Details: map[string]any{
				"reason":   ReasonRateLimitExceeded,
				"requests": count,
				"limit":    b.cfg.MaxRequests,
			},
		})
		return Verdict{Reason: ReasonRateLimitExceeded, RetryAfter: b.cfg.Window}, nil
	}

	return Verdict{Allowed: true}, nil
}

// RequestCount returns how many requests source made in the trailing
// window.
func (b *Blocker) RequestCount(ctx context.Context, source string) (int64, error) {
	from := b.now().Add(-b.cfg.Window).UnixMilli()
	n, err := b.redis.ZCount(ctx, b.requestKey(source), "("+strconv.FormatInt(from, 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// RecordRequest appends a request log entry for source.
func (b *Blocker) RecordRequest(ctx context.Context, source string) error {
	now := b.now().UnixMilli()
	key := b.requestKey(source)
	_, err := b.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: strconv.FormatInt(now, 10) + "-" + uuid.NewString()})
		p.PExpire(ctx, key, b.cfg.Retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RecordFailure counts a failed login from source and blocks it once the
// threshold is reached. It reports whether this call escalated to a block.
func (b *Blocker) RecordFailure(ctx context.Context, source string) (bool, error) {
	if b.cfg.FailureThreshold <= 0 || source == "" {
		return false, nil
	}
	key := b.failureKey(source)

	count, err := b.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := b.redis.PExpire(ctx, key, b.cfg.FailureWindow).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	if count < int64(b.cfg.FailureThreshold) {
		return false, nil
	}

	if _, err := b.Block(ctx, source, ReasonFailedLogins, b.cfg.AutoBlockDuration); err != nil {
		return false, err
	}
	if err := b.redis.Del(ctx, key).Err(); err != nil {
		b.logger.Warn("ipguard: failed to reset failure counter", slog.String("source", source), slog.Any("error", err))
	}
	return true, nil
}

// Block adds or replaces the blocklist entry for source. A non-positive
// ttl blocks permanently.
func (b *Blocker) Block(ctx context.Context, source, reason string, ttl time.Duration) (Entry, error) {
	if net.ParseIP(source) == nil {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}

	now := b.now().UTC()
	entry := Entry{Source: source, Reason: reason, CreatedAt: now}
	score := float64(0)
	var keyTTL time.Duration
	if ttl > 0 {
		exp := now.Add(ttl)
		entry.ExpiresAt = &exp
		score = float64(exp.UnixMilli())
		keyTTL = ttl
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, err
	}

	_, err = b.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, b.blockKey(source), raw, keyTTL)
		p.ZAdd(ctx, b.indexKey(), redis.Z{Score: score, Member: source})
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	details := map[string]any{"reason": reason, "permanent": entry.ExpiresAt == nil}
	if entry.ExpiresAt != nil {
		details["expires_at"] = entry.ExpiresAt.Format(time.RFC3339)
	}
	b.audit.Record(ctx, audit.Event{
		Category: audit.CategorySecurity,
		Action:   "source_blocked",
		Source:   source,
		Severity: audit.SeverityWarning,
		Details:  details,
	})
	return entry, nil
}

// Unblock removes the blocklist entry for source. Removing an absent entry
// is not an error.
func (b *Blocker) Unblock(ctx context.Context, source string) error {
	_, err := b.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, b.blockKey(source))
		p.ZRem(ctx, b.indexKey(), source)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	b.audit.Record(ctx, audit.Event{
		Category: audit.CategorySecurity,
		Action:   "source_unblocked",
		Source:   source,
		Severity: audit.SeverityInfo,
	})
	return nil
}

// List returns the active blocklist entries.
func (b *Blocker) List(ctx context.Context) ([]Entry, error) {
	sources, err := b.redis.ZRange(ctx, b.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(sources) == 0 {
		return []Entry{}, nil
	}

	keys := make([]string, len(sources))
	for i, s := range sources {
		keys[i] = b.blockKey(s)
	}
	values, err := b.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := b.now()
	out := make([]Entry, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			continue
		}
		if e.Active(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Sweep removes expired blocklist entries and request log entries older
// than the retention period.
func (b *Blocker) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := b.now()

	expired, err := b.redis.ZRangeByScore(ctx, b.indexKey(), &redis.ZRangeBy{
		Min: "(0",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	for _, source := range expired {
		_, err := b.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, b.blockKey(source))
			p.ZRem(ctx, b.indexKey(), source)
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		res.BlocksRemoved++
	}

	cutoff := strconv.FormatInt(now.Add(-b.cfg.Retention).UnixMilli(), 10)
	var cursor uint64
	for {
		keys, next, err := b.redis.Scan(ctx, cursor, b.cfg.Prefix+"ipg:req:*", scanBatch).Result()
		if err != nil {
			return res, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, key := range keys {
			n, err := b.redis.ZRemRangeByScore(ctx, key, "-inf", cutoff).Result()
			if err != nil {
				return res, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			res.RequestLogsPruned += n
			left, err := b.redis.ZCard(ctx, key).Result()
			if err != nil {
				return res, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			if left == 0 {
				if err := b.redis.Del(ctx, key).Err(); err != nil {
					return res, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
				}
				res.RequestLogsDeleted++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	severity := audit.SeverityDebug
	if res.BlocksRemoved > 0 || res.RequestLogsPruned > 0 {
		severity = audit.SeverityInfo
	}
	b.audit.Record(ctx, audit.Event{
		Category: audit.CategorySystem,
		Action:   "sweep_completed",
		Severity: severity,
		Details: map[string]any{
			"blocks_removed":       res.BlocksRemoved,
			"request_logs_pruned":  res.RequestLogsPruned,
			"request_logs_deleted": res.RequestLogsDeleted,
		},
	})
	return res, nil
}
