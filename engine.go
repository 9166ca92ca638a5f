package authgate

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrEthical07/authgate/audit"
	"github.com/MrEthical07/authgate/cache"
	"github.com/MrEthical07/authgate/csrf"
	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/ipguard"
	"github.com/MrEthical07/authgate/password"
	"github.com/MrEthical07/authgate/permission"
	"github.com/MrEthical07/authgate/session"
	"github.com/MrEthical07/authgate/token"
)

// Engine is the gateway. It is safe for concurrent use once built.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	registry    *permission.Registry
	roleManager *permission.RoleManager

	cache     *cache.Store
	tokens    *token.Manager
	hasher    *password.Hasher
	dummyHash string
	limiter   *rate.Limiter
	blocker   *ipguard.Blocker
	sessions  *session.Manager
	csrf      *csrf.Guard
	audit     *audit.Log
	metrics   *Metrics

	users    UserRepository
	notifier ResetNotifier
}

// Close drains pending audit events. The Redis client belongs to the
// caller and is left open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Logger returns the operational logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// Sessions returns the browser session manager.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// Cache returns the shared cache store.
func (e *Engine) Cache() *cache.Store {
	return e.cache
}

// Ping checks the cache backend.
func (e *Engine) Ping(ctx context.Context) error {
	return e.cache.Ping(ctx)
}

// AuditOverflowed returns how many audit events went to the fallback sink
// because the queue was full.
func (e *Engine) AuditOverflowed() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Overflowed()
}

// AuditFailed returns how many sink writes failed.
func (e *Engine) AuditFailed() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Failed()
}

// MetricsSnapshot copies the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}
