package authgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authgate/audit"
	"github.com/MrEthical07/authgate/ipguard"
)

// BlockSource adds source to the blocklist on behalf of actorID. A
// non-positive ttl blocks permanently.
func (e *Engine) BlockSource(ctx context.Context, actorID, source, reason string, ttl time.Duration) (ipguard.Entry, error) {
	if e == nil || e.blocker == nil {
		return ipguard.Entry{}, ErrEngineNotReady
	}
	if reason == "" {
		reason = "manual"
	}
	entry, err := e.blocker.Block(ctx, source, reason, ttl)
	if err != nil {
		return ipguard.Entry{}, mapBlockerError(err)
	}
	e.auditAdmin(ctx, "blocklist_add", actorID, map[string]any{
		"target":    source,
		"reason":    reason,
		"permanent": entry.ExpiresAt == nil,
	})
	return entry, nil
}

// UnblockSource removes source from the blocklist on behalf of actorID.
func (e *Engine) UnblockSource(ctx context.Context, actorID, source string) error {
	if e == nil || e.blocker == nil {
		return ErrEngineNotReady
	}
	if err := e.blocker.Unblock(ctx, source); err != nil {
		return mapBlockerError(err)
	}
	e.auditAdmin(ctx, "blocklist_remove", actorID, map[string]any{"target": source})
	return nil
}

// ListBlocked returns the active blocklist entries.
func (e *Engine) ListBlocked(ctx context.Context) ([]ipguard.Entry, error) {
	if e == nil || e.blocker == nil {
		return nil, ErrEngineNotReady
	}
	entries, err := e.blocker.List(ctx)
	if err != nil {
		return nil, mapBlockerError(err)
	}
	return entries, nil
}

// SweepExpired runs one blocklist and request log sweep.
func (e *Engine) SweepExpired(ctx context.Context) (ipguard.SweepResult, error) {
	if e == nil || e.blocker == nil {
		return ipguard.SweepResult{}, ErrEngineNotReady
	}
	res, err := e.blocker.Sweep(ctx)
	if err != nil {
		return res, mapBlockerError(err)
	}
	return res, nil
}

// RunSweeper sweeps every SourceGuard.SweepInterval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context) {
	if e == nil || e.blocker == nil {
		return
	}
	e.blocker.RunSweeper(ctx, e.config.SourceGuard.SweepInterval)
}

// RecentAudit returns up to limit audit events, newest first.
func (e *Engine) RecentAudit(ctx context.Context, limit int) ([]audit.Event, error) {
	if e == nil || e.audit == nil {
		return nil, ErrEngineNotReady
	}
	return e.audit.Recent(ctx, limit)
}

// SearchAudit returns audit events matching criteria, newest first.
func (e *Engine) SearchAudit(ctx context.Context, criteria audit.Criteria) ([]audit.Event, error) {
	if e == nil || e.audit == nil {
		return nil, ErrEngineNotReady
	}
	return e.audit.Search(ctx, criteria)
}

func mapBlockerError(err error) error {
	switch {
	case errors.Is(err, ipguard.ErrInvalidSource):
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	case errors.Is(err, ipguard.ErrRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}
