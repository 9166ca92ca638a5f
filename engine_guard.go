package authgate

import (
	"context"
	"fmt"
	"net/http"

	"github.com/MrEthical07/authgate/audit"
	"github.com/MrEthical07/authgate/csrf"
	"github.com/MrEthical07/authgate/ipguard"
	"github.com/MrEthical07/authgate/session"
)

// CheckSource logs the request from source and then applies the blocklist
// and velocity checks. It returns ErrBlocked for blocklisted sources and a
// *RateLimitError with scope "source" for velocity denials. Blocker
// outages let the request through unless SourceGuard.FailClosed is set.
func (e *Engine) CheckSource(ctx context.Context, source string) error {
	if e == nil || e.blocker == nil {
		return ErrEngineNotReady
	}
	if source == "" {
		return nil
	}

	if err := e.blocker.RecordRequest(ctx, source); err != nil {
		e.logger.Warn("authgate: request log write failed", "source", source, "error", err)
	}

	verdict, err := e.blocker.Check(ctx, source)
	if err != nil {
		e.logger.Error("authgate: source check failed", "source", source, "error", err)
		if e.config.SourceGuard.FailClosed {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}
	if verdict.Allowed {
		return nil
	}

	switch verdict.Reason {
	case ipguard.ReasonRateLimitExceeded:
		e.metricInc(MetricSourceVelocityExceeded)
		rlErr := &RateLimitError{Scope: "source", RetryAfter: verdict.RetryAfter}
		e.auditSecurity(ctx, auditEventSourceVelocityExceeded, audit.SeverityWarning, "", rlErr, map[string]any{
			"source":      source,
			"retry_after": rlErr.RetryAfterSeconds(),
		})
		return rlErr
	default:
		e.metricInc(MetricSourceBlocked)
		e.auditSecurity(ctx, auditEventBlockedRequest, audit.SeverityWarning, "", ErrBlocked, map[string]any{
			"source": source,
		})
		return ErrBlocked
	}
}

// ConsumeRate spends one attempt of action for actorKey. Denials are
// audited and returned as *RateLimitError. Actions without a policy always
// pass.
func (e *Engine) ConsumeRate(ctx context.Context, actorKey, action string) error {
	if e == nil || e.limiter == nil {
		return ErrEngineNotReady
	}
	return e.consume(ctx, actorKey, action, "")
}

func (e *Engine) consume(ctx context.Context, actorKey, action, actorID string) error {
	decision, err := e.limiter.Allow(ctx, actorKey, action)
	if err != nil {
		e.logger.Error("authgate: rate limiter unavailable", "action", action, "error", err)
		if e.config.RateLimit.FailClosed {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}
	if decision.Allowed {
		return nil
	}

	rlErr := &RateLimitError{Scope: action, RetryAfter: decision.RetryAfter}
	e.metricInc(MetricRateLimitHit)
	e.auditSecurity(ctx, auditEventRateLimitExceeded, audit.SeverityWarning, actorID, rlErr, map[string]any{
		"action":      action,
		"actor_key":   actorKey,
		"attempts":    decision.Attempts,
		"retry_after": rlErr.RetryAfterSeconds(),
	})
	return rlErr
}

// CSRFToken returns the anti-forgery token of s, creating it on first use.
func (e *Engine) CSRFToken(ctx context.Context, s *session.Session) (string, error) {
	if e == nil || e.csrf == nil {
		return "", ErrEngineNotReady
	}
	tok, err := e.csrf.TokenForSession(ctx, s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return tok, nil
}

// ValidateCSRF returns ErrCSRFMismatch when r is state-changing and does
// not carry the token of s.
func (e *Engine) ValidateCSRF(ctx context.Context, r *http.Request, s *session.Session) error {
	if e == nil || e.csrf == nil {
		return ErrEngineNotReady
	}
	if e.csrf.Validate(r, s) {
		return nil
	}

	reason := "mismatch"
	if e.csrf.Submitted(r) == "" {
		reason = "missing_token"
	} else if s == nil || s.Get(csrf.SessionKey) == "" {
		reason = "no_session_token"
	}
	e.metricInc(MetricCSRFRejected)
	e.auditSecurity(ctx, auditEventCSRFRejected, audit.SeverityWarning, "", nil, map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"reason": reason,
	})
	return ErrCSRFMismatch
}

// HasPermission reports whether role grants perm.
func (e *Engine) HasPermission(role, perm string) bool {
	if e == nil || e.roleManager == nil {
		return false
	}
	return e.roleManager.HasPermission(role, perm)
}

// Authorize returns ErrInsufficientRole unless claims grant perm.
func (e *Engine) Authorize(ctx context.Context, claims *Claims, perm string) error {
	if claims != nil && e.HasPermission(claims.Role, perm) {
		return nil
	}
	var subjectID, role string
	if claims != nil {
		subjectID, role = claims.SubjectID, claims.Role
	}
	e.auditSecurity(ctx, auditEventPermissionDenied, audit.SeverityWarning, subjectID, nil, map[string]any{
		"permission": perm,
		"role":       role,
	})
	return ErrInsufficientRole
}
