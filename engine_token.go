package authgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authgate/audit"
	"github.com/MrEthical07/authgate/cache"
	"github.com/MrEthical07/authgate/internal"
	"github.com/MrEthical07/authgate/token"
)

// Issue signs a token for subject and records it as the subject's only
// live token, replacing any earlier one. The token is not returned when it
// cannot be recorded, since it would never verify.
func (e *Engine) Issue(ctx context.Context, subject Subject) (string, time.Time, error) {
	if e == nil || e.tokens == nil || e.cache == nil {
		return "", time.Time{}, ErrEngineNotReady
	}
	if subject.ID == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject id required", ErrValidation)
	}

	signed, expiresAt, err := e.tokens.Issue(subject.ID, subject.Role, subject.Email)
	if err != nil {
		return "", time.Time{}, err
	}

	ttl := expiresAt.Sub(e.now())
	if ttl <= 0 {
		ttl = e.tokens.TTL()
	}
	if err := e.cache.Set(ctx, cache.TokenKey(subject.ID), signed, ttl); err != nil {
		e.logger.Error("authgate: token store write failed", "subject_id", subject.ID, "error", err)
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricTokenIssued)
	return signed, expiresAt, nil
}

// Verify checks structure, expiry and signature, then requires the token
// to be the subject's live token. Any cache failure denies.
func (e *Engine) Verify(ctx context.Context, tokenStr string) (*Claims, error) {
	if e == nil || e.tokens == nil || e.cache == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Time{}
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}

	claims, err := e.verify(ctx, tokenStr)

	if !start.IsZero() {
		e.metrics.Observe(MetricVerifyLatency, time.Since(start))
	}
	if err != nil {
		e.metricInc(MetricTokenRejected)
		var subjectID string
		if claims != nil {
			subjectID = claims.SubjectID
		}
		e.auditAuth(ctx, auditEventTokenRejected, audit.SeverityNotice, subjectID, err, nil)
		return nil, err
	}

	e.metricInc(MetricTokenVerified)
	return claims, nil
}

// RejectMissingToken records a request that reached a guarded route
// without a bearer credential and returns the error to answer it with.
func (e *Engine) RejectMissingToken(ctx context.Context) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	e.metricInc(MetricTokenRejected)
	e.auditAuth(ctx, auditEventTokenRejected, audit.SeverityNotice, "", ErrTokenMalformed, map[string]any{
		"reason": "missing_bearer",
	})
	return ErrTokenMalformed
}

func (e *Engine) verify(ctx context.Context, tokenStr string) (*Claims, error) {
	claims, err := e.tokens.Parse(tokenStr)
	if err != nil {
		return nil, mapTokenError(err)
	}

	var live string
	err = e.cache.Get(ctx, cache.TokenKey(claims.SubjectID), &live)
	switch {
	case errors.Is(err, cache.ErrMiss):
		return claims, ErrTokenRevoked
	case err != nil:
		e.logger.Warn("authgate: token store read failed", "subject_id", claims.SubjectID, "error", err)
		return claims, ErrTokenRevoked
	}
	if !internal.EqualSecret(live, tokenStr) {
		return claims, ErrTokenRevoked
	}
	return claims, nil
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrMalformed):
		return ErrTokenMalformed
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}

// revokeToken removes the live token for subjectID.
func (e *Engine) revokeToken(ctx context.Context, subjectID string) error {
	if err := e.cache.Delete(ctx, cache.TokenKey(subjectID)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
