package authgate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authgate/audit"
	"github.com/MrEthical07/authgate/cache"
)

// Login authenticates identifier (email or username) with secret and
// issues a token. Blocked sources and rate-limited callers are turned away
// before any account lookup. Unknown accounts and wrong secrets return the
// same ErrAuthenticationFailed.
func (e *Engine) Login(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	if e == nil || e.users == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}
	source := clientIPFromContext(ctx)
	identifier = strings.TrimSpace(identifier)

	if err := e.checkLoginSource(ctx, source, identifier); err != nil {
		return nil, err
	}

	if identifier == "" || secret == "" {
		return nil, fmt.Errorf("%w: identifier and password are required", ErrValidation)
	}

	actorKey := loginActorKey(source, identifier)
	if err := e.consume(ctx, actorKey, ActionLogin, ""); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
		}
		return nil, err
	}

	user, found, err := e.lookupUser(ctx, identifier)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.auditAuth(ctx, auditEventLoginFailed, audit.SeverityError, "", err, map[string]any{
			"identifier": identifier,
			"reason":     "lookup_failed",
		})
		return nil, err
	}

	hash := e.dummyHash
	if found {
		hash = user.PasswordHash
	}
	ok, verr := e.hasher.Verify(secret, hash)
	if verr != nil {
		e.logger.Warn("authgate: stored hash rejected", "identifier", identifier, "error", verr)
	}
	if !found || !ok || verr != nil {
		return nil, e.loginFailed(ctx, source, identifier, user.ID, found)
	}

	e.upgradeHash(ctx, user, secret)

	signed, expiresAt, err := e.Issue(ctx, Subject{ID: user.ID, Role: user.Role, Email: user.Email})
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.auditAuth(ctx, auditEventLoginFailed, audit.SeverityError, user.ID, err, map[string]any{
			"identifier": identifier,
			"reason":     "issue_failed",
		})
		return nil, err
	}

	if err := e.limiter.Reset(ctx, actorKey, ActionLogin); err != nil {
		e.logger.Warn("authgate: login counter reset failed", "error", err)
	}

	e.metricInc(MetricLoginSuccess)
	e.auditAuth(ctx, auditEventLoginSuccess, audit.SeverityInfo, user.ID, nil, map[string]any{
		"identifier": identifier,
	})

	return &LoginResult{
		Token:     signed,
		ExpiresAt: expiresAt,
		User:      user.Public(),
	}, nil
}

func loginActorKey(source, identifier string) string {
	if source == "" {
		source = "unknown"
	}
	return "guest:" + source + ":" + strings.ToLower(identifier)
}

// checkLoginSource denies blocklisted sources without revealing anything
// about the account.
func (e *Engine) checkLoginSource(ctx context.Context, source, identifier string) error {
	if source == "" || e.blocker == nil {
		return nil
	}
	blocked, entry, err := e.blocker.IsBlocked(ctx, source)
	if err != nil {
		e.logger.Error("authgate: blocklist lookup failed", "source", source, "error", err)
		if e.config.SourceGuard.FailClosed {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}
	if !blocked {
		return nil
	}

	e.metricInc(MetricLoginBlocked)
	details := map[string]any{"identifier": identifier}
	if entry != nil {
		details["block_reason"] = entry.Reason
	}
	e.auditSecurity(ctx, auditEventBlockedLoginAttempt, audit.SeverityWarning, "", ErrBlocked, details)
	return ErrBlocked
}

// lookupUser reads the account cache-first. found is false for unknown
// accounts; err is set only when the repository itself failed.
func (e *Engine) lookupUser(ctx context.Context, identifier string) (UserRecord, bool, error) {
	user, err := cache.Remember(ctx, e.cache, cache.UserKey(identifier), e.config.Cache.UserTTL,
		func(ctx context.Context) (UserRecord, error) {
			return e.users.FindByIdentifier(ctx, identifier)
		})
	switch {
	case err == nil:
		return user, true, nil
	case errors.Is(err, ErrUserNotFound):
		return UserRecord{}, false, nil
	default:
		return UserRecord{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (e *Engine) loginFailed(ctx context.Context, source, identifier, userID string, found bool) error {
	escalated := false
	if source != "" && e.blocker != nil {
		var err error
		escalated, err = e.blocker.RecordFailure(ctx, source)
		if err != nil {
			e.logger.Warn("authgate: failed attempt not recorded", "source", source, "error", err)
		}
	}

	reason := "invalid_secret"
	if !found {
		reason = "unknown_account"
	}
	e.metricInc(MetricLoginFailure)
	e.auditAuth(ctx, auditEventLoginFailed, audit.SeverityWarning, userID, ErrAuthenticationFailed, map[string]any{
		"identifier": identifier,
		"reason":     reason,
		"escalated":  escalated,
	})
	return ErrAuthenticationFailed
}

// upgradeHash re-hashes secret when the stored hash is legacy or weaker
// than the configured parameters. Failures are logged; login proceeds.
func (e *Engine) upgradeHash(ctx context.Context, user UserRecord, secret string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.hasher.Hash(secret)
	if err != nil {
		// Legacy secrets may predate the current length policy.
		e.logger.Debug("authgate: hash upgrade skipped", "subject_id", user.ID, "error", err)
		return
	}
	if err := e.users.UpdateSecretHash(ctx, user.ID, upgraded); err != nil {
		e.logger.Warn("authgate: hash upgrade not persisted", "subject_id", user.ID, "error", err)
		return
	}
	e.dropUserCache(ctx, user)
	e.auditAuth(ctx, auditEventPasswordHashUpgraded, audit.SeverityInfo, user.ID, nil, nil)
}

func (e *Engine) dropUserCache(ctx context.Context, user UserRecord) {
	keys := []string{cache.UserIDKey(user.ID)}
	if user.Email != "" {
		keys = append(keys, cache.UserKey(user.Email))
	}
	if user.Username != "" {
		keys = append(keys, cache.UserKey(user.Username))
	}
	if err := e.cache.Delete(ctx, keys...); err != nil {
		e.logger.Warn("authgate: profile cache invalidation failed", "subject_id", user.ID, "error", err)
	}
}
