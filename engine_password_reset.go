package authgate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authgate/audit"
	"github.com/MrEthical07/authgate/internal"
	"github.com/MrEthical07/authgate/password"
)

const resetTokenBytes = 32

// RequestPasswordReset issues a 256-bit reset token for the account named
// by identifier and hands it to the ResetNotifier. Unknown identifiers
// return nil so callers cannot enumerate accounts. Requests are limited per
// source.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) error {
	store, err := e.resetStore()
	if err != nil {
		return err
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return fmt.Errorf("%w: identifier required", ErrValidation)
	}

	source := clientIPFromContext(ctx)
	if err := e.consume(ctx, "guest:"+source, ActionPasswordResetRequest, ""); err != nil {
		return err
	}

	user, err := e.users.FindByIdentifier(ctx, identifier)
	if errors.Is(err, ErrUserNotFound) {
		e.auditAuth(ctx, auditEventPasswordResetRequested, audit.SeverityNotice, "", err, nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	tok, err := internal.NewHexToken(resetTokenBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	expiresAt := e.now().Add(e.config.Security.ResetTokenTTL).UTC()

	if err := store.SetResetToken(ctx, user.ID, resetDigest(tok), expiresAt); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	e.dropUserCache(ctx, user)

	if err := e.notifier.SendPasswordReset(ctx, user.Public(), tok, expiresAt); err != nil {
		e.logger.Error("authgate: reset notification failed", "subject_id", user.ID, "error", err)
		e.auditAuth(ctx, auditEventPasswordResetRequested, audit.SeverityError, user.ID, ErrUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.auditAuth(ctx, auditEventPasswordResetRequested, audit.SeverityNotice, user.ID, nil, map[string]any{
		"expires_at": expiresAt,
	})
	return nil
}

// ConfirmPasswordReset redeems token and sets newSecret. The token is
// single-use. The account's live token is always revoked.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, tok, newSecret string) error {
	store, err := e.resetStore()
	if err != nil {
		return err
	}
	tok = strings.TrimSpace(tok)
	if tok == "" || newSecret == "" {
		return fmt.Errorf("%w: token and new password are required", ErrValidation)
	}

	source := clientIPFromContext(ctx)
	if err := e.consume(ctx, "guest:"+source, ActionPasswordResetConfirm, ""); err != nil {
		return err
	}

	if len(tok) != 2*resetTokenBytes {
		e.auditAuth(ctx, auditEventPasswordResetFailed, audit.SeverityWarning, "", ErrResetTokenInvalid, nil)
		return ErrResetTokenInvalid
	}
	digest := resetDigest(tok)

	user, err := store.FindByResetToken(ctx, digest)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil || !internal.EqualSecret(user.ResetToken, digest) ||
		user.ResetTokenExpiry == nil || !e.now().Before(*user.ResetTokenExpiry) {
		e.auditAuth(ctx, auditEventPasswordResetFailed, audit.SeverityWarning, user.ID, ErrResetTokenInvalid, nil)
		return ErrResetTokenInvalid
	}

	newHash, err := e.hasher.Hash(newSecret)
	if err != nil {
		if errors.Is(err, password.ErrPolicy) {
			err = fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		e.auditAuth(ctx, auditEventPasswordResetFailed, audit.SeverityNotice, user.ID, err, nil)
		return err
	}

	// Clears the reset digest, which makes the token single-use.
	if err := e.users.UpdateSecretHash(ctx, user.ID, newHash); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	e.dropUserCache(ctx, user)

	revoked := true
	if err := e.revokeToken(ctx, user.ID); err != nil {
		revoked = false
		e.logger.Error("authgate: token revocation after password reset failed", "subject_id", user.ID, "error", err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.auditAuth(ctx, auditEventPasswordResetCompleted, audit.SeverityNotice, user.ID, nil, map[string]any{
		"token_revoked": revoked,
	})
	return nil
}

func (e *Engine) resetStore() (PasswordResetRepository, error) {
	if e == nil || e.users == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}
	store, ok := e.users.(PasswordResetRepository)
	if !ok || e.notifier == nil {
		return nil, ErrResetUnsupported
	}
	return store, nil
}

func resetDigest(tok string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(tok)))
	return hex.EncodeToString(sum[:])
}
