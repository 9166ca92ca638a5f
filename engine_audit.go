package authgate

import (
	"context"
	"errors"

	"github.com/MrEthical07/authgate/audit"
)

const (
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailed            = "login_failed"
	auditEventBlockedLoginAttempt    = "blocked_login_attempt"
	auditEventRateLimitExceeded      = "rate_limit_exceeded"
	auditEventLogout                 = "logout"
	auditEventPasswordChanged        = "password_changed"
	auditEventPasswordChangeFailed   = "password_change_failed"
	auditEventPasswordHashUpgraded   = "password_hash_upgraded"
	auditEventUserRegistered         = "user_registered"
	auditEventRegistrationFailed     = "registration_failed"
	auditEventTokenRejected          = "token_rejected"
	auditEventCSRFRejected           = "csrf_rejected"
	auditEventSourceVelocityExceeded = "source_velocity_exceeded"
	auditEventBlockedRequest         = "blocked_request"
	auditEventPermissionDenied       = "permission_denied"
	auditEventPasswordResetRequested = "password_reset_requested"
	auditEventPasswordResetFailed    = "password_reset_failed"
	auditEventPasswordResetCompleted = "password_reset_completed"
)

// AuditErrorCode classifies the failure carried in an audit event.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrBlocked            AuditErrorCode = "blocked"
	auditErrMalformed          AuditErrorCode = "malformed"
	auditErrExpired            AuditErrorCode = "expired"
	auditErrInvalidSignature   AuditErrorCode = "invalid_signature"
	auditErrRevoked            AuditErrorCode = "revoked"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrAccountExists      AuditErrorCode = "account_exists"
	auditErrResetTokenInvalid  AuditErrorCode = "reset_token_invalid"
	auditErrUnavailable        AuditErrorCode = "unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func auditCodeFor(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTokenMalformed):
		return auditErrMalformed
	case errors.Is(err, ErrTokenExpired):
		return auditErrExpired
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidSignature
	case errors.Is(err, ErrTokenRevoked):
		return auditErrRevoked
	case errors.Is(err, ErrAuthenticationFailed):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrBlocked):
		return auditErrBlocked
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrAccountExists):
		return auditErrAccountExists
	case errors.Is(err, ErrResetTokenInvalid):
		return auditErrResetTokenInvalid
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

func (e *Engine) auditAuth(ctx context.Context, action string, severity audit.Severity, actorID string, err error, details map[string]any) {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Auth(ctx, action, severity, actorID, withError(details, err))
}

func (e *Engine) auditSecurity(ctx context.Context, action string, severity audit.Severity, actorID string, err error, details map[string]any) {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Record(ctx, audit.Event{
		Category: audit.CategorySecurity,
		Action:   action,
		ActorID:  actorID,
		Severity: severity,
		Details:  withError(details, err),
	})
}

func (e *Engine) auditAdmin(ctx context.Context, action, actorID string, details map[string]any) {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Record(ctx, audit.Event{
		Category: audit.CategoryAdmin,
		Action:   action,
		ActorID:  actorID,
		Severity: audit.SeverityNotice,
		Details:  details,
	})
}

func withError(details map[string]any, err error) map[string]any {
	if err == nil {
		return details
	}
	if details == nil {
		details = make(map[string]any, 1)
	}
	details["error_code"] = string(auditCodeFor(err))
	return details
}
