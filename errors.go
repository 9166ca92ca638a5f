package authgate

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrUnauthorized is the root of every bearer credential failure.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenMalformed means the credential is not a three-segment token.
	ErrTokenMalformed = fmt.Errorf("%w: token malformed", ErrUnauthorized)
	// ErrTokenExpired means exp is missing or in the past.
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrUnauthorized)
	// ErrTokenInvalid means the signature does not verify.
	ErrTokenInvalid = fmt.Errorf("%w: token signature invalid", ErrUnauthorized)
	// ErrTokenRevoked means the token is not the subject's live token.
	ErrTokenRevoked = fmt.Errorf("%w: token revoked", ErrUnauthorized)

	// ErrAuthenticationFailed is the single outward error for unknown
	// identifiers and wrong secrets.
	ErrAuthenticationFailed = errors.New("invalid credentials")

	// ErrForbidden is the root of authorization failures.
	ErrForbidden = errors.New("forbidden")
	// ErrCSRFMismatch means a state-changing request lacked a valid token.
	ErrCSRFMismatch = fmt.Errorf("%w: csrf token mismatch", ErrForbidden)
	// ErrInsufficientRole means the caller's role lacks a permission.
	ErrInsufficientRole = fmt.Errorf("%w: insufficient role", ErrForbidden)

	// ErrRateLimited is matched by every *RateLimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrBlocked means the source address is on the blocklist.
	ErrBlocked = errors.New("source blocked")

	// ErrValidation is the root of malformed input errors.
	ErrValidation = errors.New("validation failed")
	// ErrPasswordPolicy means a new secret does not satisfy the length policy.
	ErrPasswordPolicy = fmt.Errorf("%w: password policy violation", ErrValidation)
	// ErrAccountExists means registration hit an existing identifier.
	ErrAccountExists = fmt.Errorf("%w: account already exists", ErrValidation)
	// ErrInvalidUsername means a username is too short, too long, or could
	// be mistaken for an email address.
	ErrInvalidUsername = fmt.Errorf("%w: invalid username", ErrValidation)
	// ErrResetTokenInvalid means a password-reset token is unknown, used or
	// expired. The three cases are not distinguished.
	ErrResetTokenInvalid = fmt.Errorf("%w: reset token invalid or expired", ErrValidation)
	// ErrInvalidSource means a blocklist request named something that is
	// not an IP address.
	ErrInvalidSource = fmt.Errorf("%w: invalid source address", ErrValidation)

	// ErrUserNotFound is returned by repositories for unknown accounts.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnavailable means a backing store could not complete an operation
	// whose outcome must not be guessed.
	ErrUnavailable = errors.New("service unavailable")
	// ErrEngineNotReady is returned when a required dependency is missing.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrRegistrationUnsupported means the repository cannot create accounts.
	ErrRegistrationUnsupported = errors.New("registration not supported by user repository")
	// ErrResetUnsupported means the repository cannot store reset tokens or
	// no ResetNotifier is configured.
	ErrResetUnsupported = errors.New("password reset not supported")
)

// RateLimitError reports a quota denial with the time until the window
// resets. errors.Is(err, ErrRateLimited) holds for every RateLimitError.
type RateLimitError struct {
	// Scope is the limited action, or "source" for per-address velocity.
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s): retry after %s", e.Scope, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
