package authgate

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrEthical07/authgate/audit"
	"github.com/MrEthical07/authgate/cache"
	"github.com/MrEthical07/authgate/internal"
	"github.com/MrEthical07/authgate/password"
)

// Logout revokes the live token of subjectID. Logging out twice is not an
// error. A cache failure is reported because the token would stay live.
func (e *Engine) Logout(ctx context.Context, subjectID string) error {
	if e == nil || e.cache == nil {
		return ErrEngineNotReady
	}
	if subjectID == "" {
		return fmt.Errorf("%w: subject id required", ErrValidation)
	}
	if err := e.revokeToken(ctx, subjectID); err != nil {
		e.auditAuth(ctx, auditEventLogout, audit.SeverityError, subjectID, err, nil)
		return err
	}
	e.metricInc(MetricLogout)
	e.auditAuth(ctx, auditEventLogout, audit.SeverityInfo, subjectID, nil, nil)
	return nil
}

// Profile returns the public view of subjectID, cache-first.
func (e *Engine) Profile(ctx context.Context, subjectID string) (PublicUser, error) {
	if e == nil || e.users == nil {
		return PublicUser{}, ErrEngineNotReady
	}
	user, err := cache.Remember(ctx, e.cache, cache.UserIDKey(subjectID), e.config.Cache.UserTTL,
		func(ctx context.Context) (UserRecord, error) {
			return e.users.FindByID(ctx, subjectID)
		})
	if err != nil {
		return PublicUser{}, err
	}
	return user.Public(), nil
}

// ChangePassword replaces the secret of subjectID after checking old.
// Cached profiles are dropped and, unless disabled in SecurityConfig, the
// live token is revoked so a stolen token dies with the old secret.
func (e *Engine) ChangePassword(ctx context.Context, subjectID, oldSecret, newSecret string) error {
	if e == nil || e.users == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	if subjectID == "" || oldSecret == "" || newSecret == "" {
		return fmt.Errorf("%w: subject id, old and new password are required", ErrValidation)
	}

	if err := e.consume(ctx, subjectID, ActionPasswordChange, subjectID); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		return err
	}

	// Always read the source of truth; a cached hash may be stale.
	user, err := e.users.FindByID(ctx, subjectID)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		if errors.Is(err, ErrUserNotFound) {
			return ErrUnauthorized
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ok, err := e.hasher.Verify(oldSecret, user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.auditAuth(ctx, auditEventPasswordChangeFailed, audit.SeverityWarning, subjectID, ErrAuthenticationFailed, nil)
		return ErrAuthenticationFailed
	}

	newHash, err := e.hasher.Hash(newSecret)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		if errors.Is(err, password.ErrPolicy) {
			err = fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		e.auditAuth(ctx, auditEventPasswordChangeFailed, audit.SeverityNotice, subjectID, err, nil)
		return err
	}

	if err := e.users.UpdateSecretHash(ctx, subjectID, newHash); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.dropUserCache(ctx, user)

	revoked := false
	if e.config.Security.RevokeTokenOnPasswordChange {
		if err := e.revokeToken(ctx, subjectID); err != nil {
			e.logger.Error("authgate: token revocation after password change failed", "subject_id", subjectID, "error", err)
		} else {
			revoked = true
		}
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.auditAuth(ctx, auditEventPasswordChanged, audit.SeverityNotice, subjectID, nil, map[string]any{
		"token_revoked": revoked,
	})
	return nil
}

// Register creates an account with the default role. The repository must
// implement AccountCreator.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (PublicUser, error) {
	if e == nil || e.users == nil || e.hasher == nil {
		return PublicUser{}, ErrEngineNotReady
	}
	creator, ok := e.users.(AccountCreator)
	if !ok {
		return PublicUser{}, ErrRegistrationUnsupported
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	username := strings.TrimSpace(in.Username)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return PublicUser{}, fmt.Errorf("%w: a valid email is required", ErrValidation)
	}
	derived := username == ""
	if derived {
		username = truncateRunes(email[:strings.LastIndexByte(email, '@')], maxUsernameLen-2*usernameSuffixBytes-1)
	} else if !validUsername(username) {
		return PublicUser{}, ErrInvalidUsername
	}

	source := clientIPFromContext(ctx)
	if err := e.consume(ctx, "guest:"+source, ActionRegister, ""); err != nil {
		return PublicUser{}, err
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, password.ErrPolicy) {
			return PublicUser{}, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return PublicUser{}, err
	}

	user, err := e.createDerived(ctx, creator, CreateUserInput{
		Email:        email,
		Username:     username,
		Role:         e.config.Security.DefaultRole,
		PasswordHash: hash,
	}, derived)
	if err != nil {
		e.auditAuth(ctx, auditEventRegistrationFailed, audit.SeverityNotice, "", err, map[string]any{
			"email": email,
		})
		if errors.Is(err, ErrAccountExists) {
			return PublicUser{}, ErrAccountExists
		}
		return PublicUser{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metricInc(MetricRegistration)
	e.auditAuth(ctx, auditEventUserRegistered, audit.SeverityInfo, user.ID, nil, map[string]any{
		"email": email,
	})
	return user.Public(), nil
}

const (
	minUsernameLen      = 3
	maxUsernameLen      = 64
	usernameSuffixBytes = 3
	usernameAttempts    = 5
)

// createDerived inserts in. A username derived from the email that is too
// short or already taken gets a random suffix; an explicit one never does.
func (e *Engine) createDerived(ctx context.Context, creator AccountCreator, in CreateUserInput, derived bool) (UserRecord, error) {
	base := in.Username
	if derived && !validUsername(base) {
		var err error
		if in.Username, err = suffixedUsername(base); err != nil {
			return UserRecord{}, err
		}
	}
	for attempt := 0; ; attempt++ {
		user, err := creator.CreateUser(ctx, in)
		if !derived || !errors.Is(err, ErrAccountExists) || attempt == usernameAttempts {
			return user, err
		}
		taken, lookupErr := e.users.FindByIdentifier(ctx, in.Email)
		if lookupErr == nil && strings.EqualFold(taken.Email, in.Email) {
			return UserRecord{}, err
		}
		if lookupErr != nil && !errors.Is(lookupErr, ErrUserNotFound) {
			return UserRecord{}, lookupErr
		}
		if in.Username, err = suffixedUsername(base); err != nil {
			return UserRecord{}, err
		}
	}
}

func suffixedUsername(base string) (string, error) {
	suffix, err := internal.NewHexToken(usernameSuffixBytes)
	if err != nil {
		return "", err
	}
	return base + "-" + suffix, nil
}

func truncateRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

// validUsername rejects '@' so a username can never shadow an email.
func validUsername(s string) bool {
	if n := utf8.RuneCountInString(s); n < minUsernameLen || n > maxUsernameLen {
		return false
	}
	for _, r := range s {
		if r == '@' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
