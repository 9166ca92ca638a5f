package authgate

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Config is the complete gateway configuration. Start from DefaultConfig
// and override what you need; Build validates it.
type Config struct {
	Token       TokenConfig
	Password    PasswordConfig
	Cache       CacheConfig
	RateLimit   RateLimitConfig
	SourceGuard SourceGuardConfig
	Session     SessionConfig
	CSRF        CSRFConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
	Security    SecurityConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls credential token signing.
type TokenConfig struct {
	// Secret is the HS256 signing key, at least 32 bytes.
	Secret []byte
	TTL    time.Duration
	Issuer string
	// KeyID is written to the kid header; PreviousKeys maps older kids to
	// their secrets so tokens signed before a rotation keep verifying.
	KeyID        string
	PreviousKeys map[string][]byte
	Leeway       time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters and length policy.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	MaxLength   int
	// UpgradeOnLogin re-hashes legacy or weaker hashes after a successful
	// login.
	UpgradeOnLogin bool
}

/*
====================================
CACHE CONFIG
====================================
*/

// CacheConfig controls the shared Redis keyspace.
type CacheConfig struct {
	Prefix           string
	UserTTL          time.Duration
	OperationTimeout time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RatePolicy is an attempt ceiling per window.
type RatePolicy struct {
	MaxAttempts int
	Window      time.Duration
}

// RateLimitConfig maps action names to policies.
type RateLimitConfig struct {
	Policies map[string]RatePolicy
	// FailClosed denies requests when the counter store is unreachable.
	FailClosed bool
}

/*
====================================
SOURCE GUARD CONFIG
====================================
*/

// SourceGuardConfig controls per-address blocking.
type SourceGuardConfig struct {
	MaxRequests       int
	Window            time.Duration
	Retention         time.Duration
	FailureThreshold  int
	FailureWindow     time.Duration
	AutoBlockDuration time.Duration
	SweepInterval     time.Duration
	FailClosed        bool
}

/*
====================================
SESSION / CSRF CONFIG
====================================
*/

// SessionConfig controls the browser session cookie.
type SessionConfig struct {
	CookieName   string
	TTL          time.Duration
	SecureCookie bool
	SameSite     http.SameSite
}

// CSRFConfig names where submitted tokens are read from.
type CSRFConfig struct {
	HeaderName string
	FormFields []string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	BufferSize     int
	EnqueueTimeout time.Duration
	WriteTimeout   time.Duration
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds cross-cutting policy switches.
type SecurityConfig struct {
	// RevokeTokenOnPasswordChange deletes the live token after a
	// successful password change.
	RevokeTokenOnPasswordChange bool
	// DefaultRole is assigned to registered accounts.
	DefaultRole string
	// ResetTokenTTL is how long a password-reset token stays redeemable.
	ResetTokenTTL time.Duration
}

// Action names with rate limit policies.
const (
	ActionLogin          = "login"
	ActionRegister       = "register"
	ActionPasswordChange = "password_change"
	ActionLogout         = "logout"
	ActionAdmin          = "admin"

	ActionPasswordResetRequest = "password_reset_request"
	ActionPasswordResetConfirm = "password_reset_confirm"
)

// DefaultConfig returns production defaults. Token.Secret must still be set.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			TTL:    24 * time.Hour,
			Issuer: "authgate",
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      10,
			MaxLength:      1024,
			UpgradeOnLogin: true,
		},
		Cache: CacheConfig{
			Prefix:           "authgate:",
			UserTTL:          time.Hour,
			OperationTimeout: 250 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Policies: map[string]RatePolicy{
				ActionLogin:          {MaxAttempts: 10, Window: 15 * time.Minute},
				ActionRegister:       {MaxAttempts: 5, Window: time.Hour},
				ActionPasswordChange: {MaxAttempts: 5, Window: 15 * time.Minute},
				ActionAdmin:          {MaxAttempts: 120, Window: time.Minute},

				ActionPasswordResetRequest: {MaxAttempts: 3, Window: time.Hour},
				ActionPasswordResetConfirm: {MaxAttempts: 10, Window: 15 * time.Minute},
			},
		},
		SourceGuard: SourceGuardConfig{
			MaxRequests:       100,
			Window:            time.Minute,
			Retention:         24 * time.Hour,
			FailureThreshold:  20,
			FailureWindow:     time.Hour,
			AutoBlockDuration: time.Hour,
			SweepInterval:     time.Minute,
		},
		Session: SessionConfig{
			CookieName:   "authgate_session",
			TTL:          24 * time.Hour,
			SecureCookie: true,
			SameSite:     http.SameSiteLaxMode,
		},
		CSRF: CSRFConfig{
			HeaderName: "X-CSRF-Token",
			FormFields: []string{"csrf_token", "_csrf"},
		},
		Audit: AuditConfig{
			BufferSize:     1024,
			EnqueueTimeout: 50 * time.Millisecond,
			WriteTimeout:   2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Security: SecurityConfig{
			RevokeTokenOnPasswordChange: true,
			DefaultRole:                 "user",
			ResetTokenTTL:               time.Hour,
		},
	}
}

// Validate checks that c is usable.
func (c Config) Validate() error {
	if len(c.Token.Secret) < 32 {
		return errors.New("config: token secret must be at least 32 bytes")
	}
	if c.Token.TTL <= 0 {
		return errors.New("config: token TTL must be positive")
	}
	if c.Cache.UserTTL <= 0 {
		return errors.New("config: cache user TTL must be positive")
	}
	for action, p := range c.RateLimit.Policies {
		if p.MaxAttempts <= 0 || p.Window <= 0 {
			return fmt.Errorf("config: rate policy %q must have positive attempts and window", action)
		}
	}
	if _, ok := c.RateLimit.Policies[ActionLogin]; !ok {
		return errors.New("config: a login rate policy is required")
	}
	if c.SourceGuard.MaxRequests <= 0 || c.SourceGuard.Window <= 0 {
		return errors.New("config: source guard ceiling and window must be positive")
	}
	if c.SourceGuard.Retention < c.SourceGuard.Window {
		return errors.New("config: source guard retention must cover the window")
	}
	if c.Security.DefaultRole == "" {
		return errors.New("config: default role is required")
	}
	if c.Security.ResetTokenTTL <= 0 {
		return errors.New("config: reset token TTL must be positive")
	}
	return nil
}
