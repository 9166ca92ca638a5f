// Package config loads process configuration from the environment and an
// optional .env file using Viper, and maps it onto authgate.Config.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MrEthical07/authgate"
)

// Config holds the process configuration.
type Config struct {
	// HTTPAddr is the listen address (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// RedisURL is a redis:// or rediss:// URL.
	RedisURL string `mapstructure:"REDIS_URL"`
	// DatabaseURL is a postgres:// DSN or sqlite://path.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	TokenSecret string        `mapstructure:"TOKEN_SECRET"`
	TokenTTL    time.Duration `mapstructure:"TOKEN_TTL"`
	TokenIssuer string        `mapstructure:"TOKEN_ISSUER"`
	TokenKeyID  string        `mapstructure:"TOKEN_KEY_ID"`
	// TokenPreviousKeys lists retired verification keys as kid=secret,...
	TokenPreviousKeys string `mapstructure:"TOKEN_PREVIOUS_KEYS"`

	CachePrefix string `mapstructure:"CACHE_PREFIX"`
	// RateLimits overrides action quotas as action=max/window,...
	// (e.g. login=10/15m,register=5/1h).
	RateLimits string `mapstructure:"RATE_LIMITS"`

	SourceMaxRequests      int           `mapstructure:"SOURCE_MAX_REQUESTS"`
	SourceWindow           time.Duration `mapstructure:"SOURCE_WINDOW"`
	SourceFailureThreshold int           `mapstructure:"SOURCE_FAILURE_THRESHOLD"`
	SourceAutoBlock        time.Duration `mapstructure:"SOURCE_AUTO_BLOCK"`
	SweepInterval          time.Duration `mapstructure:"SWEEP_INTERVAL"`

	TrustProxy        bool `mapstructure:"TRUST_PROXY"`
	TrustedProxyCount int  `mapstructure:"TRUSTED_PROXY_COUNT"`
	CookieSecure      bool `mapstructure:"COOKIE_SECURE"`

	RevokeTokenOnPasswordChange bool          `mapstructure:"REVOKE_TOKEN_ON_PASSWORD_CHANGE"`
	ResetTokenTTL               time.Duration `mapstructure:"RESET_TOKEN_TTL"`
	// ResetKafkaBrokers enables password reset; tokens are published to
	// ResetKafkaTopic for the mailer.
	ResetKafkaBrokers string `mapstructure:"RESET_KAFKA_BROKERS"`
	ResetKafkaTopic   string `mapstructure:"RESET_KAFKA_TOPIC"`

	// AuditLogPath enables the rotating JSON-lines audit file when set.
	AuditLogPath string `mapstructure:"AUDIT_LOG_PATH"`
	// AuditKafkaBrokers is a comma-separated broker list; empty disables Kafka.
	AuditKafkaBrokers string `mapstructure:"AUDIT_KAFKA_BROKERS"`
	AuditKafkaTopic   string `mapstructure:"AUDIT_KAFKA_TOPIC"`

	// OTLPEndpoint enables OTLP metric export when set (host:port).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is ignored.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing file is fine

	v.AutomaticEnv()

	def := authgate.DefaultConfig()
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("TOKEN_SECRET", "")
	v.SetDefault("TOKEN_TTL", def.Token.TTL.String())
	v.SetDefault("TOKEN_ISSUER", def.Token.Issuer)
	v.SetDefault("TOKEN_KEY_ID", "")
	v.SetDefault("TOKEN_PREVIOUS_KEYS", "")
	v.SetDefault("CACHE_PREFIX", def.Cache.Prefix)
	v.SetDefault("RATE_LIMITS", "")
	v.SetDefault("SOURCE_MAX_REQUESTS", def.SourceGuard.MaxRequests)
	v.SetDefault("SOURCE_WINDOW", def.SourceGuard.Window.String())
	v.SetDefault("SOURCE_FAILURE_THRESHOLD", def.SourceGuard.FailureThreshold)
	v.SetDefault("SOURCE_AUTO_BLOCK", def.SourceGuard.AutoBlockDuration.String())
	v.SetDefault("SWEEP_INTERVAL", def.SourceGuard.SweepInterval.String())
	v.SetDefault("TRUST_PROXY", false)
	v.SetDefault("TRUSTED_PROXY_COUNT", 1)
	v.SetDefault("COOKIE_SECURE", def.Session.SecureCookie)
	v.SetDefault("REVOKE_TOKEN_ON_PASSWORD_CHANGE", def.Security.RevokeTokenOnPasswordChange)
	v.SetDefault("RESET_TOKEN_TTL", def.Security.ResetTokenTTL.String())
	v.SetDefault("RESET_KAFKA_BROKERS", "")
	v.SetDefault("RESET_KAFKA_TOPIC", "authgate-password-reset")
	v.SetDefault("AUDIT_LOG_PATH", "")
	v.SetDefault("AUDIT_KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "authgate-audit")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.TokenSecret == "" {
		return nil, errors.New("config: TOKEN_SECRET must be set")
	}
	if cfg.Env == "production" && !cfg.CookieSecure {
		return nil, errors.New("config: COOKIE_SECURE must not be false when APP_ENV=production")
	}
	if _, err := ParseRateLimits(cfg.RateLimits); err != nil {
		return nil, err
	}
	if _, err := ParseKeys(cfg.TokenPreviousKeys); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DatabaseURL reads DATABASE_URL from the environment or .env without
// validating the rest of the configuration.
func DatabaseURL() (string, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	dsn := strings.TrimSpace(v.GetString("DATABASE_URL"))
	if dsn == "" {
		return "", errors.New("config: DATABASE_URL must be set")
	}
	return dsn, nil
}

// Gateway maps c onto the engine configuration.
func (c *Config) Gateway() (authgate.Config, error) {
	g := authgate.DefaultConfig()

	g.Token.Secret = []byte(c.TokenSecret)
	g.Token.TTL = c.TokenTTL
	g.Token.Issuer = c.TokenIssuer
	g.Token.KeyID = c.TokenKeyID
	keys, err := ParseKeys(c.TokenPreviousKeys)
	if err != nil {
		return g, err
	}
	g.Token.PreviousKeys = keys

	g.Cache.Prefix = c.CachePrefix

	limits, err := ParseRateLimits(c.RateLimits)
	if err != nil {
		return g, err
	}
	for action, p := range limits {
		g.RateLimit.Policies[action] = p
	}

	g.SourceGuard.MaxRequests = c.SourceMaxRequests
	g.SourceGuard.Window = c.SourceWindow
	g.SourceGuard.FailureThreshold = c.SourceFailureThreshold
	g.SourceGuard.AutoBlockDuration = c.SourceAutoBlock
	g.SourceGuard.SweepInterval = c.SweepInterval

	g.Session.SecureCookie = c.CookieSecure
	g.Security.RevokeTokenOnPasswordChange = c.RevokeTokenOnPasswordChange
	g.Security.ResetTokenTTL = c.ResetTokenTTL

	return g, g.Validate()
}

// SlogLevel parses LogLevel, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// KafkaBrokers returns the audit broker list, or nil when unset.
func (c *Config) KafkaBrokers() []string {
	return splitList(c.AuditKafkaBrokers)
}

// ResetBrokers returns the reset notifier broker list, or nil when unset.
func (c *Config) ResetBrokers() []string {
	return splitList(c.ResetKafkaBrokers)
}

// ParseRateLimits parses action=max/window pairs.
func ParseRateLimits(s string) (map[string]authgate.RatePolicy, error) {
	out := map[string]authgate.RatePolicy{}
	for _, item := range splitList(s) {
		action, spec, ok := strings.Cut(item, "=")
		maxStr, window, ok2 := strings.Cut(spec, "/")
		action = strings.TrimSpace(action)
		if !ok || !ok2 || action == "" {
			return nil, fmt.Errorf("config: RATE_LIMITS entry %q must be action=max/window", item)
		}
		n, err := strconv.Atoi(strings.TrimSpace(maxStr))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("config: RATE_LIMITS entry %q: max must be a positive integer", item)
		}
		d, err := time.ParseDuration(strings.TrimSpace(window))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("config: RATE_LIMITS entry %q: window must be a positive duration", item)
		}
		out[action] = authgate.RatePolicy{MaxAttempts: n, Window: d}
	}
	return out, nil
}

// ParseKeys parses kid=secret pairs.
func ParseKeys(s string) (map[string][]byte, error) {
	items := splitList(s)
	if len(items) == 0 {
		return nil, nil
	}
	out := make(map[string][]byte, len(items))
	for _, item := range items {
		kid, secret, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(kid) == "" || secret == "" {
			return nil, errors.New("config: TOKEN_PREVIOUS_KEYS entries must be kid=secret")
		}
		out[strings.TrimSpace(kid)] = []byte(secret)
	}
	return out, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
