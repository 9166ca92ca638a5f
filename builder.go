package authgate

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authgate/audit"
	"github.com/MrEthical07/authgate/cache"
	"github.com/MrEthical07/authgate/csrf"
	"github.com/MrEthical07/authgate/internal"
	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/ipguard"
	"github.com/MrEthical07/authgate/password"
	"github.com/MrEthical07/authgate/permission"
	"github.com/MrEthical07/authgate/session"
	"github.com/MrEthical07/authgate/token"
)

// Permission names registered by default.
const (
	PermProfileRead     = "profile.read"
	PermBlocklistManage = "blocklist.manage"
	PermAuditRead       = "audit.read"
)

// Role names registered by default.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// DefaultPermissions returns the permission set used when the builder is
// given none.
func DefaultPermissions() []string {
	return []string{PermProfileRead, PermBlocklistManage, PermAuditRead}
}

// DefaultRoles returns the role set used when the builder is given none.
func DefaultRoles() map[string][]string {
	return map[string][]string{
		RoleUser:      {PermProfileRead},
		RoleModerator: {PermProfileRead, PermBlocklistManage},
		RoleAdmin:     {permission.Root},
	}
}

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	permissions []string
	roles       map[string][]string

	users     UserRepository
	notifier  ResetNotifier
	auditSink audit.Sink
	fallback  audit.Sink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared Redis client. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserRepository sets the account store. Required.
func (b *Builder) WithUserRepository(repo UserRepository) *Builder {
	b.users = repo
	return b
}

// WithResetNotifier enables password reset. The repository must also
// implement PasswordResetRepository.
func (b *Builder) WithResetNotifier(n ResetNotifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets where audit events are written. Defaults to a
// discarding sink.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithAuditFallback sets the sink that receives events the primary sink
// rejected. Defaults to JSON lines on stderr.
func (b *Builder) WithAuditFallback(sink audit.Sink) *Builder {
	b.fallback = sink
	return b
}

// WithLogger sets the operational logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithPermissions replaces DefaultPermissions.
func (b *Builder) WithPermissions(perms []string) *Builder {
	b.permissions = perms
	return b
}

// WithRoles replaces DefaultRoles.
func (b *Builder) WithRoles(r map[string][]string) *Builder {
	b.roles = r
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user repository required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- PERMISSIONS --------
	perms := b.permissions
	if len(perms) == 0 {
		perms = DefaultPermissions()
	}
	roles := b.roles
	if len(roles) == 0 {
		roles = DefaultRoles()
	}

	registry := permission.NewRegistry(true)
	for _, p := range perms {
		if _, err := registry.Register(p); err != nil {
			return nil, fmt.Errorf("register permission %q: %w", p, err)
		}
	}
	registry.Freeze()

	roleManager := permission.NewRoleManager(registry)
	for name, list := range roles {
		if err := roleManager.RegisterRole(name, list); err != nil {
			return nil, fmt.Errorf("register role %q: %w", name, err)
		}
	}
	roleManager.Freeze()

	if _, ok := roleManager.Mask(cfg.Security.DefaultRole); !ok {
		return nil, errors.New("default role does not exist in role manager")
	}

	// -------- CREDENTIALS --------
	verifyKeys := map[string][]byte(nil)
	if len(cfg.Token.PreviousKeys) > 0 {
		if cfg.Token.KeyID == "" {
			return nil, errors.New("previous keys require a current key id")
		}
		verifyKeys = make(map[string][]byte, len(cfg.Token.PreviousKeys)+1)
		maps.Copy(verifyKeys, cfg.Token.PreviousKeys)
		verifyKeys[cfg.Token.KeyID] = cfg.Token.Secret
	}

	tokens, err := token.NewManager(token.Config{
		Secret:     cfg.Token.Secret,
		TTL:        cfg.Token.TTL,
		Issuer:     cfg.Token.Issuer,
		KeyID:      cfg.Token.KeyID,
		VerifyKeys: verifyKeys,
		Leeway:     cfg.Token.Leeway,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
		MaxLength:   cfg.Password.MaxLength,
	})
	if err != nil {
		return nil, err
	}

	dummySecret, err := internal.NewHexToken(max(internal.MinTokenBytes, cfg.Password.MinLength))
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(dummySecret)
	if err != nil {
		return nil, err
	}

	// -------- STORES --------
	store := cache.New(b.redis, cache.Options{
		Prefix:           cfg.Cache.Prefix,
		OperationTimeout: cfg.Cache.OperationTimeout,
	})

	auditLog := audit.New(audit.Config{
		BufferSize:     cfg.Audit.BufferSize,
		EnqueueTimeout: cfg.Audit.EnqueueTimeout,
		WriteTimeout:   cfg.Audit.WriteTimeout,
		Fallback:       b.fallback,
		Logger:         logger,
		Now:            now,
	}, b.auditSink)

	policies := make(map[string]rate.Policy, len(cfg.RateLimit.Policies))
	for action, p := range cfg.RateLimit.Policies {
		policies[action] = rate.Policy{MaxAttempts: p.MaxAttempts, Window: p.Window}
	}
	limiter, err := rate.New(b.redis, rate.Config{
		Prefix:   cfg.Cache.Prefix,
		Policies: policies,
		Now:      now,
	})
	if err != nil {
		auditLog.Close()
		return nil, err
	}

	blocker, err := ipguard.New(b.redis, ipguard.Config{
		Prefix:            cfg.Cache.Prefix,
		MaxRequests:       cfg.SourceGuard.MaxRequests,
		Window:            cfg.SourceGuard.Window,
		Retention:         cfg.SourceGuard.Retention,
		FailureThreshold:  cfg.SourceGuard.FailureThreshold,
		FailureWindow:     cfg.SourceGuard.FailureWindow,
		AutoBlockDuration: cfg.SourceGuard.AutoBlockDuration,
		Now:               now,
	}, auditLog, logger)
	if err != nil {
		auditLog.Close()
		return nil, err
	}

	sessions := session.NewManager(store, session.Config{
		CookieName: cfg.Session.CookieName,
		TTL:        cfg.Session.TTL,
		Secure:     cfg.Session.SecureCookie,
		SameSite:   cfg.Session.SameSite,
	}, now)

	engine := &Engine{
		config:      cfg,
		logger:      logger,
		now:         now,
		registry:    registry,
		roleManager: roleManager,
		cache:       store,
		tokens:      tokens,
		hasher:      hasher,
		dummyHash:   dummyHash,
		limiter:     limiter,
		blocker:     blocker,
		sessions:    sessions,
		csrf: csrf.New(sessions, csrf.Config{
			HeaderName: cfg.CSRF.HeaderName,
			FormFields: cfg.CSRF.FormFields,
		}),
		audit:    auditLog,
		metrics:  NewMetrics(cfg.Metrics),
		users:    b.users,
		notifier: b.notifier,
	}

	b.built = true

	return engine, nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	if cfg.Token.PreviousKeys != nil {
		out.Token.PreviousKeys = make(map[string][]byte, len(cfg.Token.PreviousKeys))
		for kid, key := range cfg.Token.PreviousKeys {
			out.Token.PreviousKeys[kid] = cloneBytes(key)
		}
	}
	out.RateLimit.Policies = maps.Clone(cfg.RateLimit.Policies)
	out.CSRF.FormFields = append([]string(nil), cfg.CSRF.FormFields...)
	return out
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
