package authgate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/authgate/audit"
)

func TestLoginReturnsSanitizedUserAndLiveToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := sourceCtx(testSource)

	res, err := env.engine.Login(ctx, "Alice@Example.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.User.ID != env.alice.ID || res.User.Email != env.alice.Email {
		t.Fatalf("unexpected user %+v", res.User)
	}
	raw, _ := json.Marshal(res)
	if strings.Contains(string(raw), "password_hash") || strings.Contains(string(raw), "reset") {
		t.Fatalf("login result leaks secret fields: %s", raw)
	}

	claims, err := env.engine.Verify(ctx, res.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.SubjectID != env.alice.ID || claims.Role != RoleUser {
		t.Fatalf("unexpected claims %+v", claims)
	}

	env.engine.Close()
	if got := env.sink.byAction(auditEventLoginSuccess); len(got) != 1 || got[0].Source != testSource {
		t.Fatalf("expected one login_success event from %s, got %+v", testSource, got)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := sourceCtx(testSource)

	_, errUnknown := env.engine.Login(ctx, "nobody@example.com", testPassword)
	_, errWrong := env.engine.Login(ctx, "alice@example.com", "wrong password!")

	if !errors.Is(errUnknown, ErrAuthenticationFailed) || !errors.Is(errWrong, ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failures, got %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("messages differ: %q vs %q", errUnknown, errWrong)
	}
}

func TestLoginRateLimitedBeforeCredentialCheck(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := sourceCtx(testSource)

	for i := 1; i <= 10; i++ {
		_, err := env.engine.Login(ctx, "ghost@example.com", "not the password")
		if !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("attempt %d: expected authentication failure, got %v", i, err)
		}
	}
	if got := env.repo.lookups.Load(); got != 10 {
		t.Fatalf("expected 10 repository lookups, got %d", got)
	}

	for i := 11; i <= 12; i++ {
		_, err := env.engine.Login(ctx, "ghost@example.com", "not the password")
		var rlErr *RateLimitError
		if !errors.As(err, &rlErr) || !errors.Is(err, ErrRateLimited) {
			t.Fatalf("attempt %d: expected rate limit, got %v", i, err)
		}
		if rlErr.Scope != ActionLogin || rlErr.RetryAfter <= 0 || rlErr.RetryAfter > 15*time.Minute {
			t.Fatalf("unexpected rate limit error %+v", rlErr)
		}
	}
	if got := env.repo.lookups.Load(); got != 10 {
		t.Fatalf("denied attempts must not reach the repository, lookups=%d", got)
	}

	env.engine.Close()
	denials := env.sink.byAction(auditEventRateLimitExceeded)
	if len(denials) != 2 {
		t.Fatalf("expected one security event per denial, got %d", len(denials))
	}
	for _, e := range denials {
		if e.Category != audit.CategorySecurity || e.Severity != audit.SeverityWarning || e.Source != testSource {
			t.Fatalf("unexpected denial event %+v", e)
		}
	}
	if got := len(env.sink.byAction(auditEventLoginFailed)); got != 10 {
		t.Fatalf("expected 10 login_failed events, got %d", got)
	}
}

func TestLoginRateLimitIsPerSourceAndIdentifier(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimit.Policies[ActionLogin] = RatePolicy{MaxAttempts: 1, Window: time.Minute}
	})

	_, _ = env.engine.Login(sourceCtx(testSource), "alice@example.com", "wrong password!")
	if _, err := env.engine.Login(sourceCtx(testSource), "alice@example.com", testPassword); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected same key to be limited, got %v", err)
	}
	if _, err := env.engine.Login(sourceCtx("203.0.113.9"), "alice@example.com", testPassword); err != nil {
		t.Fatalf("other source should not share the counter: %v", err)
	}
}

func TestLoginBlockedSourceNeverTouchesAccounts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := sourceCtx(testSource)

	if _, err := env.engine.BlockSource(context.Background(), "u-admin", testSource, "abuse", 0); err != nil {
		t.Fatalf("BlockSource: %v", err)
	}

	_, err := env.engine.Login(ctx, "alice@example.com", testPassword)
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected blocked, got %v", err)
	}
	if got := env.repo.lookups.Load(); got != 0 {
		t.Fatalf("blocked source reached the repository %d times", got)
	}

	env.engine.Close()
	if got := env.sink.byAction(auditEventBlockedLoginAttempt); len(got) != 1 || got[0].Category != audit.CategorySecurity {
		t.Fatalf("expected one security event, got %+v", got)
	}
}

func TestLoginFailuresEscalateToBlock(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.SourceGuard.FailureThreshold = 3
	})
	ctx := sourceCtx(testSource)

	for i := 0; i < 3; i++ {
		_, _ = env.engine.Login(ctx, "alice@example.com", "wrong password!")
	}
	if _, err := env.engine.Login(ctx, "alice@example.com", testPassword); !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected automatic block, got %v", err)
	}

	entries, err := env.engine.ListBlocked(context.Background())
	if err != nil || len(entries) != 1 || entries[0].Source != testSource {
		t.Fatalf("expected one blocklist entry, got %+v %v", entries, err)
	}
}

func TestLoginCachesProfileLookups(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := sourceCtx(testSource)

	for i := 0; i < 3; i++ {
		if _, err := env.engine.Login(ctx, "alice@example.com", testPassword); err != nil {
			t.Fatalf("Login %d: %v", i, err)
		}
		env.clock.Advance(time.Second)
	}
	if got := env.repo.lookups.Load(); got != 1 {
		t.Fatalf("expected a single repository lookup, got %d", got)
	}
}

func TestLoginFallsBackToRepositoryWhenCacheMisses(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := sourceCtx(testSource)

	if _, err := env.engine.Login(ctx, "alice@example.com", testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	env.mr.Del("test:user:alice@example.com")

	if _, err := env.engine.Login(ctx, "alice@example.com", testPassword); err != nil {
		t.Fatalf("Login after eviction: %v", err)
	}
	if got := env.repo.lookups.Load(); got != 2 {
		t.Fatalf("expected repository fallback, lookups=%d", got)
	}
}

func TestLoginUpgradesLegacyBcryptHash(t *testing.T) {
	env := newTestEnv(t, nil)

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	env.repo.add(UserRecord{ID: "u-legacy", Email: "legacy@example.com", Role: RoleUser, PasswordHash: string(legacy)})

	if _, err := env.engine.Login(sourceCtx(testSource), "legacy@example.com", "legacy password"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got := env.repo.get("u-legacy").PasswordHash; !strings.HasPrefix(got, "$argon2id$") {
		t.Fatalf("expected upgraded hash, got %q", got)
	}
	if env.mr.Exists("test:user:legacy@example.com") {
		t.Fatalf("cached profile must be dropped after an upgrade")
	}
}

func TestLoginValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, tc := range []struct{ id, secret string }{{"", testPassword}, {"alice@example.com", ""}, {"   ", "x"}} {
		if _, err := env.engine.Login(sourceCtx(testSource), tc.id, tc.secret); !errors.Is(err, ErrValidation) {
			t.Fatalf("%q/%q: expected validation error, got %v", tc.id, tc.secret, err)
		}
	}
}
