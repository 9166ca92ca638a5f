package authgate

import (
	"errors"
	"testing"
	"time"
)

func TestPasswordResetRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := sourceCtx(testSource)

	res, err := env.engine.Login(ctx, "alice@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := env.engine.RequestPasswordReset(ctx, "Alice@Example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	sent, ok := env.notify.last()
	if !ok {
		t.Fatalf("expected a reset notification")
	}
	if sent.user.ID != env.alice.ID || len(sent.token) != 64 {
		t.Fatalf("unexpected notification %+v", sent)
	}
	if want := env.clock.Now().Add(time.Hour); !sent.expiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, sent.expiresAt)
	}
	stored := env.repo.get(env.alice.ID)
	if stored.ResetToken == sent.token || stored.ResetToken != resetDigest(sent.token) {
		t.Fatalf("repository must hold the digest, got %q", stored.ResetToken)
	}

	if err := env.engine.ConfirmPasswordReset(ctx, sent.token, "a brand new secret"); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}
	if _, err := env.engine.Verify(ctx, res.Token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected live token revoked, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "alice@example.com", testPassword); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("old secret must stop working, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "alice@example.com", "a brand new secret"); err != nil {
		t.Fatalf("new secret should work: %v", err)
	}

	if err := env.engine.ConfirmPasswordReset(ctx, sent.token, "another new secret"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected reused token rejected, got %v", err)
	}

	env.engine.Close()
	if got := env.sink.byAction(auditEventPasswordResetRequested); len(got) != 1 || got[0].ActorID != env.alice.ID {
		t.Fatalf("expected one password_reset_requested event, got %+v", got)
	}
	if got := env.sink.byAction(auditEventPasswordResetCompleted); len(got) != 1 || got[0].Details["token_revoked"] != true {
		t.Fatalf("expected one password_reset_completed event, got %+v", got)
	}
	if got := env.sink.byAction(auditEventPasswordResetFailed); len(got) != 1 {
		t.Fatalf("expected one password_reset_failed event, got %+v", got)
	}
}

func TestPasswordResetTokenExpires(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := sourceCtx(testSource)

	if err := env.engine.RequestPasswordReset(ctx, "alice"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	sent, _ := env.notify.last()

	env.clock.Advance(time.Hour + time.Second)
	if err := env.engine.ConfirmPasswordReset(ctx, sent.token, "a brand new secret"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "alice@example.com", testPassword); err != nil {
		t.Fatalf("original secret should still work: %v", err)
	}
}

func TestPasswordResetRejectsUnknownToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := sourceCtx(testSource)

	for _, tok := range []string{"short", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"} {
		err := env.engine.ConfirmPasswordReset(ctx, tok, "a brand new secret")
		if !errors.Is(err, ErrResetTokenInvalid) || !errors.Is(err, ErrValidation) {
			t.Fatalf("token %q: expected invalid reset token, got %v", tok, err)
		}
	}
}

func TestPasswordResetEnforcesPolicy(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := sourceCtx(testSource)

	if err := env.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	sent, _ := env.notify.last()

	if err := env.engine.ConfirmPasswordReset(ctx, sent.token, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected policy error, got %v", err)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, sent.token, "a brand new secret"); err != nil {
		t.Fatalf("token should survive a policy failure: %v", err)
	}
}

func TestPasswordResetUnknownIdentifierIsSilent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := sourceCtx(testSource)

	if err := env.engine.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("expected nil for unknown identifier, got %v", err)
	}
	if _, ok := env.notify.last(); ok {
		t.Fatalf("no notification expected for unknown identifier")
	}
}

func TestPasswordResetRequestsAreRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := sourceCtx(testSource)

	for i := 1; i <= 3; i++ {
		if err := env.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	err := env.engine.RequestPasswordReset(ctx, "alice@example.com")
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if got := len(env.notify.sent); got != 3 {
		t.Fatalf("expected 3 notifications, got %d", got)
	}
}

func TestPasswordResetNotifierFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := sourceCtx(testSource)
	env.notify.err = errors.New("smtp down")

	if err := env.engine.RequestPasswordReset(ctx, "alice@example.com"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestPasswordResetNeedsNotifier(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := sourceCtx(testSource)
	env.engine.notifier = nil

	if err := env.engine.RequestPasswordReset(ctx, "alice@example.com"); !errors.Is(err, ErrResetUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, "anything", "a brand new secret"); !errors.Is(err, ErrResetUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}
