package authgate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tok, exp, err := env.engine.Issue(ctx, Subject{ID: "u-1", Role: RoleUser, Email: "u1@example.com"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := env.clock.Now().Add(24 * time.Hour); !exp.Equal(want.Truncate(time.Second)) && !exp.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, exp)
	}

	claims, err := env.engine.Verify(ctx, tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.SubjectID != "u-1" || claims.Role != RoleUser {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestVerifyRejectsAfterLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tok, _, err := env.engine.Issue(ctx, Subject{ID: "u-1", Role: RoleUser})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := env.engine.Logout(ctx, "u-1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	_, err = env.engine.Verify(ctx, tok)
	if !errors.Is(err, ErrTokenRevoked) || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected revoked token, got %v", err)
	}
}

func TestSecondIssueSupersedesFirst(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, _, err := env.engine.Issue(ctx, Subject{ID: "u-1", Role: RoleUser})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	env.clock.Advance(time.Second)
	second, _, err := env.engine.Issue(ctx, Subject{ID: "u-1", Role: RoleUser})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct tokens")
	}

	if _, err := env.engine.Verify(ctx, first); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected first token superseded, got %v", err)
	}
	if _, err := env.engine.Verify(ctx, second); err != nil {
		t.Fatalf("second token should verify: %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tok, _, err := env.engine.Issue(ctx, Subject{ID: "u-1", Role: RoleUser})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	env.clock.Advance(24*time.Hour + time.Second)

	if _, err := env.engine.Verify(ctx, tok); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tok, _, err := env.engine.Issue(ctx, Subject{ID: "u-1", Role: RoleUser})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(tok, ".")

	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	payload["role"] = RoleAdmin
	forged, _ := json.Marshal(payload)
	escalated := parts[0] + "." + base64.RawURLEncoding.EncodeToString(forged) + "." + parts[2]

	if _, err := env.engine.Verify(ctx, escalated); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	// Any single-byte change in the payload segment is rejected.
	for i := 0; i < len(parts[1]); i++ {
		b := []byte(parts[1])
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		mutated := parts[0] + "." + string(b) + "." + parts[2]
		if _, err := env.engine.Verify(ctx, mutated); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("byte %d: expected rejection, got %v", i, err)
		}
	}
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, tok := range []string{"", "abc", "a.b", "a.b.c.d"} {
		if _, err := env.engine.Verify(context.Background(), tok); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("%q: expected malformed, got %v", tok, err)
		}
	}
}

func TestVerifyFailsClosedWhenCacheDown(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tok, _, err := env.engine.Issue(ctx, Subject{ID: "u-1", Role: RoleUser})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	env.mr.Close()

	if _, err := env.engine.Verify(ctx, tok); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected denial when the token store is down, got %v", err)
	}
}

func TestIssueFailsWhenCacheDown(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mr.Close()

	tok, _, err := env.engine.Issue(context.Background(), Subject{ID: "u-1", Role: RoleUser})
	if !errors.Is(err, ErrUnavailable) || tok != "" {
		t.Fatalf("expected unavailable without token, got %q %v", tok, err)
	}
}

func TestVerifyAcceptsRotatedKey(t *testing.T) {
	oldSecret := []byte("ffffffffffffffffffffffffffffffff")
	oldEnv := newTestEnv(t, func(cfg *Config) {
		cfg.Token.Secret = oldSecret
		cfg.Token.KeyID = "k1"
	})
	ctx := context.Background()
	tok, _, err := oldEnv.engine.Issue(ctx, Subject{ID: "u-1", Role: RoleUser})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	env := newTestEnv(t, func(cfg *Config) {
		cfg.Token.KeyID = "k2"
		cfg.Token.PreviousKeys = map[string][]byte{"k1": oldSecret}
	})
	// Share the live-token record with the rotated engine.
	var live string
	if err := oldEnv.engine.Cache().Get(ctx, "token:u-1", &live); err != nil {
		t.Fatalf("read live token: %v", err)
	}
	if err := env.engine.Cache().Set(ctx, "token:u-1", live, time.Hour); err != nil {
		t.Fatalf("seed live token: %v", err)
	}

	if _, err := env.engine.Verify(ctx, tok); err != nil {
		t.Fatalf("token signed with previous key should verify: %v", err)
	}
}
