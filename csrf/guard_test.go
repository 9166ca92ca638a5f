package csrf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authgate/cache"
	"github.com/MrEthical07/authgate/session"
)

func newTestGuard(t *testing.T) (*Guard, *session.Manager) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sessions := session.NewManager(cache.New(rdb, cache.Options{Prefix: "t:"}), session.Config{}, nil)
	return New(sessions, Config{}), sessions
}

func TestTokenForSessionIsStable(t *testing.T) {
	g, sessions := newTestGuard(t)
	ctx := context.Background()

	s, _ := sessions.Load(ctx, "")
	first, err := g.TokenForSession(ctx, s)
	if err != nil {
		t.Fatalf("TokenForSession: %v", err)
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(first))
	}

	reloaded, err := sessions.Load(ctx, s.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	second, err := g.TokenForSession(ctx, reloaded)
	if err != nil || second != first {
		t.Fatalf("expected stable token, got %q vs %q (%v)", second, first, err)
	}

	other, _ := sessions.Load(ctx, "")
	third, _ := g.TokenForSession(ctx, other)
	if third == first {
		t.Fatalf("sessions must not share tokens")
	}
}

func TestSafeMethodsPassWithoutToken(t *testing.T) {
	g, sessions := newTestGuard(t)
	s, _ := sessions.Load(context.Background(), "")

	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace} {
		r := httptest.NewRequest(m, "/", nil)
		if !g.Validate(r, s) {
			t.Fatalf("%s should pass without a token", m)
		}
	}
}

func TestStateChangingRequestsNeedExactToken(t *testing.T) {
	g, sessions := newTestGuard(t)
	ctx := context.Background()
	s, _ := sessions.Load(ctx, "")
	tok, err := g.TokenForSession(ctx, s)
	if err != nil {
		t.Fatalf("TokenForSession: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("X-CSRF-Token", tok)
	if !g.Validate(r, s) {
		t.Fatalf("matching header token rejected")
	}

	last := tok[len(tok)-1]
	flip := byte('0')
	if last == '0' {
		flip = '1'
	}
	r = httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("X-CSRF-Token", tok[:len(tok)-1]+string(flip))
	if g.Validate(r, s) {
		t.Fatalf("one-character mismatch accepted")
	}

	r = httptest.NewRequest(http.MethodDelete, "/", nil)
	if g.Validate(r, s) {
		t.Fatalf("missing token accepted")
	}

	fresh, _ := sessions.Load(ctx, "")
	r = httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("X-CSRF-Token", "")
	if g.Validate(r, fresh) {
		t.Fatalf("session without a token must reject")
	}
}

func TestFormFieldFallback(t *testing.T) {
	g, sessions := newTestGuard(t)
	ctx := context.Background()
	s, _ := sessions.Load(ctx, "")
	tok, _ := g.TokenForSession(ctx, s)

	for _, field := range []string{"csrf_token", "_csrf"} {
		body := url.Values{field: {tok}}.Encode()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if !g.Validate(r, s) {
			t.Fatalf("form field %s rejected", field)
		}
	}
}
