package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/audit"
	"github.com/MrEthical07/authgate/session"
)

type stubRepo struct{}

func (stubRepo) FindByIdentifier(context.Context, string) (authgate.UserRecord, error) {
	return authgate.UserRecord{}, authgate.ErrUserNotFound
}

func (stubRepo) FindByID(context.Context, string) (authgate.UserRecord, error) {
	return authgate.UserRecord{}, authgate.ErrUserNotFound
}

func (stubRepo) UpdateSecretHash(context.Context, string, string) error {
	return authgate.ErrUserNotFound
}

func newEngine(t *testing.T, mutate func(*authgate.Config)) *authgate.Engine {
	t.Helper()
	return newEngineWithSink(t, mutate, audit.NopSink{})
}

func newEngineWithSink(t *testing.T, mutate func(*authgate.Config), sink audit.Sink) *authgate.Engine {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authgate.DefaultConfig()
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := authgate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserRepository(stubRepo{}).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestRemoteIP(t *testing.T) {
	tests := []struct {
		name    string
		xff     string
		realIP  string
		remote  string
		trust   bool
		proxies int
		want    string
	}{
		{name: "remote addr", remote: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "untrusted header ignored", xff: "1.2.3.4", remote: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "single proxy", xff: "9.9.9.9, 1.2.3.4, 10.0.0.2", remote: "10.0.0.1:5555", trust: true, proxies: 1, want: "1.2.3.4"},
		{name: "two proxies", xff: "9.9.9.9, 1.2.3.4, 10.0.0.2", remote: "10.0.0.1:5555", trust: true, proxies: 2, want: "9.9.9.9"},
		{name: "too many proxies", xff: "1.2.3.4", remote: "10.0.0.1:5555", trust: true, proxies: 5, want: "1.2.3.4"},
		{name: "real ip fallback", realIP: "5.6.7.8", remote: "10.0.0.1:5555", trust: true, want: "5.6.7.8"},
		{name: "garbage header", xff: "nope", remote: "10.0.0.1:5555", trust: true, want: "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := RemoteIP(r, tt.trust, tt.proxies); got != tt.want {
				t.Fatalf("RemoteIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGuardRequiresLiveToken(t *testing.T) {
	engine := newEngine(t, nil)
	var seen *authgate.Claims
	h := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: expected 401, got %d", rec.Code)
	}

	tok, _, err := engine.Issue(context.Background(), authgate.Subject{ID: "u-1", Role: authgate.RoleUser})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || seen == nil || seen.SubjectID != "u-1" {
		t.Fatalf("expected claims for u-1, got %d %+v", rec.Code, seen)
	}

	if err := engine.Logout(context.Background(), "u-1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || decodeError(t, rec).Code != "unauthorized" {
		t.Fatalf("revoked token: expected 401, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestGuardAuditsMissingBearer(t *testing.T) {
	sink := audit.NewChannelSink(8)
	engine := newEngineWithSink(t, nil, sink)
	h := Guard(engine)(ok)

	for _, header := range []string{"", "Basic dXNlcjpwYXNz"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%q: expected 401, got %d", header, rec.Code)
		}

		select {
		case e := <-sink.Events():
			if e.Action != "token_rejected" || e.Category != audit.CategoryAuth || e.Details["reason"] != "missing_bearer" {
				t.Fatalf("%q: unexpected audit event %+v", header, e)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%q: no audit event for missing bearer", header)
		}
	}
	if got := engine.MetricsSnapshot().Counters[authgate.MetricTokenRejected]; got != 2 {
		t.Fatalf("expected 2 rejections counted, got %d", got)
	}
}

func TestBearerToken(t *testing.T) {
	for in, want := range map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Bearer ":      "",
		"Basic abc":    "",
		"":             "",
	} {
		got, _ := bearerToken(in)
		if got != want {
			t.Fatalf("bearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRateLimitWritesRetryAfter(t *testing.T) {
	engine := newEngine(t, func(cfg *authgate.Config) {
		cfg.RateLimit.Policies["export"] = authgate.RatePolicy{MaxAttempts: 2, Window: time.Minute}
	})
	h := Chain(ok, ClientIP(false, 0), RateLimit(engine, "export", nil))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if d := decodeError(t, rec); d.Code != "rate_limited" || d.RetryAfter <= 0 {
		t.Fatalf("unexpected body %+v", d)
	}
}

func TestSourceGuardRejectsBlockedSource(t *testing.T) {
	engine := newEngine(t, nil)
	if _, err := engine.BlockSource(context.Background(), "u-admin", "192.0.2.1", "abuse", time.Hour); err != nil {
		t.Fatalf("BlockSource: %v", err)
	}
	h := Chain(ok, ClientIP(false, 0), SourceGuard(engine))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || decodeError(t, rec).Code != "blocked" {
		t.Fatalf("expected 403 blocked, got %d %s", rec.Code, rec.Body.String())
	}

	req.RemoteAddr = "192.0.2.2:4000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("other source: expected 204, got %d", rec.Code)
	}
}

func TestSessionsAndCSRF(t *testing.T) {
	engine := newEngine(t, nil)

	var token string
	issue := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := session.FromContext(r.Context())
		var err error
		token, err = engine.CSRFToken(r.Context(), s)
		if err != nil {
			t.Errorf("CSRFToken: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}), Sessions(engine))

	rec := httptest.NewRecorder()
	issue.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/csrf", nil))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || token == "" {
		t.Fatalf("expected a session cookie and token, got %v %q", cookies, token)
	}
	if !cookies[0].Secure || !cookies[0].HttpOnly {
		t.Fatalf("session cookie must default to Secure and HttpOnly: %+v", cookies[0])
	}

	protected := Chain(ok, Sessions(engine), CSRF(engine))

	post := func(tok string) int {
		req := httptest.NewRequest(http.MethodPost, "/logout", strings.NewReader(""))
		req.AddCookie(cookies[0])
		if tok != "" {
			req.Header.Set("X-CSRF-Token", tok)
		}
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post(token); code != http.StatusNoContent {
		t.Fatalf("matching token: expected 204, got %d", code)
	}
	if code := post(""); code != http.StatusForbidden {
		t.Fatalf("missing token: expected 403, got %d", code)
	}
	if code := post(strings.Repeat("0", len(token))); code != http.StatusForbidden {
		t.Fatalf("wrong token: expected 403, got %d", code)
	}
}

func TestRequirePermission(t *testing.T) {
	engine := newEngine(t, nil)
	h := RequirePermission(engine, authgate.PermBlocklistManage)(ok)

	serve := func(claims *authgate.Claims) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if claims != nil {
			req = req.WithContext(WithClaims(req.Context(), claims))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := serve(nil); code != http.StatusUnauthorized {
		t.Fatalf("no claims: expected 401, got %d", code)
	}
	if code := serve(&authgate.Claims{SubjectID: "u-1", Role: authgate.RoleUser}); code != http.StatusForbidden {
		t.Fatalf("user: expected 403, got %d", code)
	}
	if code := serve(&authgate.Claims{SubjectID: "u-2", Role: authgate.RoleModerator}); code != http.StatusNoContent {
		t.Fatalf("moderator: expected 204, got %d", code)
	}
}

func TestStatusForUnknownErrorIsGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, context.DeadlineExceeded)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if d := decodeError(t, rec); d.Code != "internal_error" || strings.Contains(d.Message, "deadline") {
		t.Fatalf("internal detail leaked: %+v", d)
	}
}

func TestStatusForUnsupportedFeatures(t *testing.T) {
	for _, err := range []error{authgate.ErrRegistrationUnsupported, authgate.ErrResetUnsupported} {
		if code, name := StatusFor(err); code != http.StatusNotImplemented || name != "not_implemented" {
			t.Fatalf("%v: expected 501 not_implemented, got %d %s", err, code, name)
		}
	}
	if code, _ := StatusFor(authgate.ErrResetTokenInvalid); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid reset token, got %d", code)
	}
}
