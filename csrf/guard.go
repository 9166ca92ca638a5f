package csrf

import (
	"context"
	"net/http"

	"github.com/MrEthical07/authgate/internal"
	"github.com/MrEthical07/authgate/session"
)

const (
	// SessionKey is the session value holding the token.
	SessionKey = "csrf_token"

	tokenBytes = 32
)

// Config names where a submitted token is read from.
type Config struct {
	HeaderName string
	// FormFields are tried in order when the header is absent.
	FormFields []string
}

// DefaultConfig reads X-CSRF-Token, then the csrf_token and _csrf form
// fields.
func DefaultConfig() Config {
	return Config{
		HeaderName: "X-CSRF-Token",
		FormFields: []string{"csrf_token", "_csrf"},
	}
}

// Guard issues per-session tokens and validates submitted ones.
type Guard struct {
	sessions *session.Manager
	cfg      Config
}

// New creates a Guard persisting tokens through sessions.
func New(sessions *session.Manager, cfg Config) *Guard {
	def := DefaultConfig()
	if cfg.HeaderName == "" {
		cfg.HeaderName = def.HeaderName
	}
	if len(cfg.FormFields) == 0 {
		cfg.FormFields = def.FormFields
	}
	return &Guard{sessions: sessions, cfg: cfg}
}

// HeaderName returns the request header checked first.
func (g *Guard) HeaderName() string {
	return g.cfg.HeaderName
}

// TokenForSession returns the session's token, creating and persisting one
// on first use. Repeated calls within a session return the same value.
func (g *Guard) TokenForSession(ctx context.Context, s *session.Session) (string, error) {
	if tok := s.Get(SessionKey); tok != "" {
		return tok, nil
	}

	tok, err := internal.NewHexToken(tokenBytes)
	if err != nil {
		return "", err
	}
	s.Set(SessionKey, tok)
	if err := g.sessions.Save(ctx, s); err != nil {
		return "", err
	}
	return tok, nil
}

// Submitted extracts the token sent with r.
func (g *Guard) Submitted(r *http.Request) string {
	if v := r.Header.Get(g.cfg.HeaderName); v != "" {
		return v
	}
	for _, field := range g.cfg.FormFields {
		if v := r.PostFormValue(field); v != "" {
			return v
		}
	}
	return ""
}

// Validate reports whether r may proceed. Safe methods always pass; other
// methods need a submitted token equal to the session's.
func (g *Guard) Validate(r *http.Request, s *session.Session) bool {
	if IsSafeMethod(r.Method) {
		return true
	}
	if s == nil {
		return false
	}
	return internal.EqualSecret(g.Submitted(r), s.Get(SessionKey))
}

// IsSafeMethod reports whether method is exempt from CSRF checks.
func IsSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
