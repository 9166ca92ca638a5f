package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authgate/cache"
)

// Config controls session lifetime and the cookie that carries the id.
type Config struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
	SameSite   http.SameSite
	Path       string
}

// DefaultConfig returns a 24h session with a Lax, HttpOnly cookie.
func DefaultConfig() Config {
	return Config{
		CookieName: "authgate_session",
		TTL:        24 * time.Hour,
		Secure:     true,
		SameSite:   http.SameSiteLaxMode,
		Path:       "/",
	}
}

// Session is server-side state bound to one browser.
type Session struct {
	ID        string            `json:"id"`
	Values    map[string]string `json:"values"`
	CreatedAt time.Time         `json:"created_at"`

	isNew bool
}

// Get returns the value stored under key, or "".
func (s *Session) Get(key string) string {
	return s.Values[key]
}

// Set stores value under key. Call Manager.Save to persist.
func (s *Session) Set(key, value string) {
	if s.Values == nil {
		s.Values = make(map[string]string)
	}
	s.Values[key] = value
}

// IsNew reports whether the session was created by this request.
func (s *Session) IsNew() bool {
	return s.isNew
}

// Manager loads and persists sessions in the cache.
type Manager struct {
	store *cache.Store
	cfg   Config
	now   func() time.Time
}

// NewManager creates a Manager. Zero config fields take DefaultConfig values.
func NewManager(store *cache.Store, cfg Config, now func() time.Time) *Manager {
	def := DefaultConfig()
	if cfg.CookieName == "" {
		cfg.CookieName = def.CookieName
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = def.SameSite
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, cfg: cfg, now: now}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) fresh() *Session {
	return &Session{
		ID:        uuid.NewString(),
		Values:    map[string]string{},
		CreatedAt: m.now().UTC(),
		isNew:     true,
	}
}

// Load returns the stored session for id, or a fresh unsaved session when
// id is empty, malformed or unknown. A cache failure also yields a fresh
// session together with the error.
func (m *Manager) Load(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return m.fresh(), nil
	}

	var s Session
	err := m.store.Get(ctx, cache.SessionKey(id), &s)
	switch {
	case err == nil:
		if s.Values == nil {
			s.Values = map[string]string{}
		}
		return &s, nil
	case errors.Is(err, cache.ErrMiss):
		return m.fresh(), nil
	default:
		return m.fresh(), err
	}
}

// Save persists s and extends its lifetime by the configured TTL.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	return m.store.Set(ctx, cache.SessionKey(s.ID), s, m.cfg.TTL)
}

// Destroy removes the stored session.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	return m.store.Delete(ctx, cache.SessionKey(id))
}

// FromRequest loads the session named by the request cookie.
func (m *Manager) FromRequest(r *http.Request) (*Session, error) {
	var id string
	if c, err := r.Cookie(m.cfg.CookieName); err == nil {
		id = c.Value
	}
	return m.Load(r.Context(), id)
}

// WriteCookie sets the session cookie on w.
func (m *Manager) WriteCookie(w http.ResponseWriter, s *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    s.ID,
		Path:     m.cfg.Path,
		MaxAge:   int(m.cfg.TTL / time.Second),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: m.cfg.SameSite,
	})
}

type sessionContextKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// FromContext returns the session attached by WithSession.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*Session)
	return s, ok
}
