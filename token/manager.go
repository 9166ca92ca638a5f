package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minSecretBytes = 32

var (
	// ErrMalformed means the token is not three well-formed segments.
	ErrMalformed = errors.New("token malformed")
	// ErrExpired means exp is missing or in the past.
	ErrExpired = errors.New("token expired")
	// ErrSignature means the signature does not match any accepted key.
	ErrSignature = errors.New("token signature invalid")
)

// Config configures a Manager.
type Config struct {
	// Secret signs new tokens. At least 32 bytes.
	Secret []byte
	// TTL is the token lifetime.
	TTL    time.Duration
	Issuer string
	// KeyID, when set, is written to the kid header of issued tokens.
	KeyID string
	// VerifyKeys maps kid to secret for rotation. When non-empty, every
	// token must carry a kid present in the map.
	VerifyKeys map[string][]byte
	Leeway     time.Duration
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Claims is the payload of a credential token.
type Claims struct {
	SubjectID string `json:"subject_id"`
	Role      string `json:"role"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues and parses HS256 credential tokens.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if len(cfg.Secret) < minSecretBytes {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", minSecretBytes)
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if len(key) < minSecretBytes {
			return nil, fmt.Errorf("verify key for kid %q is shorter than %d bytes", kid, minSecretBytes)
		}
	}
	if len(cfg.VerifyKeys) > 0 {
		if cfg.KeyID == "" {
			return nil, errors.New("KeyID is required when VerifyKeys is set")
		}
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			keys := make(map[string][]byte, len(cfg.VerifyKeys)+1)
			for k, v := range cfg.VerifyKeys {
				keys[k] = v
			}
			keys[cfg.KeyID] = cfg.Secret
			cfg.VerifyKeys = keys
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{config: cfg, now: now}, nil
}

// TTL returns the configured token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.config.TTL
}

// Issue signs a token for the subject and returns it with its expiry.
func (m *Manager) Issue(subjectID, role, email string) (string, time.Time, error) {
	if subjectID == "" {
		return "", time.Time{}, errors.New("subject id is required")
	}

	now := m.now()
	exp := jwt.NewNumericDate(now.Add(m.config.TTL))
	claims := Claims{
		SubjectID: subjectID,
		Role:      role,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: exp,
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.config.KeyID != "" {
		tok.Header["kid"] = m.config.KeyID
	}

	signed, err := tok.SignedString(m.config.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp.Time, nil
}

// Parse checks structure, expiry and signature. It does not consult
// revocation state.
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	if strings.Count(tokenStr, ".") != 2 {
		return nil, ErrMalformed
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed := &Claims{}
	tok, err := parser.ParseWithClaims(tokenStr, parsed, m.keyFunc)
	if err != nil {
		return nil, classify(err, parsed)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrSignature
	}
	if claims.SubjectID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(m.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}

	if m.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != m.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}
	return m.config.Secret, nil
}

// classify maps a jwt error. A required-claim error counts as expiry only
// when exp is the claim that is missing.
func classify(err error, parsed *Claims) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing) && parsed.ExpiresAt == nil:
		return ErrExpired
	default:
		return ErrSignature
	}
}
