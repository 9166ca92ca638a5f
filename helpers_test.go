package authgate

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authgate/audit"
	"github.com/MrEthical07/authgate/password"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "correct horse battery"
	testSource   = "198.51.100.7"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memoryRepo struct {
	mu      sync.Mutex
	users   map[string]UserRecord
	lookups atomic.Int64
	failAll bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: map[string]UserRecord{}}
}

func (r *memoryRepo) add(u UserRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func (r *memoryRepo) get(id string) UserRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id]
}

func (r *memoryRepo) FindByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	r.lookups.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, identifier) || strings.EqualFold(u.Username, identifier) {
			return u, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (r *memoryRepo) FindByID(_ context.Context, id string) (UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (r *memoryRepo) UpdateSecretHash(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	u.ResetToken = ""
	u.ResetTokenExpiry = nil
	r.users[id] = u
	return nil
}

func (r *memoryRepo) SetResetToken(_ context.Context, id, digest string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.ResetToken = digest
	u.ResetTokenExpiry = &expiresAt
	r.users[id] = u
	return nil
}

func (r *memoryRepo) FindByResetToken(_ context.Context, digest string) (UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ResetToken == digest {
			return u, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (r *memoryRepo) CreateUser(_ context.Context, in CreateUserInput) (UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, in.Email) || strings.EqualFold(u.Username, in.Username) {
			return UserRecord{}, ErrAccountExists
		}
	}
	u := UserRecord{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Username:     in.Username,
		Role:         in.Role,
		PasswordHash: in.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	r.users[u.ID] = u
	return u, nil
}

type memorySink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *memorySink) Write(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memorySink) byAction(action string) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type sentReset struct {
	user      PublicUser
	token     string
	expiresAt time.Time
}

type memoryNotifier struct {
	mu   sync.Mutex
	sent []sentReset
	err  error
}

func (n *memoryNotifier) SendPasswordReset(_ context.Context, user PublicUser, token string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentReset{user: user, token: token, expiresAt: expiresAt})
	return nil
}

func (n *memoryNotifier) last() (sentReset, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return sentReset{}, false
	}
	return n.sent[len(n.sent)-1], true
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	repo   *memoryRepo
	sink   *memorySink
	notify *memoryNotifier
	clock  *testClock
	hasher *password.Hasher
	alice  UserRecord
	admin  UserRecord
}

func fastPasswordConfig() PasswordConfig {
	return PasswordConfig{
		Memory:         8 * 1024,
		Time:           1,
		Parallelism:    1,
		SaltLength:     16,
		KeyLength:      16,
		MinLength:      10,
		MaxLength:      1024,
		UpgradeOnLogin: true,
	}
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := DefaultConfig()
	cfg.Token.Secret = []byte(testSecret)
	cfg.Password = fastPasswordConfig()
	cfg.Cache.Prefix = "test:"
	cfg.Cache.OperationTimeout = 0
	if mutate != nil {
		mutate(&cfg)
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
		t.Fatalf("password hasher: %v", err)
	}
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	repo := newMemoryRepo()
	alice := UserRecord{
		ID:           "u-alice",
		Email:        "alice@example.com",
		Username:     "alice",
		Role:         RoleUser,
		PasswordHash: hash,
		ResetToken:   "reset-secret",
		CreatedAt:    time.Unix(1_700_000_000, 0).UTC(),
	}
	admin := UserRecord{
		ID:           "u-admin",
		Email:        "admin@example.com",
		Username:     "admin",
		Role:         RoleAdmin,
		PasswordHash: hash,
		CreatedAt:    time.Unix(1_700_000_000, 0).UTC(),
	}
	repo.add(alice)
	repo.add(admin)

	clock := &testClock{t: time.Unix(1_750_000_000, 0)}
	sink := &memorySink{}
	notify := &memoryNotifier{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserRepository(repo).
		WithAuditSink(sink).
		WithAuditFallback(audit.NopSink{}).
		WithResetNotifier(notify).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{
		engine: engine,
		mr:     mr,
		repo:   repo,
		sink:   sink,
		notify: notify,
		clock:  clock,
		hasher: hasher,
		alice:  alice,
		admin:  admin,
	}
}

func sourceCtx(source string) context.Context {
	return WithClientIP(context.Background(), source)
}
