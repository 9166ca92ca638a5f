package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/MrEthical07/authgate"
)

const userColumns = "id, email, username, role, password_hash, reset_token, reset_token_expiry, created_at"

// UserStore is the SQL-backed account repository.
type UserStore struct {
	db  *DB
	now func() time.Time
}

// NewUserStore returns a store over db.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db, now: time.Now}
}

var (
	_ authgate.UserRepository          = (*UserStore)(nil)
	_ authgate.AccountCreator          = (*UserStore)(nil)
	_ authgate.PasswordResetRepository = (*UserStore)(nil)
)

// FindByIdentifier matches email or username, case-insensitively.
func (s *UserStore) FindByIdentifier(ctx context.Context, identifier string) (authgate.UserRecord, error) {
	q := s.db.rebind("SELECT " + userColumns + " FROM users WHERE lower(email) = ? OR lower(username) = ? LIMIT 1")
	id := strings.ToLower(strings.TrimSpace(identifier))
	return scanUser(s.db.QueryRowContext(ctx, q, id, id))
}

// FindByID returns the account with the given id.
func (s *UserStore) FindByID(ctx context.Context, id string) (authgate.UserRecord, error) {
	q := s.db.rebind("SELECT " + userColumns + " FROM users WHERE id = ?")
	return scanUser(s.db.QueryRowContext(ctx, q, id))
}

// UpdateSecretHash replaces the stored hash and clears any reset token.
func (s *UserStore) UpdateSecretHash(ctx context.Context, id, hash string) error {
	q := s.db.rebind("UPDATE users SET password_hash = ?, reset_token = NULL, reset_token_expiry = NULL WHERE id = ?")
	res, err := s.db.ExecContext(ctx, q, hash, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authgate.ErrUserNotFound
	}
	return nil
}

// SetResetToken stores a reset token digest and its expiry.
func (s *UserStore) SetResetToken(ctx context.Context, id, tokenDigest string, expiresAt time.Time) error {
	q := s.db.rebind("UPDATE users SET reset_token = ?, reset_token_expiry = ? WHERE id = ?")
	res, err := s.db.ExecContext(ctx, q, tokenDigest, expiresAt.UTC().Truncate(time.Microsecond), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authgate.ErrUserNotFound
	}
	return nil
}

// FindByResetToken returns the account holding tokenDigest.
func (s *UserStore) FindByResetToken(ctx context.Context, tokenDigest string) (authgate.UserRecord, error) {
	q := s.db.rebind("SELECT " + userColumns + " FROM users WHERE reset_token = ?")
	return scanUser(s.db.QueryRowContext(ctx, q, tokenDigest))
}

// CreateUser inserts a new account with a generated id.
func (s *UserStore) CreateUser(ctx context.Context, in authgate.CreateUserInput) (authgate.UserRecord, error) {
	u := authgate.UserRecord{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Username:     in.Username,
		Role:         in.Role,
		PasswordHash: in.PasswordHash,
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	}
	q := s.db.rebind("INSERT INTO users (id, email, username, role, password_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	if _, err := s.db.ExecContext(ctx, q, u.ID, u.Email, u.Username, u.Role, u.PasswordHash, u.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return authgate.UserRecord{}, authgate.ErrAccountExists
		}
		return authgate.UserRecord{}, err
	}
	return u, nil
}

func scanUser(row *sql.Row) (authgate.UserRecord, error) {
	var (
		u       authgate.UserRecord
		reset   sql.NullString
		expiry  sql.NullTime
		created time.Time
	)
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Role, &u.PasswordHash, &reset, &expiry, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return authgate.UserRecord{}, authgate.ErrUserNotFound
	}
	if err != nil {
		return authgate.UserRecord{}, fmt.Errorf("scan user: %w", err)
	}
	u.ResetToken = reset.String
	if expiry.Valid {
		t := expiry.Time.UTC()
		u.ResetTokenExpiry = &t
	}
	u.CreatedAt = created.UTC()
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
