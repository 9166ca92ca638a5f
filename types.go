package authgate

import (
	"context"
	"time"

	"github.com/MrEthical07/authgate/token"
)

// UserRecord is an account as the persistence layer stores it.
type UserRecord struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Username         string     `json:"username"`
	Role             string     `json:"role"`
	PasswordHash     string     `json:"password_hash"`
	// ResetToken is the SHA-256 hex digest of a pending reset token.
	ResetToken       string     `json:"reset_token,omitempty"`
	ResetTokenExpiry *time.Time `json:"reset_token_expiry,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Public strips the secret hash and reset fields.
func (u UserRecord) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

// PublicUser is the sanitized account returned to callers.
type PublicUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// UserRepository is the persistence boundary the gateway reads accounts
// through. Implementations return ErrUserNotFound for unknown accounts.
type UserRepository interface {
	FindByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	FindByID(ctx context.Context, id string) (UserRecord, error)
	UpdateSecretHash(ctx context.Context, id, hash string) error
}

// CreateUserInput is passed to AccountCreator.CreateUser with the secret
// already hashed.
type CreateUserInput struct {
	Email        string
	Username     string
	Role         string
	PasswordHash string
}

// AccountCreator is implemented by repositories that support registration.
// Duplicate identifiers must be reported as ErrAccountExists.
type AccountCreator interface {
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
}

// PasswordResetRepository is implemented by repositories that persist
// password-reset tokens. Only the SHA-256 hex digest of a token is stored.
// UpdateSecretHash must clear the stored digest and expiry.
type PasswordResetRepository interface {
	SetResetToken(ctx context.Context, id, tokenDigest string, expiresAt time.Time) error
	// FindByResetToken returns ErrUserNotFound when no account holds digest.
	FindByResetToken(ctx context.Context, tokenDigest string) (UserRecord, error)
}

// ResetNotifier delivers a password-reset token to the account holder, for
// example by email.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, user PublicUser, token string, expiresAt time.Time) error
}

// RegisterInput is the caller-supplied registration payload.
type RegisterInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Subject is the identity a token is issued for.
type Subject struct {
	ID    string
	Role  string
	Email string
}

// Claims are the verified contents of a credential token.
type Claims = token.Claims

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      PublicUser `json:"user"`
}
