// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/nebula-ai/nebula-server/internal/model"
)

// UserRepository provides account persistence.
type UserRepository interface {
	// Create inserts a new user; ErrAlreadyExists on username/email collision.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads a user by exact (lowercase) username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// UpdateLastLogin stamps last_login with the current time.
	UpdateLastLogin(ctx context.Context, id uuid.UUID) error
	// SetTOTPSecret stores a pending shared secret, overwriting any prior one.
	SetTOTPSecret(ctx context.Context, id uuid.UUID, secret string) error
	// EnableTOTP flips the enabled flag, keeping the stored secret.
	EnableTOTP(ctx context.Context, id uuid.UUID) error
	// DisableTOTP clears the enabled flag and the secret in one statement.
	DisableTOTP(ctx context.Context, id uuid.UUID) error
	// Delete removes the user; sessions and passkeys cascade.
	Delete(ctx context.Context, id uuid.UUID) error
}
