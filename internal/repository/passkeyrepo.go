package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/nebula-ai/nebula-server/internal/model"
)

// PasskeyRepository persists WebAuthn credentials.
type PasskeyRepository interface {
	// Create inserts a new credential; ErrAlreadyExists if the
	// credential id is already registered.
	Create(ctx context.Context, p *model.Passkey) error
	// ListByUser returns all credentials registered for a user.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Passkey, error)
	// UpdateSignCount stores the counter reported by a successful assertion.
	UpdateSignCount(ctx context.Context, id uuid.UUID, signCount uint32) error
	// TouchLastUsed stamps last_used_at with the current time.
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
}
