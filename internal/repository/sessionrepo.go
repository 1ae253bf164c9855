package repository

import (
	"context"

	"github.com/nebula-ai/nebula-server/internal/model"
)

// SessionRepository persists issued session rows. Rows are immutable
// after creation; revocation is deletion.
type SessionRepository interface {
	// Create inserts a new session row.
	Create(ctx context.Context, s *model.Session) error
	// GetByToken loads a non-expired session by its token string.
	GetByToken(ctx context.Context, token string) (*model.Session, error)
	// DeleteByToken removes a session; missing rows are not an error.
	DeleteByToken(ctx context.Context, token string) error
}
