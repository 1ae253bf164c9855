package postgres

import (
	"context"
	"errors"

	"github.com/nebula-ai/nebula-server/internal/errs"
	"github.com/nebula-ai/nebula-server/internal/model"
)

// SessionRepo implements SessionRepository using PostgreSQL.
type SessionRepo struct{ db *DB }

// NewSessionRepo constructs a session repository.
func NewSessionRepo(db *DB) *SessionRepo { return &SessionRepo{db: db} }

// Create inserts a new session row.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	const q = `
INSERT INTO sessions (id, user_id, token, expires_at, ip_address, user_agent)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Pool.Exec(ctx, q, s.ID, s.UserID, s.Token, s.ExpiresAt, s.IPAddress, s.UserAgent)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByToken selects a session by token, excluding expired rows.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*model.Session, error) {
	const q = `
SELECT id, user_id, token, expires_at, created_at, ip_address, user_agent
FROM sessions WHERE token=$1 AND expires_at > now()`
	row := r.db.Pool.QueryRow(ctx, q, token)
	var s model.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.Token, &s.ExpiresAt, &s.CreatedAt, &s.IPAddress, &s.UserAgent); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return &s, nil
}

// DeleteByToken removes a session row. Deleting an absent row is a no-op;
// logout is idempotent.
func (r *SessionRepo) DeleteByToken(ctx context.Context, token string) error {
	const q = `DELETE FROM sessions WHERE token=$1`
	_, err := r.db.Pool.Exec(ctx, q, token)
	return err
}
