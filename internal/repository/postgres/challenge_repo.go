package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/nebula-ai/nebula-server/internal/errs"
)

// ChallengeRepo implements ChallengeRepository on the shared database, so
// a ceremony started on one server instance can finish on another.
type ChallengeRepo struct{ db *DB }

// NewChallengeRepo constructs a challenge repository.
func NewChallengeRepo(db *DB) *ChallengeRepo { return &ChallengeRepo{db: db} }

// Put upserts the pending challenge for (ceremony, userID), replacing any
// prior one for the same key.
func (r *ChallengeRepo) Put(ctx context.Context, ceremony string, userID uuid.UUID, data []byte, ttl time.Duration) error {
	const q = `
INSERT INTO webauthn_challenges (ceremony, user_id, session_data, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (ceremony, user_id)
DO UPDATE SET session_data=EXCLUDED.session_data, expires_at=EXCLUDED.expires_at, created_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, ceremony, userID, data, time.Now().Add(ttl))
	return err
}

// TakeOnce deletes and returns the pending challenge. The delete-on-read
// makes challenges single-use even when verification then fails. Expired
// rows are deleted but reported as absent.
func (r *ChallengeRepo) TakeOnce(ctx context.Context, ceremony string, userID uuid.UUID) ([]byte, error) {
	const q = `
DELETE FROM webauthn_challenges
WHERE ceremony=$1 AND user_id=$2
RETURNING session_data, expires_at`
	row := r.db.Pool.QueryRow(ctx, q, ceremony, userID)
	var data []byte
	var expiresAt time.Time
	if err := row.Scan(&data, &expiresAt); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	if time.Now().After(expiresAt) {
		return nil, errs.ErrNotFound
	}
	return data, nil
}
