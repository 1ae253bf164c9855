package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/nebula-ai/nebula-server/internal/errs"
	"github.com/nebula-ai/nebula-server/internal/model"
)

// PasskeyRepo implements PasskeyRepository using PostgreSQL.
type PasskeyRepo struct{ db *DB }

// NewPasskeyRepo constructs a passkey repository.
func NewPasskeyRepo(db *DB) *PasskeyRepo { return &PasskeyRepo{db: db} }

const passkeyColumns = `id, user_id, credential_id, public_key, attestation_type, transports, aaguid, sign_count, user_present, user_verified, backup_eligible, backup_state, device_name, created_at, last_used_at`

// Create inserts a new credential row.
func (r *PasskeyRepo) Create(ctx context.Context, p *model.Passkey) error {
	const q = `
INSERT INTO passkeys (id, user_id, credential_id, public_key, attestation_type, transports, aaguid, sign_count, user_present, user_verified, backup_eligible, backup_state, device_name)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.db.Pool.Exec(ctx, q,
		p.ID, p.UserID, p.CredentialID, p.PublicKey, p.AttestationType, p.Transports,
		p.AAGUID, p.SignCount, p.FlagUserPresent, p.FlagUserVerified,
		p.FlagBackupEligible, p.FlagBackupState, p.DeviceName)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

func scanPasskey(row interface{ Scan(...any) error }) (*model.Passkey, error) {
	var p model.Passkey
	err := row.Scan(&p.ID, &p.UserID, &p.CredentialID, &p.PublicKey, &p.AttestationType,
		&p.Transports, &p.AAGUID, &p.SignCount, &p.FlagUserPresent, &p.FlagUserVerified,
		&p.FlagBackupEligible, &p.FlagBackupState, &p.DeviceName, &p.CreatedAt, &p.LastUsedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListByUser returns all credentials registered for a user, oldest first.
func (r *PasskeyRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Passkey, error) {
	const q = `SELECT ` + passkeyColumns + ` FROM passkeys WHERE user_id=$1 ORDER BY created_at`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Passkey
	for rows.Next() {
		p, err := scanPasskey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdateSignCount stores the counter reported by a verified assertion.
// Deliberately a separate statement from TouchLastUsed.
func (r *PasskeyRepo) UpdateSignCount(ctx context.Context, id uuid.UUID, signCount uint32) error {
	const q = `UPDATE passkeys SET sign_count=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, signCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// TouchLastUsed stamps last_used_at.
func (r *PasskeyRepo) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE passkeys SET last_used_at=now() WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id)
	return err
}
