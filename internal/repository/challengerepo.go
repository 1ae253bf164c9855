package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Ceremony kinds keying outstanding WebAuthn challenges.
const (
	CeremonyRegister = "register"
	CeremonyLogin    = "login"
)

// ChallengeRepository is a shared keyed holding area for outstanding
// WebAuthn ceremony state. At most one challenge exists per
// (ceremony, user) key; Put overwrites. TakeOnce deletes on read, which
// is what makes every challenge single-use: the first finish attempt
// consumes it whether or not verification succeeds.
type ChallengeRepository interface {
	// Put stores serialized ceremony state under (ceremony, userID),
	// replacing any prior pending challenge for that key.
	Put(ctx context.Context, ceremony string, userID uuid.UUID, data []byte, ttl time.Duration) error
	// TakeOnce removes and returns the pending challenge, or ErrNotFound
	// if none exists or it has expired.
	TakeOnce(ctx context.Context, ceremony string, userID uuid.UUID) ([]byte, error)
}
