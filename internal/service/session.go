// Package service contains application services for authentication,
// two-factor, and passkey credential lifecycle.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/nebula-ai/nebula-server/internal/errs"
	"github.com/nebula-ai/nebula-server/internal/model"
	"github.com/nebula-ai/nebula-server/internal/repository"
)

// DefaultSessionTTL is the lifetime of a freshly issued session.
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionService issues, validates, and revokes bearer session tokens.
// Validation is two-phase: the token must verify on its own (signature,
// expiry) AND a live session row must back it. The row check is what
// makes logout effective while the signed token is still within its
// expiry window.
type SessionService interface {
	// Issue creates a signed token and the parallel session row.
	Issue(ctx context.Context, u *model.User, meta model.RequestMeta) (model.SessionToken, error)
	// Validate resolves a token to its active user.
	// Returns ErrInvalidToken when the token itself fails verification,
	// ErrInvalidSession when no live row backs it or the user is inactive.
	Validate(ctx context.Context, token string) (*model.User, error)
	// Revoke deletes the backing session row; idempotent.
	Revoke(ctx context.Context, token string) error
}

// sessionClaims are the identity claims embedded in the signed token.
type sessionClaims struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type SessionServiceImpl struct {
	sessions repository.SessionRepository
	users    repository.UserRepository
	signKey  []byte
	ttl      time.Duration
}

// NewSessionService constructs SessionService with required dependencies.
func NewSessionService(sessions repository.SessionRepository, users repository.UserRepository, signKey []byte, ttl time.Duration) *SessionServiceImpl {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionServiceImpl{sessions: sessions, users: users, signKey: signKey, ttl: ttl}
}

// Issue signs a new HS256 token for the user and persists the session row.
func (s *SessionServiceImpl) Issue(ctx context.Context, u *model.User, meta model.RequestMeta) (model.SessionToken, error) {
	now := time.Now()
	exp := now.Add(s.ttl)
	claims := sessionClaims{
		Email:    u.Email,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	if err != nil {
		return model.SessionToken{}, err
	}

	sid, err := uuid.NewV4()
	if err != nil {
		return model.SessionToken{}, err
	}
	row := &model.Session{
		ID:        sid,
		UserID:    u.ID,
		Token:     signed,
		ExpiresAt: exp,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}
	if err := s.sessions.Create(ctx, row); err != nil {
		return model.SessionToken{}, err
	}
	return model.SessionToken{Token: signed, ExpiresAt: exp}, nil
}

// Validate runs the two-phase check and returns the owning active user.
func (s *SessionServiceImpl) Validate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, errs.ErrMissingToken
	}

	// Phase 1: the token must verify on its own.
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errs.ErrInvalidToken
	}
	userID, err := uuid.FromString(claims.Subject)
	if err != nil {
		return nil, errs.ErrInvalidToken
	}

	// Phase 2: a live session row must back it. The row is the source of
	// truth for revocation.
	if _, err := s.sessions.GetByToken(ctx, token); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrInvalidSession
		}
		return nil, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrInvalidSession
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, errs.ErrInvalidSession
	}
	return u, nil
}

// Revoke deletes the session row for the token. Unknown tokens are a no-op.
func (s *SessionServiceImpl) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.DeleteByToken(ctx, token)
}
