package service

import (
	"context"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/nebula-ai/nebula-server/internal/crypto"
	"github.com/nebula-ai/nebula-server/internal/errs"
	"github.com/nebula-ai/nebula-server/internal/limiter"
	"github.com/nebula-ai/nebula-server/internal/model"
	"github.com/nebula-ai/nebula-server/internal/repository"
)

// EmailDomain is appended to the username to synthesize the placeholder
// account email. There is no email verification flow.
const EmailDomain = "nebula.local"

const (
	minUsernameLen = 3
	minPasswordLen = 6
)

// AuthService defines password authentication and account lifecycle.
type AuthService interface {
	// Register creates a new account and signs it in.
	Register(ctx context.Context, username, password string, meta model.RequestMeta) (*model.User, model.SessionToken, error)
	// Login authenticates username/password with rate limiting and
	// issues a fresh session.
	Login(ctx context.Context, username, password string, meta model.RequestMeta) (*model.User, model.SessionToken, error)
	// Logout revokes the session backing the token; idempotent.
	Logout(ctx context.Context, token string) error
	// DeleteAccount removes the user and everything owned by it.
	DeleteAccount(ctx context.Context, userID uuid.UUID) error
}

type AuthServiceImpl struct {
	users    repository.UserRepository
	sessions SessionService
	lim      limiter.Limiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, sessions SessionService, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, sessions: sessions, lim: lim}
}

// Register creates the user row and immediately performs the same session
// issuance as Login.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string, meta model.RequestMeta) (*model.User, model.SessionToken, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if len(username) < minUsernameLen || len(password) < minPasswordLen {
		return nil, model.SessionToken{}, errs.ErrValidation
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return nil, model.SessionToken{}, err
	}
	hash, err := pkgcrypto.HashPassword([]byte(password))
	if err != nil {
		return nil, model.SessionToken{}, err
	}

	u := &model.User{
		ID:           uid,
		Username:     username,
		Email:        username + "@" + EmailDomain,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, model.SessionToken{}, err
	}

	tok, err := s.sessions.Issue(ctx, u, meta)
	if err != nil {
		return nil, model.SessionToken{}, err
	}
	return u, tok, nil
}

// Login authenticates with rate limiting by (username, ip). Unknown
// usernames and wrong passwords fail identically.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password string, meta model.RequestMeta) (*model.User, model.SessionToken, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return nil, model.SessionToken{}, errs.ErrValidation
	}
	ipHash := limiter.HashIP(meta.IP)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return nil, model.SessionToken{}, err
	}
	if !allowed {
		return nil, model.SessionToken{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err == nil && !u.IsActive {
		return nil, model.SessionToken{}, errs.ErrAccountDisabled
	}
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), u.PasswordHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return nil, model.SessionToken{}, errs.ErrRateLimited
		}
		// lookup errors masked the same as a wrong password
		return nil, model.SessionToken{}, errs.ErrInvalidCredentials
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, username, ipHash)

	return s.FinishLogin(ctx, u, meta)
}

// FinishLogin issues a session and stamps last_login. Shared between
// password login and the passkey authentication ceremony so the issued
// sessions are indistinguishable.
func (s *AuthServiceImpl) FinishLogin(ctx context.Context, u *model.User, meta model.RequestMeta) (*model.User, model.SessionToken, error) {
	tok, err := s.sessions.Issue(ctx, u, meta)
	if err != nil {
		return nil, model.SessionToken{}, err
	}
	if err := s.users.UpdateLastLogin(ctx, u.ID); err != nil {
		return nil, model.SessionToken{}, err
	}
	return u, tok, nil
}

// Logout revokes the session. Absent tokens or missing rows are not errors.
func (s *AuthServiceImpl) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// DeleteAccount removes the user; sessions and passkeys cascade in the
// database, and the TOTP secret goes with the row.
func (s *AuthServiceImpl) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return errs.ErrValidation
	}
	err := s.users.Delete(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	return err
}
