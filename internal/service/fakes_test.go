package service

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/nebula-ai/nebula-server/internal/errs"
	"github.com/nebula-ai/nebula-server/internal/limiter"
	"github.com/nebula-ai/nebula-server/internal/model"
	"github.com/nebula-ai/nebula-server/internal/repository"
)

type fakeUsers struct {
	byName map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func newFakeUsers() *fakeUsers { return &fakeUsers{byName: map[string]*model.User{}} }

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}

func (f *fakeUsers) find(id uuid.UUID) *model.User {
	for _, u := range f.byName {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if u := f.find(id); u != nil {
		c := *u
		return &c, nil
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) UpdateLastLogin(_ context.Context, id uuid.UUID) error {
	if u := f.find(id); u != nil {
		now := time.Now()
		u.LastLogin = &now
		return nil
	}
	return errs.ErrNotFound
}

func (f *fakeUsers) SetTOTPSecret(_ context.Context, id uuid.UUID, secret string) error {
	if u := f.find(id); u != nil {
		u.TwoFactorSecret = secret
		return nil
	}
	return errs.ErrNotFound
}

func (f *fakeUsers) EnableTOTP(_ context.Context, id uuid.UUID) error {
	if u := f.find(id); u != nil {
		u.TwoFactorEnabled = true
		return nil
	}
	return errs.ErrNotFound
}

func (f *fakeUsers) DisableTOTP(_ context.Context, id uuid.UUID) error {
	if u := f.find(id); u != nil {
		u.TwoFactorEnabled = false
		u.TwoFactorSecret = ""
		return nil
	}
	return errs.ErrNotFound
}

func (f *fakeUsers) Delete(_ context.Context, id uuid.UUID) error {
	for name, u := range f.byName {
		if u.ID == id {
			delete(f.byName, name)
			return nil
		}
	}
	return errs.ErrNotFound
}

type fakeSessionRepo struct {
	byToken map[string]*model.Session

	createErr error
}

var _ repository.SessionRepository = (*fakeSessionRepo)(nil)

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byToken: map[string]*model.Session{}}
}

func (f *fakeSessionRepo) Create(_ context.Context, s *model.Session) error {
	if f.createErr != nil {
		return f.createErr
	}
	cpy := *s
	f.byToken[s.Token] = &cpy
	return nil
}

func (f *fakeSessionRepo) GetByToken(_ context.Context, token string) (*model.Session, error) {
	s, ok := f.byToken[token]
	if !ok || time.Now().After(s.ExpiresAt) {
		return nil, errs.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeSessionRepo) DeleteByToken(_ context.Context, token string) error {
	delete(f.byToken, token)
	return nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return nil
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, nil
}

type fakePasskeys struct {
	byUser map[uuid.UUID][]model.Passkey
}

var _ repository.PasskeyRepository = (*fakePasskeys)(nil)

func newFakePasskeys() *fakePasskeys { return &fakePasskeys{byUser: map[uuid.UUID][]model.Passkey{}} }

func (f *fakePasskeys) Create(_ context.Context, p *model.Passkey) error {
	for _, creds := range f.byUser {
		for _, c := range creds {
			if string(c.CredentialID) == string(p.CredentialID) {
				return errs.ErrAlreadyExists
			}
		}
	}
	f.byUser[p.UserID] = append(f.byUser[p.UserID], *p)
	return nil
}

func (f *fakePasskeys) ListByUser(_ context.Context, userID uuid.UUID) ([]model.Passkey, error) {
	return append([]model.Passkey(nil), f.byUser[userID]...), nil
}

func (f *fakePasskeys) UpdateSignCount(_ context.Context, id uuid.UUID, signCount uint32) error {
	for uid, creds := range f.byUser {
		for i := range creds {
			if creds[i].ID == id {
				f.byUser[uid][i].SignCount = signCount
				return nil
			}
		}
	}
	return errs.ErrNotFound
}

func (f *fakePasskeys) TouchLastUsed(_ context.Context, id uuid.UUID) error {
	for uid, creds := range f.byUser {
		for i := range creds {
			if creds[i].ID == id {
				now := time.Now()
				f.byUser[uid][i].LastUsedAt = &now
				return nil
			}
		}
	}
	return errs.ErrNotFound
}

type fakeChallenges struct {
	m      map[string][]byte
	putErr error
}

var _ repository.ChallengeRepository = (*fakeChallenges)(nil)

func newFakeChallenges() *fakeChallenges { return &fakeChallenges{m: map[string][]byte{}} }

func challengeKey(ceremony string, userID uuid.UUID) string {
	return ceremony + ":" + userID.String()
}

func (f *fakeChallenges) Put(_ context.Context, ceremony string, userID uuid.UUID, data []byte, _ time.Duration) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.m[challengeKey(ceremony, userID)] = append([]byte(nil), data...)
	return nil
}

func (f *fakeChallenges) TakeOnce(_ context.Context, ceremony string, userID uuid.UUID) ([]byte, error) {
	k := challengeKey(ceremony, userID)
	data, ok := f.m[k]
	if !ok {
		return nil, errs.ErrNotFound
	}
	delete(f.m, k)
	return data, nil
}
