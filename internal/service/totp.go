package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/nebula-ai/nebula-server/internal/errs"
	"github.com/nebula-ai/nebula-server/internal/model"
	"github.com/nebula-ai/nebula-server/internal/repository"
)

// TOTP code parameters: 6 digits over 30-second steps, with a skew of
// two steps either side to absorb client clock drift.
const (
	totpPeriod = 30
	totpSkew   = 2
	qrSize     = 256
)

// TOTPSetup is the payload returned by Generate: the raw secret for
// manual entry plus the otpauth QR as a data URL.
type TOTPSetup struct {
	Secret string
	QRCode string
}

// TOTPService runs the two-factor lifecycle:
// Disabled -> pending (Generate) -> Enabled (Verify) -> Disabled (Disable).
type TOTPService interface {
	// Enabled reports whether 2FA is active. Never exposes the secret.
	Enabled(u *model.User) bool
	// Generate creates and stores a fresh pending secret.
	Generate(ctx context.Context, u *model.User) (TOTPSetup, error)
	// Verify checks a code against the stored secret and enables 2FA.
	Verify(ctx context.Context, u *model.User, code string) error
	// Disable re-verifies a code, then clears flag and secret together.
	Disable(ctx context.Context, u *model.User, code string) error
}

type TOTPServiceImpl struct {
	users  repository.UserRepository
	issuer string
	now    func() time.Time
}

// NewTOTPService constructs TOTPService. The issuer names this service in
// authenticator apps.
func NewTOTPService(users repository.UserRepository, issuer string) *TOTPServiceImpl {
	return &TOTPServiceImpl{users: users, issuer: issuer, now: time.Now}
}

// Enabled reports the 2FA flag only.
func (s *TOTPServiceImpl) Enabled(u *model.User) bool { return u.TwoFactorEnabled }

// Generate produces a fresh random secret, persists it as pending (any
// prior pending secret is overwritten), and renders the otpauth QR.
// Rejected once 2FA is already enabled.
func (s *TOTPServiceImpl) Generate(ctx context.Context, u *model.User) (TOTPSetup, error) {
	if u.TwoFactorEnabled {
		return TOTPSetup{}, errs.ErrTwoFactorEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: u.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return TOTPSetup{}, err
	}
	if err := s.users.SetTOTPSecret(ctx, u.ID, key.Secret()); err != nil {
		return TOTPSetup{}, err
	}

	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return TOTPSetup{}, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return TOTPSetup{}, err
	}
	return TOTPSetup{
		Secret: key.Secret(),
		QRCode: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// validate checks a submitted code against the stored secret within the
// skew window.
func (s *TOTPServiceImpl) validate(u *model.User, code string) error {
	ok, err := totp.ValidateCustom(code, u.TwoFactorSecret, s.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		return errs.ErrInvalidTOTPCode
	}
	return nil
}

// Verify promotes the pending secret to the active shared secret.
func (s *TOTPServiceImpl) Verify(ctx context.Context, u *model.User, code string) error {
	if u.TwoFactorSecret == "" {
		return errs.ErrNoTOTPSecret
	}
	if err := s.validate(u, code); err != nil {
		return err
	}
	return s.users.EnableTOTP(ctx, u.ID)
}

// Disable re-verifies proof of possession, then clears the enabled flag
// and the secret in one statement.
func (s *TOTPServiceImpl) Disable(ctx context.Context, u *model.User, code string) error {
	if !u.TwoFactorEnabled {
		return errs.ErrTwoFactorNotEnabled
	}
	if u.TwoFactorSecret == "" {
		return errs.ErrNoTOTPSecret
	}
	if err := s.validate(u, code); err != nil {
		return err
	}
	return s.users.DisableTOTP(ctx, u.ID)
}
