package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/gofrs/uuid/v5"

	"github.com/nebula-ai/nebula-server/internal/errs"
	"github.com/nebula-ai/nebula-server/internal/model"
	"github.com/nebula-ai/nebula-server/internal/repository"
)

const (
	// ceremonyTimeout is the advisory timeout hint sent to the client.
	// Cross-device flows routinely take longer; the only server-side
	// bound on a ceremony is challengeTTL.
	ceremonyTimeout = 60 * time.Second
	// challengeTTL bounds how long a pending challenge stays takeable.
	challengeTTL = 5 * time.Minute

	defaultDeviceName = "Passkey"
)

// loginFinisher is the slice of AuthService the passkey ceremony reuses so
// that passkey-issued sessions are indistinguishable from password logins.
type loginFinisher interface {
	FinishLogin(ctx context.Context, u *model.User, meta model.RequestMeta) (*model.User, model.SessionToken, error)
}

// PasskeyService runs the WebAuthn registration and authentication
// ceremonies. Each is a two-step start/finish protocol correlated only
// by the (ceremony, user) challenge key; every challenge is single-use.
type PasskeyService interface {
	// RegisterStart issues registration options and stores the challenge.
	RegisterStart(ctx context.Context, username string) (*protocol.CredentialCreation, error)
	// RegisterFinish verifies the attestation response and persists the
	// new credential. The pending challenge is consumed either way.
	RegisterFinish(ctx context.Context, username string, body io.Reader) error
	// LoginStart issues authentication options listing the user's
	// credentials and stores the challenge.
	LoginStart(ctx context.Context, username string) (*protocol.CredentialAssertion, error)
	// LoginFinish verifies the assertion, updates the signature counter,
	// and issues a session exactly as password login does.
	LoginFinish(ctx context.Context, username string, body io.Reader, meta model.RequestMeta) (*model.User, model.SessionToken, error)
}

type PasskeyServiceImpl struct {
	wa         *webauthn.WebAuthn
	users      repository.UserRepository
	passkeys   repository.PasskeyRepository
	challenges repository.ChallengeRepository
	auth       loginFinisher
}

// NewPasskeyService constructs PasskeyService for the given relying party.
func NewPasskeyService(rpID, rpName string, rpOrigins []string, users repository.UserRepository, passkeys repository.PasskeyRepository, challenges repository.ChallengeRepository, auth loginFinisher) (*PasskeyServiceImpl, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          rpID,
		RPDisplayName: rpName,
		RPOrigins:     rpOrigins,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			ResidentKey:             protocol.ResidentKeyRequirementPreferred,
			UserVerification:        protocol.VerificationRequired,
		},
		Timeouts: webauthn.TimeoutsConfig{
			Login:        webauthn.TimeoutConfig{Enforce: false, Timeout: ceremonyTimeout},
			Registration: webauthn.TimeoutConfig{Enforce: false, Timeout: ceremonyTimeout},
		},
	})
	if err != nil {
		return nil, err
	}
	return &PasskeyServiceImpl{wa: wa, users: users, passkeys: passkeys, challenges: challenges, auth: auth}, nil
}

// passkeyUser adapts a user and their stored credentials to webauthn.User.
type passkeyUser struct {
	u     *model.User
	creds []model.Passkey
}

func (p passkeyUser) WebAuthnID() []byte          { return p.u.ID.Bytes() }
func (p passkeyUser) WebAuthnName() string        { return p.u.Username }
func (p passkeyUser) WebAuthnDisplayName() string { return p.u.Username }

// WebAuthnIcon is required by webauthn.User in webauthn v0.10.x; the field is
// deprecated by the spec and unused.
func (p passkeyUser) WebAuthnIcon() string { return "" }

func (p passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(p.creds))
	for _, c := range p.creds {
		out = append(out, toWebauthnCredential(c))
	}
	return out
}

func toWebauthnCredential(p model.Passkey) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(p.Transports))
	for _, t := range p.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	if len(transports) == 0 {
		// hint for platform passkeys
		transports = []protocol.AuthenticatorTransport{protocol.Internal, protocol.Hybrid}
	}
	return webauthn.Credential{
		ID:              p.CredentialID,
		PublicKey:       p.PublicKey,
		AttestationType: p.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    p.FlagUserPresent,
			UserVerified:   p.FlagUserVerified,
			BackupEligible: p.FlagBackupEligible,
			BackupState:    p.FlagBackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    p.AAGUID,
			SignCount: p.SignCount,
		},
	}
}

func (s *PasskeyServiceImpl) loadUser(ctx context.Context, username string) (passkeyUser, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return passkeyUser{}, err
	}
	creds, err := s.passkeys.ListByUser(ctx, u.ID)
	if err != nil {
		return passkeyUser{}, err
	}
	return passkeyUser{u: u, creds: creds}, nil
}

// RegisterStart begins a registration ceremony. The generated challenge
// overwrites any prior pending one for the user.
func (s *PasskeyServiceImpl) RegisterStart(ctx context.Context, username string) (*protocol.CredentialCreation, error) {
	pu, err := s.loadUser(ctx, username)
	if err != nil {
		return nil, err
	}

	opts, session, err := s.wa.BeginRegistration(pu)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	if err := s.challenges.Put(ctx, repository.CeremonyRegister, pu.u.ID, data, challengeTTL); err != nil {
		return nil, err
	}
	return opts, nil
}

// takeSession consumes the pending challenge for (ceremony, user). It is
// removed exactly once, on the first finish attempt, regardless of how
// verification then goes.
func (s *PasskeyServiceImpl) takeSession(ctx context.Context, ceremony string, userID uuid.UUID) (webauthn.SessionData, error) {
	data, err := s.challenges.TakeOnce(ctx, ceremony, userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return webauthn.SessionData{}, errs.ErrNoChallenge
		}
		return webauthn.SessionData{}, err
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return webauthn.SessionData{}, errs.ErrNoChallenge
	}
	return session, nil
}

// RegisterFinish verifies the attestation and persists the credential.
func (s *PasskeyServiceImpl) RegisterFinish(ctx context.Context, username string, body io.Reader) error {
	pu, err := s.loadUser(ctx, username)
	if err != nil {
		return err
	}
	session, err := s.takeSession(ctx, repository.CeremonyRegister, pu.u.ID)
	if err != nil {
		return err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(body)
	if err != nil {
		return errs.ErrVerificationFailed
	}
	cred, err := s.wa.CreateCredential(pu, session, parsed)
	if err != nil {
		return errs.ErrVerificationFailed
	}

	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	return s.passkeys.Create(ctx, &model.Passkey{
		ID:                 id,
		UserID:             pu.u.ID,
		CredentialID:       cred.ID,
		PublicKey:          cred.PublicKey,
		AttestationType:    cred.AttestationType,
		Transports:         transports,
		AAGUID:             cred.Authenticator.AAGUID,
		SignCount:          cred.Authenticator.SignCount,
		FlagUserPresent:    cred.Flags.UserPresent,
		FlagUserVerified:   cred.Flags.UserVerified,
		FlagBackupEligible: cred.Flags.BackupEligible,
		FlagBackupState:    cred.Flags.BackupState,
		DeviceName:         deviceNameFor(cred),
	})
}

// deviceNameFor labels a fresh credential from what the attestation
// reports; the authenticator never sends a human-readable name.
func deviceNameFor(cred *webauthn.Credential) string {
	for _, t := range cred.Transport {
		switch t {
		case protocol.USB, protocol.NFC, protocol.BLE:
			return "Security key"
		}
	}
	if cred.Flags.BackupEligible {
		return "Synced passkey"
	}
	return defaultDeviceName
}

// LoginStart begins an authentication ceremony listing the user's
// registered credentials as allowed credentials.
func (s *PasskeyServiceImpl) LoginStart(ctx context.Context, username string) (*protocol.CredentialAssertion, error) {
	pu, err := s.loadUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(pu.creds) == 0 {
		return nil, errs.ErrNoPasskeys
	}

	opts, session, err := s.wa.BeginLogin(pu, webauthn.WithUserVerification(protocol.VerificationPreferred))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	if err := s.challenges.Put(ctx, repository.CeremonyLogin, pu.u.ID, data, challengeTTL); err != nil {
		return nil, err
	}
	return opts, nil
}

// LoginFinish verifies the assertion against the stored public key and
// counter, persists the new counter, and issues a session.
func (s *PasskeyServiceImpl) LoginFinish(ctx context.Context, username string, body io.Reader, meta model.RequestMeta) (*model.User, model.SessionToken, error) {
	pu, err := s.loadUser(ctx, username)
	if err != nil {
		return nil, model.SessionToken{}, err
	}
	session, err := s.takeSession(ctx, repository.CeremonyLogin, pu.u.ID)
	if err != nil {
		return nil, model.SessionToken{}, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(body)
	if err != nil {
		return nil, model.SessionToken{}, errs.ErrVerificationFailed
	}

	// The presented credential must belong to this user. The challenge is
	// already consumed on this failure path too.
	stored := findCredential(pu.creds, parsed.RawID)
	if stored == nil {
		return nil, model.SessionToken{}, errs.ErrPasskeyNotFound
	}

	cred, err := s.wa.ValidateLogin(pu, session, parsed)
	if err != nil {
		return nil, model.SessionToken{}, errs.ErrVerificationFailed
	}
	// A non-increasing counter marks a cloned or replayed authenticator.
	// The library flags it without failing; reject the ceremony.
	if cred.Authenticator.CloneWarning {
		return nil, model.SessionToken{}, errs.ErrVerificationFailed
	}

	// Two separate statements; a crash between them leaves last_used_at
	// stale, which is acceptable.
	if err := s.passkeys.UpdateSignCount(ctx, stored.ID, cred.Authenticator.SignCount); err != nil {
		return nil, model.SessionToken{}, err
	}
	if err := s.passkeys.TouchLastUsed(ctx, stored.ID); err != nil {
		return nil, model.SessionToken{}, err
	}

	return s.auth.FinishLogin(ctx, pu.u, meta)
}

func findCredential(creds []model.Passkey, credentialID []byte) *model.Passkey {
	for i := range creds {
		if bytes.Equal(creds[i].CredentialID, credentialID) {
			return &creds[i]
		}
	}
	return nil
}
