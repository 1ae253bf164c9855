// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidCredentials is returned for both unknown-username and
	// wrong-password logins, deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrAccountDisabled indicates the user exists but is deactivated.
	ErrAccountDisabled = errors.New("account is disabled")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")
)

// Session validation sentinels. The HTTP boundary maps these to distinct
// status codes: a missing or session-row-absent token is 401, a token that
// fails its own signature/expiry check is 403.
var (
	// ErrMissingToken indicates no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken indicates the token's signature or claims do not verify.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidSession indicates no live session row backs the token.
	ErrInvalidSession = errors.New("invalid session")
)

// Two-factor sentinels.
var (
	// ErrTwoFactorEnabled rejects generating a new secret while 2FA is active.
	ErrTwoFactorEnabled = errors.New("two-factor authentication already enabled")

	// ErrTwoFactorNotEnabled rejects disable when 2FA is not active.
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication not enabled")

	// ErrNoTOTPSecret indicates no pending or stored shared secret.
	ErrNoTOTPSecret = errors.New("no two-factor secret")

	// ErrInvalidTOTPCode indicates the submitted code failed validation.
	ErrInvalidTOTPCode = errors.New("invalid two-factor code")
)

// Passkey sentinels.
var (
	// ErrNoChallenge indicates no pending ceremony challenge; the client
	// must restart from the corresponding start endpoint.
	ErrNoChallenge = errors.New("no pending challenge")

	// ErrNoPasskeys indicates the user has zero registered credentials.
	ErrNoPasskeys = errors.New("no passkeys registered")

	// ErrPasskeyNotFound indicates the presented credential id is unknown.
	ErrPasskeyNotFound = errors.New("passkey not found")

	// ErrVerificationFailed covers any cryptographic or policy mismatch
	// during attestation/assertion verification, including clone detection.
	ErrVerificationFailed = errors.New("verification failed")
)
