// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// User represents an account. The password hash and TOTP secret never
// appear in any response payload.
type User struct {
	ID               uuid.UUID // PK
	Username         string    // unique, stored lowercase
	Email            string    // unique
	PasswordHash     []byte    // bcrypt
	IsActive         bool
	TwoFactorEnabled bool
	TwoFactorSecret  string // base32; empty unless 2FA pending or enabled
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastLogin        *time.Time
}

// Session is the persisted half of an issued bearer token. The signed
// token itself carries the same identity claims; the row is what makes
// logout effective before the token's own expiry.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID // FK -> users.id, cascade delete
	Token     string    // unique
	ExpiresAt time.Time
	CreatedAt time.Time
	IPAddress string
	UserAgent string
}

// SessionToken is a freshly issued bearer token with its expiry.
type SessionToken struct {
	Token     string
	ExpiresAt time.Time
}

// RequestMeta carries per-request client metadata recorded on session rows.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Passkey is a registered WebAuthn credential. SignCount is monotonic
// non-decreasing; a non-increasing reported counter on authentication
// marks a cloned authenticator.
type Passkey struct {
	ID                 uuid.UUID
	UserID             uuid.UUID // FK -> users.id, cascade delete
	CredentialID       []byte    // authenticator-issued id, unique system-wide
	PublicKey          []byte    // COSE public key
	AttestationType    string
	Transports         []string
	AAGUID             []byte
	SignCount          uint32
	FlagUserPresent    bool
	FlagUserVerified   bool
	FlagBackupEligible bool
	FlagBackupState    bool
	DeviceName         string
	CreatedAt          time.Time
	LastUsedAt         *time.Time
}
