// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

/*
Package auth implements the core identity and access management system.

It handles dual-method authentication (password+OTP or WebAuthn passkeys),
credential lifecycle with enforced mutual exclusivity, single-use token
issuance, and session management.

# Architecture

This layer is the "Truth" of the system. Entities defined here have no external
dependencies and encapsulate all business rules related to user identity.
*/
package auth

import "time"

// # Domain Entities

// Method identifies the active authentication method of a user.
type Method string

const (
	// MethodPassword authenticates with a password plus an email OTP.
	MethodPassword Method = "password"

	// MethodWebAuthn authenticates with a passkey ceremony.
	MethodWebAuthn Method = "webauthn"
)

// Valid reports whether the method is a known value.
func (m Method) Valid() bool {
	return m == MethodPassword || m == MethodWebAuthn
}

// User represents a registered member of the Veil platform.
//
// # Invariants
//
// Exactly one auth method is active at all times. A user with DeletedAt set
// is excluded from every authentication path.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Method    Method     `json:"method"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"-"` // Soft-delete marker. Omitted from JSON.
}

// PasswordCredential is the single password record of a password-method user.
//
// # Invariants
//
// Exists if and only if the owning user's method is [MethodPassword].
type PasswordCredential struct {
	UserID         string     `json:"user_id"`
	PasswordHash   string     `json:"-"` // Explicitly omitted from JSON for security.
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	FailedAttempts int        `json:"-"`
	LockedUntil    *time.Time `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Verified reports whether the owning email address has been confirmed.
func (credential *PasswordCredential) Verified() bool {
	return credential.VerifiedAt != nil
}

// LockedFor returns the remaining lockout duration, or zero if not locked.
func (credential *PasswordCredential) LockedFor(now time.Time) time.Duration {
	if credential.LockedUntil == nil || !credential.LockedUntil.After(now) {
		return 0
	}
	return credential.LockedUntil.Sub(now)
}

// WebAuthnCredential is one registered passkey device of a webauthn-method user.
//
// # Invariants
//
// At least one exists if and only if the owning user's method is
// [MethodWebAuthn]. SignCount is monotonic: assertions reporting a counter
// not strictly greater than the stored value are rejected.
type WebAuthnCredential struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	CredentialID string     `json:"credential_id"` // base64url raw credential ID, unique platform-wide.
	Credential   []byte     `json:"-"`             // Marshaled library credential (public key, flags, ...).
	SignCount    uint32     `json:"sign_count"`
	DeviceName   string     `json:"device_name,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TokenKind discriminates the ephemeral token variants.
type TokenKind string

const (
	TokenEmailVerification TokenKind = "email_verification"
	TokenLoginOtp          TokenKind = "login_otp"
	TokenPasswordReset     TokenKind = "password_reset"
	TokenWebAuthnChallenge TokenKind = "webauthn_challenge"
)

// Token is a single-use, short-lived secret.
//
// # Invariants
//
// Consumable at most once; expired or used tokens are inert. At most one
// live token exists per (owner, kind) — issuing a new one removes the prior.
type Token struct {
	ID        string     `json:"id"`
	UserID    *string    `json:"user_id"` // Nullable for pre-registration flows.
	Kind      TokenKind  `json:"kind"`
	ValueHash string     `json:"-"` // SHA-256 of the secret value. Omitted for security.
	Metadata  []byte     `json:"-"` // Kind-specific JSON (pending email, ceremony session data).
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Live reports whether the token is unused and unexpired at the given instant.
func (token *Token) Live(now time.Time) bool {
	return token.UsedAt == nil && token.ExpiresAt.After(now)
}

// Session represents an authenticated client.
//
// # Invariants
//
// A user holds at most [constants.MaxSessionsPerUser] concurrent sessions;
// the oldest is evicted on overflow. Expired sessions are treated as absent
// on read. Sessions never extend.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"` // Hashed value of the opaque session token. Omitted for security.
	Method    Method    `json:"method"`
	UserAgent string    `json:"user_agent,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the session is past its expiry at the given instant.
func (session *Session) Expired(now time.Time) bool {
	return !session.ExpiresAt.After(now)
}

// ClientMeta carries optional request metadata recorded on session creation.
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// # Field Identifiers

// Global field names for validation and identity mapping in the authentication domain.
const (
	FieldEmail           = "email"
	FieldName            = "name"
	FieldPassword        = "password"
	FieldOtp             = "otp"
	FieldToken           = "token"
	FieldMethod          = "method"
	FieldCurrentPassword = "current_password"
	FieldNewPassword     = "new_password"
	FieldDeviceName      = "device_name"
	FieldResponse        = "response"
	FieldAccessToken     = "access_token"
	FieldTokenType       = "token_type"
	FieldExpiresIn       = "expires_in"
	FieldRequiresOtp     = "requires_otp"
	FieldUser            = "user"
	FieldMessage         = "message"
)
