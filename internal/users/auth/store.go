// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth

import (
	"context"
	"time"
)

// # User Data Access

// UserRepository defines the data access contract for user accounts.
type UserRepository interface {

	/*
		Create persists a brand-new user account.

		Parameters:
		  - context: context.Context
		  - user: *User

		Returns:
		  - error: apperr.UserExists on duplicate email, or persistence failures
	*/
	Create(context context.Context, user *User) error

	/*
		FindByID returns the account with the given ID, excluding soft-deleted rows.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - *User: Hydrated entity
		  - error: apperr.UserNotFound or database retrieval failures
	*/
	FindByID(context context.Context, id string) (*User, error)

	/*
		FindByEmail returns the account with the given normalized email.

		Parameters:
		  - context: context.Context
		  - email: string

		Returns:
		  - *User: Hydrated entity
		  - error: apperr.UserNotFound or database retrieval failures
	*/
	FindByEmail(context context.Context, email string) (*User, error)

	/*
		UpdateName persists a new display name.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - name: string

		Returns:
		  - error: Persistence failures
	*/
	UpdateName(context context.Context, userID, name string) error

	/*
		ChangeEmail atomically consumes the verification token and replaces the
		account email within one transaction.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - newEmail: string
		  - tokenID: string (EmailVerification token carrying the pending address)

		Returns:
		  - error: apperr.TokenInvalid if the token was already consumed,
		    apperr.UserExists if the address is taken, or persistence failures
	*/
	ChangeEmail(context context.Context, userID, newEmail, tokenID string) error

	/*
		SoftDelete marks the account as deleted without removing the row.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - error: Persistence failures
	*/
	SoftDelete(context context.Context, id string) error
}

// # Credential Data Access

// CredentialStore defines the data access contract for authentication credentials.
//
// # Atomicity
//
// Every method that crosses the mutual-exclusivity boundary (Install*) or
// pairs a token consumption with a dependent write (MarkEmailVerified,
// UpdatePasswordHash, RecordAssertion) executes as a single database
// transaction. Concurrent callers can never observe mixed credential state.
type CredentialStore interface {

	/*
		GetPassword returns the password credential of the user.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - *PasswordCredential: Hydrated entity
		  - error: apperr.NotFound if the user has no password credential
	*/
	GetPassword(context context.Context, userID string) (*PasswordCredential, error)

	/*
		ListWebAuthn returns every passkey credential of the user.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - []WebAuthnCredential: May be empty
		  - error: Database retrieval failures
	*/
	ListWebAuthn(context context.Context, userID string) ([]WebAuthnCredential, error)

	/*
		InstallPassword atomically deletes all WebAuthn credentials, upserts the
		password credential (unverified, counters reset), and sets the user's
		method to password.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - passwordHash: string

		Returns:
		  - error: apperr.UserNotFound for missing/soft-deleted users
	*/
	InstallPassword(context context.Context, userID, passwordHash string) error

	/*
		InstallWebAuthn atomically deletes the password credential, inserts the
		new passkey credential, sets the user's method to webauthn, and consumes
		the ceremony challenge token.

		Parameters:
		  - context: context.Context
		  - credential: *WebAuthnCredential
		  - challengeTokenID: string

		Returns:
		  - error: apperr.UserNotFound, apperr.TokenInvalid (challenge already
		    consumed), or persistence failures
	*/
	InstallWebAuthn(context context.Context, credential *WebAuthnCredential, challengeTokenID string) error

	/*
		RecordFailedAttempt increments the failure counter in one atomic update
		and applies the lockout once the threshold is reached.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - int: Counter value after the increment
		  - *time.Time: Lockout expiry if the attempt triggered (or extended) one
		  - error: Persistence failures
	*/
	RecordFailedAttempt(context context.Context, userID string) (int, *time.Time, error)

	/*
		ResetFailedAttempts clears the failure counter and lockout after a
		successful authentication.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - error: Persistence failures
	*/
	ResetFailedAttempts(context context.Context, userID string) error

	/*
		MarkEmailVerified atomically consumes the verification token and stamps
		the password credential as verified within one transaction.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - tokenID: string

		Returns:
		  - error: apperr.TokenInvalid if the token was already consumed
	*/
	MarkEmailVerified(context context.Context, userID, tokenID string) error

	/*
		UpdatePasswordHash replaces the password hash, resets lockout state, and,
		when resetTokenID is non-empty, consumes the reset token in the same
		transaction.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - newHash: string
		  - resetTokenID: string (empty for authenticated password changes)

		Returns:
		  - error: apperr.TokenInvalid if the token was already consumed
	*/
	UpdatePasswordHash(context context.Context, userID, newHash, resetTokenID string) error

	/*
		RecordAssertion atomically persists the post-assertion credential state
		(signature counter, last-used timestamp) and consumes the challenge token
		within one transaction.

		Parameters:
		  - context: context.Context
		  - credentialID: string (base64url credential ID)
		  - credentialBlob: []byte (re-marshaled library credential)
		  - signCount: uint32 (authenticator-reported counter)
		  - challengeTokenID: string

		Returns:
		  - error: apperr.TokenInvalid if the challenge was already consumed
	*/
	RecordAssertion(context context.Context, credentialID string, credentialBlob []byte, signCount uint32, challengeTokenID string) error
}

// # Token Data Access

// TokenStore defines the data access contract for single-use tokens.
type TokenStore interface {

	/*
		Create inserts a token, first deleting any live token for the same
		(owner, kind) within the same transaction.

		Parameters:
		  - context: context.Context
		  - token: *Token

		Returns:
		  - error: Persistence failures
	*/
	Create(context context.Context, token *Token) error

	/*
		FindByHash returns the unused token matching kind and value hash,
		regardless of expiry (callers distinguish expired from absent).

		Parameters:
		  - context: context.Context
		  - kind: TokenKind
		  - valueHash: string

		Returns:
		  - *Token: Hydrated entity
		  - error: apperr.TokenInvalid if absent
	*/
	FindByHash(context context.Context, kind TokenKind, valueHash string) (*Token, error)

	/*
		FindForUser returns the unused token of the given kind owned by the user,
		regardless of expiry.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - kind: TokenKind

		Returns:
		  - *Token: Hydrated entity
		  - error: apperr.TokenInvalid if absent
	*/
	FindForUser(context context.Context, userID string, kind TokenKind) (*Token, error)

	/*
		MarkUsed stamps the token as consumed using an atomic conditional update,
		so two concurrent consumers can never both succeed.

		Parameters:
		  - context: context.Context
		  - tokenID: string

		Returns:
		  - error: apperr.TokenInvalid if already used or expired
	*/
	MarkUsed(context context.Context, tokenID string) error

	/*
		DeleteExpired physically removes tokens whose expiry is in the past.

		Parameters:
		  - context: context.Context

		Returns:
		  - error: Cleanup failures
	*/
	DeleteExpired(context context.Context) error
}

// # Session Data Access

// SessionStore defines the data access contract for sessions.
type SessionStore interface {

	/*
		Create inserts a session, evicting the oldest sessions of the user beyond
		the concurrency cap within the same transaction.

		Parameters:
		  - context: context.Context
		  - session: *Session

		Returns:
		  - error: Persistence failures
	*/
	Create(context context.Context, session *Session) error

	/*
		FindByTokenHash returns the session matching the token hash, including
		expired rows (the manager decides expiry semantics).

		Parameters:
		  - context: context.Context
		  - tokenHash: string

		Returns:
		  - *Session: Hydrated entity
		  - error: apperr.SessionInvalid if absent
	*/
	FindByTokenHash(context context.Context, tokenHash string) (*Session, error)

	/*
		ListForUser returns the user's live sessions, newest first. The
		concurrency cap bounds the result size.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - []Session: May be empty
		  - error: Database retrieval failures
	*/
	ListForUser(context context.Context, userID string) ([]Session, error)

	/*
		DeleteByID removes a single session. Deleting an absent row is a no-op.

		Parameters:
		  - context: context.Context
		  - sessionID: string

		Returns:
		  - error: Persistence failures
	*/
	DeleteByID(context context.Context, sessionID string) error

	/*
		DeleteAllForUser removes every session of the user.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - error: Persistence failures
	*/
	DeleteAllForUser(context context.Context, userID string) error

	/*
		DeleteExpired physically removes sessions whose expiry is in the past.

		Parameters:
		  - context: context.Context

		Returns:
		  - error: Cleanup failures
	*/
	DeleteExpired(context context.Context) error
}

// # Volatile Data Access

// AttemptLimiter tracks sensitive-operation attempts per scope key (volatile,
// windowed). Used for the per-identity abuse counters that back RATE_LIMITED
// outcomes, independent of the per-IP HTTP middleware.
type AttemptLimiter interface {

	/*
		Hit records one attempt and returns the running count within the window.

		Parameters:
		  - context: context.Context
		  - key: string (scope, e.g. normalized email)
		  - window: time.Duration

		Returns:
		  - int64: Attempt count including this hit
		  - error: Storage failures
	*/
	Hit(context context.Context, key string, window time.Duration) (int64, error)

	/*
		Reset clears the attempt counter for the scope key.

		Parameters:
		  - context: context.Context
		  - key: string

		Returns:
		  - error: Storage failures
	*/
	Reset(context context.Context, key string) error
}
