// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/phamduyan/veil/internal/platform/apperr"
	"github.com/phamduyan/veil/internal/platform/sec"
	"github.com/phamduyan/veil/pkg/uuid"
)

// # Token Issuer

// Issuer generates and validates short-lived single-use tokens.
//
// # Secret Handling
//
// Raw values leave this type exactly once, as the return value of Issue.
// Storage only ever sees the SHA-256 hash, so a database leak does not leak
// consumable secrets.
type Issuer struct {
	tokens TokenStore
}

// NewIssuer constructs a new [Issuer].
func NewIssuer(tokens TokenStore) *Issuer {
	return &Issuer{tokens: tokens}
}

/*
Issue creates a fresh single-use token, invalidating any prior live token for
the same (owner, kind).

Description: LoginOtp values are 6 ASCII digits (human-enterable); every other
kind is a 32-byte base64url string.

Parameters:
  - context: context.Context
  - userID: string (empty for unowned pre-registration tokens)
  - kind: TokenKind
  - ttl: time.Duration
  - metadata: []byte (kind-specific JSON, may be nil)

Returns:
  - *Token: Persisted record
  - string: Raw secret value, for out-of-band delivery only
  - error: Generation or persistence failures
*/
func (issuer *Issuer) Issue(context context.Context, userID string, kind TokenKind, ttl time.Duration, metadata []byte) (*Token, string, error) {
	var rawValue string
	var err error

	if kind == TokenLoginOtp {
		rawValue, err = sec.GenerateNumericCode(OtpDigits)
	} else {
		rawValue, err = sec.GenerateSecureToken(OpaqueTokenLength)
	}
	if err != nil {
		return nil, "", fmt.Errorf("issuer_generate_failed: %w", err)
	}

	token := &Token{
		ID:        uuid.New(),
		Kind:      kind,
		ValueHash: sec.HashToken(rawValue),
		Metadata:  metadata,
		ExpiresAt: time.Now().Add(ttl),
	}
	if userID != "" {
		token.UserID = &userID
	}

	if err := issuer.tokens.Create(context, token); err != nil {
		return nil, "", fmt.Errorf("issuer_persist_failed: %w", err)
	}

	return token, rawValue, nil
}

/*
Consume validates and immediately marks a token as used.

Description: The lookup distinguishes absence (TokenInvalid) from expiry
(TokenExpired). Marking uses the store's atomic check-and-mark, so concurrent
consumers cannot both succeed.

Parameters:
  - context: context.Context
  - kind: TokenKind
  - rawValue: string

Returns:
  - *Token: Consumed record
  - error: apperr.TokenInvalid, apperr.TokenExpired, or storage failures
*/
func (issuer *Issuer) Consume(context context.Context, kind TokenKind, rawValue string) (*Token, error) {
	token, err := issuer.Lookup(context, kind, rawValue)
	if err != nil {
		return nil, err
	}

	if err := issuer.tokens.MarkUsed(context, token.ID); err != nil {
		return nil, err
	}

	return token, nil
}

/*
Lookup resolves a raw value to its live token WITHOUT consuming it.

Description: Used by flows that consume the token inside the same transaction
as the dependent state change (email verification, password reset).

Parameters:
  - context: context.Context
  - kind: TokenKind
  - rawValue: string

Returns:
  - *Token: Live record
  - error: apperr.TokenInvalid or apperr.TokenExpired
*/
func (issuer *Issuer) Lookup(context context.Context, kind TokenKind, rawValue string) (*Token, error) {
	token, err := issuer.tokens.FindByHash(context, kind, sec.HashToken(rawValue))
	if err != nil {
		return nil, err
	}

	if !token.ExpiresAt.After(time.Now()) {
		return nil, apperr.TokenExpired()
	}

	return token, nil
}

/*
ConsumeOtp validates and consumes a login OTP for a specific user.

Description: OTP values are short, so the lookup is scoped by (user, kind)
rather than by value; the submitted code is then compared in constant time.
Consumption happens immediately on verification success so the code can never
be replayed.

Parameters:
  - context: context.Context
  - userID: string
  - rawValue: string

Returns:
  - error: apperr.OtpInvalid, apperr.OtpExpired, or storage failures
*/
func (issuer *Issuer) ConsumeOtp(context context.Context, userID, rawValue string) error {
	token, err := issuer.tokens.FindForUser(context, userID, TokenLoginOtp)
	if err != nil {
		return apperr.OtpInvalid()
	}

	if !token.ExpiresAt.After(time.Now()) {
		return apperr.OtpExpired()
	}

	submittedHash := sec.HashToken(rawValue)
	if subtle.ConstantTimeCompare([]byte(submittedHash), []byte(token.ValueHash)) != 1 {
		return apperr.OtpInvalid()
	}

	if err := issuer.tokens.MarkUsed(context, token.ID); err != nil {
		return apperr.OtpInvalid()
	}

	return nil
}

/*
LiveChallenge returns the user's live WebAuthn challenge WITHOUT consuming it.

Description: Failed ceremonies leave the challenge live so the caller may
retry within the TTL; consumption happens atomically with the credential
write on success.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - *Token: Live challenge record
  - error: apperr.WebAuthnChallengeNotFound
*/
func (issuer *Issuer) LiveChallenge(context context.Context, userID string) (*Token, error) {
	token, err := issuer.tokens.FindForUser(context, userID, TokenWebAuthnChallenge)
	if err != nil {
		return nil, apperr.WebAuthnChallengeNotFound()
	}

	if !token.ExpiresAt.After(time.Now()) {
		return nil, apperr.WebAuthnChallengeNotFound()
	}

	return token, nil
}
