// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/phamduyan/veil/internal/platform/apperr"
	"github.com/phamduyan/veil/internal/platform/validate"
)

// # Library Contracts

// PasskeyProvider is the trusted cryptographic collaborator for WebAuthn
// ceremonies. The core treats it as a black box returning verified/not-verified
// plus the parsed counter and public key material.
//
// # Why an interface?
//
// Wrapping [*webauthn.WebAuthn] behind an interface lets tests drive the
// authenticator with a fake provider and hand-built credentials.
type PasskeyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// PasskeyParser decodes raw client ceremony responses.
type PasskeyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

// DefaultPasskeyParser delegates to the protocol package.
type DefaultPasskeyParser struct{}

func (DefaultPasskeyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (DefaultPasskeyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// # Challenge Persistence

// Ceremony discriminates the two challenge flavors sharing the
// WebAuthnChallenge token kind.
type ceremony string

const (
	ceremonyRegistration ceremony = "registration"
	ceremonyLogin        ceremony = "login"
)

// challengeMetadata is the JSON payload stored with a challenge token.
type challengeMetadata struct {
	Ceremony ceremony             `json:"ceremony"`
	Session  webauthn.SessionData `json:"session"`
}

// # WebAuthn Authenticator

// WebAuthnAuthenticator drives passkey registration and login ceremonies.
//
// # Challenge Lifecycle
//
// Each begin call persists a WebAuthnChallenge token (TTL 5m) holding the
// library session data; issuing replaces any prior challenge. Failed
// verifications do NOT consume the challenge, so the caller may retry within
// the TTL. Successful completions consume it atomically with the credential
// write.
type WebAuthnAuthenticator struct {
	users       UserRepository
	credentials CredentialStore
	issuer      *Issuer
	provider    PasskeyProvider
	parser      PasskeyParser
}

// NewWebAuthnAuthenticator constructs a new [WebAuthnAuthenticator].
func NewWebAuthnAuthenticator(
	users UserRepository,
	credentials CredentialStore,
	issuer *Issuer,
	provider PasskeyProvider,
	parser PasskeyParser,
) *WebAuthnAuthenticator {
	return &WebAuthnAuthenticator{
		users:       users,
		credentials: credentials,
		issuer:      issuer,
		provider:    provider,
		parser:      parser,
	}
}

/*
BeginRegistration starts a passkey registration ceremony.

Description: Builds the relying-party options with the user's existing
credential IDs as exclusions, and persists the fresh challenge as a
WebAuthnChallenge token scoped to the user.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - *protocol.CredentialCreation: Registration parameters for the client
  - error: apperr.UserNotFound or ceremony setup failures
*/
func (authenticator *WebAuthnAuthenticator) BeginRegistration(context context.Context, userID string) (*protocol.CredentialCreation, error) {
	user, err := authenticator.users.FindByID(context, userID)
	if err != nil {
		return nil, err
	}

	passkeyUser, err := authenticator.loadPasskeyUser(context, user)
	if err != nil {
		return nil, err
	}

	// Exclude devices that are already registered.
	var options []webauthn.RegistrationOption
	if len(passkeyUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(
			webauthn.Credentials(passkeyUser.credentials).CredentialDescriptors()))
	}

	creation, session, err := authenticator.provider.BeginRegistration(passkeyUser, options...)
	if err != nil {
		return nil, fmt.Errorf("webauthn_begin_registration_failed: %w", err)
	}

	if err := authenticator.storeChallenge(context, user.ID, ceremonyRegistration, session); err != nil {
		return nil, err
	}

	return creation, nil
}

/*
FinishRegistration verifies an attestation response and installs the passkey.

Description: Attestation verification failures leave the challenge live for a
retry within the TTL. On success the credential insert, the account method
update, the exclusivity cleanup, and the challenge consumption commit in one
transaction. When the user was on the password method, this call IS the
method switch.

Parameters:
  - context: context.Context
  - userID: string
  - response: []byte (raw client attestation JSON)
  - deviceName: string (optional label)

Returns:
  - *WebAuthnCredential: Installed credential
  - error: apperr.WebAuthnChallengeNotFound, apperr.WebAuthnFailed, or storage failures
*/
func (authenticator *WebAuthnAuthenticator) FinishRegistration(context context.Context, userID string, response []byte, deviceName string) (*WebAuthnCredential, error) {
	user, err := authenticator.users.FindByID(context, userID)
	if err != nil {
		return nil, err
	}

	challenge, metadata, err := authenticator.loadChallenge(context, user.ID, ceremonyRegistration)
	if err != nil {
		return nil, err
	}

	parsed, err := authenticator.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return nil, apperr.WebAuthnFailed("Malformed registration response")
	}

	passkeyUser, err := authenticator.loadPasskeyUser(context, user)
	if err != nil {
		return nil, err
	}

	// Verification failure does not consume the challenge.
	verified, err := authenticator.provider.CreateCredential(passkeyUser, metadata.Session, parsed)
	if err != nil {
		return nil, apperr.WebAuthnFailed("Attestation verification failed")
	}

	credentialBlob, err := json.Marshal(verified)
	if err != nil {
		return nil, fmt.Errorf("webauthn_credential_marshal_failed: %w", err)
	}

	credential := &WebAuthnCredential{
		UserID:       user.ID,
		CredentialID: encodeCredentialID(verified.ID),
		Credential:   credentialBlob,
		SignCount:    verified.Authenticator.SignCount,
		DeviceName:   validate.NormalizeName(deviceName),
	}

	if err := authenticator.credentials.InstallWebAuthn(context, credential, challenge.ID); err != nil {
		return nil, err
	}

	return credential, nil
}

/*
BeginLogin starts a passkey authentication ceremony.

Parameters:
  - context: context.Context
  - email: string

Returns:
  - *protocol.CredentialAssertion: Assertion parameters with the stored
    credential set as the allow-list
  - error: apperr.InvalidCredentials (unknown email),
    apperr.AuthMethodMismatch, or ceremony setup failures
*/
func (authenticator *WebAuthnAuthenticator) BeginLogin(context context.Context, email string) (*protocol.CredentialAssertion, error) {
	user, err := authenticator.users.FindByEmail(context, validate.NormalizeEmail(email))
	if err != nil {
		return nil, apperr.InvalidCredentials()
	}

	if user.Method != MethodWebAuthn {
		return nil, apperr.AuthMethodMismatch("Account does not use passkey authentication")
	}

	passkeyUser, err := authenticator.loadPasskeyUser(context, user)
	if err != nil {
		return nil, err
	}
	if len(passkeyUser.credentials) == 0 {
		return nil, apperr.AuthMethodMismatch("Account has no registered passkeys")
	}

	assertion, session, err := authenticator.provider.BeginLogin(passkeyUser)
	if err != nil {
		return nil, fmt.Errorf("webauthn_begin_login_failed: %w", err)
	}

	if err := authenticator.storeChallenge(context, user.ID, ceremonyLogin, session); err != nil {
		return nil, err
	}

	return assertion, nil
}

/*
FinishLogin verifies an assertion response.

Description: After signature verification, the authenticator-reported counter
must be STRICTLY greater than the stored counter; equal or lower counters are
rejected as cloned-authenticator replay even when the signature is valid. The
new counter persists atomically with the challenge consumption.

Parameters:
  - context: context.Context
  - email: string
  - response: []byte (raw client assertion JSON)

Returns:
  - *User: Authenticated user, ready for session issuance
  - error: apperr.InvalidCredentials, apperr.AuthMethodMismatch,
    apperr.WebAuthnChallengeNotFound, apperr.WebAuthnFailed, or storage failures
*/
func (authenticator *WebAuthnAuthenticator) FinishLogin(context context.Context, email string, response []byte) (*User, error) {
	user, err := authenticator.users.FindByEmail(context, validate.NormalizeEmail(email))
	if err != nil {
		return nil, apperr.InvalidCredentials()
	}

	if user.Method != MethodWebAuthn {
		return nil, apperr.AuthMethodMismatch("Account does not use passkey authentication")
	}

	challenge, metadata, err := authenticator.loadChallenge(context, user.ID, ceremonyLogin)
	if err != nil {
		return nil, err
	}

	parsed, err := authenticator.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, apperr.WebAuthnFailed("Malformed assertion response")
	}

	passkeyUser, err := authenticator.loadPasskeyUser(context, user)
	if err != nil {
		return nil, err
	}

	// Verification failure does not consume the challenge.
	verified, err := authenticator.provider.ValidateLogin(passkeyUser, metadata.Session, parsed)
	if err != nil {
		return nil, apperr.WebAuthnFailed("Assertion verification failed")
	}

	credentialID := encodeCredentialID(verified.ID)
	stored, found := passkeyUser.lookup(credentialID)
	if !found {
		return nil, apperr.WebAuthnFailed("Unknown credential")
	}

	// Monotonicity invariant: a counter that did not advance indicates a
	// cloned authenticator replaying an old state.
	if verified.Authenticator.SignCount <= stored.SignCount {
		return nil, apperr.WebAuthnFailed("Signature counter did not advance")
	}

	credentialBlob, err := json.Marshal(verified)
	if err != nil {
		return nil, fmt.Errorf("webauthn_credential_marshal_failed: %w", err)
	}

	if err := authenticator.credentials.RecordAssertion(context,
		credentialID, credentialBlob, verified.Authenticator.SignCount, challenge.ID); err != nil {
		return nil, err
	}

	return user, nil
}

// # Challenge Helpers

// storeChallenge persists the library session data as a WebAuthnChallenge
// token, replacing any prior challenge for the user.
func (authenticator *WebAuthnAuthenticator) storeChallenge(ctx context.Context, userID string, kind ceremony, session *webauthn.SessionData) error {
	payload, err := json.Marshal(challengeMetadata{Ceremony: kind, Session: *session})
	if err != nil {
		return fmt.Errorf("webauthn_challenge_marshal_failed: %w", err)
	}

	if _, _, err := authenticator.issuer.Issue(ctx, userID, TokenWebAuthnChallenge, ChallengeTTL, payload); err != nil {
		return fmt.Errorf("webauthn_challenge_persist_failed: %w", err)
	}

	return nil
}

// loadChallenge resolves the user's live challenge and checks the ceremony kind.
func (authenticator *WebAuthnAuthenticator) loadChallenge(ctx context.Context, userID string, kind ceremony) (*Token, *challengeMetadata, error) {
	challenge, err := authenticator.issuer.LiveChallenge(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	var metadata challengeMetadata
	if err := json.Unmarshal(challenge.Metadata, &metadata); err != nil {
		return nil, nil, apperr.WebAuthnChallengeNotFound()
	}
	if metadata.Ceremony != kind {
		return nil, nil, apperr.WebAuthnChallengeNotFound()
	}

	return challenge, &metadata, nil
}

// # Library User Adapter

// passkeyUser adapts a [User] and their stored credentials to [webauthn.User].
type passkeyUser struct {
	user        *User
	stored      []WebAuthnCredential
	credentials []webauthn.Credential
}

// loadPasskeyUser hydrates the adapter with the user's credential set.
func (authenticator *WebAuthnAuthenticator) loadPasskeyUser(ctx context.Context, user *User) (*passkeyUser, error) {
	stored, err := authenticator.credentials.ListWebAuthn(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	credentials := make([]webauthn.Credential, 0, len(stored))
	for _, record := range stored {
		var credential webauthn.Credential
		if err := json.Unmarshal(record.Credential, &credential); err != nil {
			return nil, fmt.Errorf("webauthn_credential_unmarshal_failed: %w", err)
		}
		credentials = append(credentials, credential)
	}

	return &passkeyUser{user: user, stored: stored, credentials: credentials}, nil
}

// lookup returns the stored record matching an encoded credential ID.
func (adapter *passkeyUser) lookup(credentialID string) (*WebAuthnCredential, bool) {
	for index := range adapter.stored {
		if adapter.stored[index].CredentialID == credentialID {
			return &adapter.stored[index], true
		}
	}
	return nil, false
}

func (adapter *passkeyUser) WebAuthnID() []byte {
	return []byte(adapter.user.ID)
}

func (adapter *passkeyUser) WebAuthnName() string {
	return adapter.user.Email
}

func (adapter *passkeyUser) WebAuthnDisplayName() string {
	return adapter.user.Name
}

func (adapter *passkeyUser) WebAuthnIcon() string {
	return ""
}

func (adapter *passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return adapter.credentials
}

// encodeCredentialID renders a raw credential ID in the canonical storage form.
func encodeCredentialID(rawID []byte) string {
	return base64.RawURLEncoding.EncodeToString(rawID)
}
