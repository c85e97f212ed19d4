// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phamduyan/veil/internal/platform/apperr"
	"github.com/phamduyan/veil/internal/users/auth"
)

// fakeProvider scripts the cryptographic half of the ceremonies.
type fakeProvider struct {
	createResult   *webauthn.Credential
	createErr      error
	validateResult *webauthn.Credential
	validateErr    error
}

func (provider *fakeProvider) BeginRegistration(_ webauthn.User, _ ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	return &protocol.CredentialCreation{}, &webauthn.SessionData{Challenge: "registration-challenge"}, nil
}

func (provider *fakeProvider) CreateCredential(_ webauthn.User, _ webauthn.SessionData, _ *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	return provider.createResult, provider.createErr
}

func (provider *fakeProvider) BeginLogin(_ webauthn.User, _ ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{Challenge: "login-challenge"}, nil
}

func (provider *fakeProvider) ValidateLogin(_ webauthn.User, _ webauthn.SessionData, _ *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	return provider.validateResult, provider.validateErr
}

// fakeParser accepts any payload; decoding itself belongs to the library.
type fakeParser struct {
	parseErr error
}

func (parser *fakeParser) ParseCredentialCreationResponseBytes(_ []byte) (*protocol.ParsedCredentialCreationData, error) {
	if parser.parseErr != nil {
		return nil, parser.parseErr
	}
	return &protocol.ParsedCredentialCreationData{}, nil
}

func (parser *fakeParser) ParseCredentialRequestResponseBytes(_ []byte) (*protocol.ParsedCredentialAssertionData, error) {
	if parser.parseErr != nil {
		return nil, parser.parseErr
	}
	return &protocol.ParsedCredentialAssertionData{}, nil
}

// webauthnFixture wires a WebAuthnAuthenticator over in-memory stores.
type webauthnFixture struct {
	authenticator *auth.WebAuthnAuthenticator
	provider      *fakeProvider
	parser        *fakeParser
	users         *memoryUserRepo
	credentials   *memoryCredentialStore
	tokens        *memoryTokenStore
}

func newWebAuthnFixture() *webauthnFixture {
	tokens := newMemoryTokenStore()
	users := newMemoryUserRepo(tokens)
	credentials := newMemoryCredentialStore(users, tokens)
	provider := &fakeProvider{}
	parser := &fakeParser{}

	return &webauthnFixture{
		authenticator: auth.NewWebAuthnAuthenticator(users, credentials, auth.NewIssuer(tokens), provider, parser),
		provider:      provider,
		parser:        parser,
		users:         users,
		credentials:   credentials,
		tokens:        tokens,
	}
}

// seedPasswordUser creates a verified password-method account.
func (fixture *webauthnFixture) seedPasswordUser(t *testing.T) *auth.User {
	t.Helper()

	user := &auth.User{ID: "user-1", Email: testEmail, Name: "Alice", Method: auth.MethodPassword}
	require.NoError(t, fixture.users.Create(context.Background(), user))
	require.NoError(t, fixture.credentials.InstallPassword(context.Background(), user.ID, "bcrypt-hash"))
	fixture.credentials.forceVerified(user.ID)
	return user
}

// enrollPasskey runs a full registration ceremony with the given counter.
func (fixture *webauthnFixture) enrollPasskey(t *testing.T, userID string, signCount uint32) *auth.WebAuthnCredential {
	t.Helper()

	_, err := fixture.authenticator.BeginRegistration(context.Background(), userID)
	require.NoError(t, err)

	fixture.provider.createResult = &webauthn.Credential{
		ID:            []byte("credential-1"),
		Authenticator: webauthn.Authenticator{SignCount: signCount},
	}

	credential, err := fixture.authenticator.FinishRegistration(context.Background(), userID, []byte(`{}`), "YubiKey")
	require.NoError(t, err)
	return credential
}

/*
TestWebAuthn_RegistrationSwitchesMethod asserts the mutual-exclusivity core:
installing a passkey removes the password credential in the same step.
*/
func TestWebAuthn_RegistrationSwitchesMethod(t *testing.T) {
	fixture := newWebAuthnFixture()
	user := fixture.seedPasswordUser(t)

	credential := fixture.enrollPasskey(t, user.ID, 0)
	assert.Equal(t, user.ID, credential.UserID)
	assert.Equal(t, "YubiKey", credential.DeviceName)

	// Password material is gone, method flipped, passkey installed.
	_, err := fixture.credentials.GetPassword(context.Background(), user.ID)
	assert.True(t, apperr.IsCode(err, "NOT_FOUND"))

	updated, err := fixture.users.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.MethodWebAuthn, updated.Method)

	passkeys, err := fixture.credentials.ListWebAuthn(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Len(t, passkeys, 1)

	// The challenge was consumed with the install.
	_, err = fixture.authenticator.FinishRegistration(context.Background(), user.ID, []byte(`{}`), "")
	assert.True(t, apperr.IsCode(err, "WEBAUTHN_CHALLENGE_NOT_FOUND"))
}

/*
TestWebAuthn_FailedRegistrationKeepsChallenge asserts that a rejected
attestation leaves the challenge live for a retry within the TTL.
*/
func TestWebAuthn_FailedRegistrationKeepsChallenge(t *testing.T) {
	fixture := newWebAuthnFixture()
	user := fixture.seedPasswordUser(t)

	_, err := fixture.authenticator.BeginRegistration(context.Background(), user.ID)
	require.NoError(t, err)

	// First attempt fails verification.
	fixture.provider.createErr = errors.New("attestation rejected")
	_, err = fixture.authenticator.FinishRegistration(context.Background(), user.ID, []byte(`{}`), "")
	assert.True(t, apperr.IsCode(err, "WEBAUTHN_FAILED"))

	// The password credential is untouched by the failure.
	_, err = fixture.credentials.GetPassword(context.Background(), user.ID)
	require.NoError(t, err)

	// Retry with the SAME challenge succeeds.
	fixture.provider.createErr = nil
	fixture.provider.createResult = &webauthn.Credential{ID: []byte("credential-1")}
	_, err = fixture.authenticator.FinishRegistration(context.Background(), user.ID, []byte(`{}`), "")
	assert.NoError(t, err)
}

/*
TestWebAuthn_BeginLoginGuards checks the method gate in front of the
assertion ceremony.
*/
func TestWebAuthn_BeginLoginGuards(t *testing.T) {
	fixture := newWebAuthnFixture()
	fixture.seedPasswordUser(t)

	// Unknown email collapses to InvalidCredentials.
	_, err := fixture.authenticator.BeginLogin(context.Background(), "ghost@example.com")
	assert.True(t, apperr.IsCode(err, "INVALID_CREDENTIALS"))

	// A password-method account cannot start a passkey login.
	_, err = fixture.authenticator.BeginLogin(context.Background(), testEmail)
	assert.True(t, apperr.IsCode(err, "AUTH_METHOD_MISMATCH"))
}

/*
TestWebAuthn_LoginAdvancesCounter covers the assertion happy path and the
persisted counter update.
*/
func TestWebAuthn_LoginAdvancesCounter(t *testing.T) {
	fixture := newWebAuthnFixture()
	user := fixture.seedPasswordUser(t)
	fixture.enrollPasskey(t, user.ID, 0)

	_, err := fixture.authenticator.BeginLogin(context.Background(), testEmail)
	require.NoError(t, err)

	fixture.provider.validateResult = &webauthn.Credential{
		ID:            []byte("credential-1"),
		Authenticator: webauthn.Authenticator{SignCount: 1},
	}

	authenticated, err := fixture.authenticator.FinishLogin(context.Background(), testEmail, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, user.ID, authenticated.ID)

	passkeys, err := fixture.credentials.ListWebAuthn(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, passkeys, 1)
	assert.Equal(t, uint32(1), passkeys[0].SignCount)
	assert.NotNil(t, passkeys[0].LastUsedAt)
}

/*
TestWebAuthn_CloneDetection asserts that a counter that does not strictly
advance is rejected even when the signature verifies, and that the challenge
survives the rejection.
*/
func TestWebAuthn_CloneDetection(t *testing.T) {
	fixture := newWebAuthnFixture()
	user := fixture.seedPasswordUser(t)
	fixture.enrollPasskey(t, user.ID, 5)

	_, err := fixture.authenticator.BeginLogin(context.Background(), testEmail)
	require.NoError(t, err)

	// Equal counter: replayed authenticator state.
	fixture.provider.validateResult = &webauthn.Credential{
		ID:            []byte("credential-1"),
		Authenticator: webauthn.Authenticator{SignCount: 5},
	}
	_, err = fixture.authenticator.FinishLogin(context.Background(), testEmail, []byte(`{}`))
	assert.True(t, apperr.IsCode(err, "WEBAUTHN_FAILED"))

	// Lower counter: same verdict.
	fixture.provider.validateResult.Authenticator.SignCount = 3
	_, err = fixture.authenticator.FinishLogin(context.Background(), testEmail, []byte(`{}`))
	assert.True(t, apperr.IsCode(err, "WEBAUTHN_FAILED"))

	// The challenge is still live: an advancing counter succeeds without a
	// new begin call.
	fixture.provider.validateResult.Authenticator.SignCount = 6
	_, err = fixture.authenticator.FinishLogin(context.Background(), testEmail, []byte(`{}`))
	assert.NoError(t, err)
}

/*
TestWebAuthn_CeremonyKindMismatch asserts that a login challenge cannot
complete a registration and vice versa.
*/
func TestWebAuthn_CeremonyKindMismatch(t *testing.T) {
	fixture := newWebAuthnFixture()
	user := fixture.seedPasswordUser(t)
	fixture.enrollPasskey(t, user.ID, 0)

	// A registration challenge cannot finish a login.
	_, err := fixture.authenticator.BeginRegistration(context.Background(), user.ID)
	require.NoError(t, err)

	fixture.provider.validateResult = &webauthn.Credential{
		ID:            []byte("credential-1"),
		Authenticator: webauthn.Authenticator{SignCount: 1},
	}
	_, err = fixture.authenticator.FinishLogin(context.Background(), testEmail, []byte(`{}`))
	assert.True(t, apperr.IsCode(err, "WEBAUTHN_CHALLENGE_NOT_FOUND"))
}

/*
TestWebAuthn_MalformedResponse asserts parser failures surface as ceremony
failures without consuming the challenge.
*/
func TestWebAuthn_MalformedResponse(t *testing.T) {
	fixture := newWebAuthnFixture()
	user := fixture.seedPasswordUser(t)

	_, err := fixture.authenticator.BeginRegistration(context.Background(), user.ID)
	require.NoError(t, err)

	fixture.parser.parseErr = errors.New("bad payload")
	_, err = fixture.authenticator.FinishRegistration(context.Background(), user.ID, []byte(`not-json`), "")
	assert.True(t, apperr.IsCode(err, "WEBAUTHN_FAILED"))

	// Challenge still live.
	fixture.parser.parseErr = nil
	fixture.provider.createResult = &webauthn.Credential{ID: []byte("credential-1")}
	_, err = fixture.authenticator.FinishRegistration(context.Background(), user.ID, []byte(`{}`), "")
	assert.NoError(t, err)
}
