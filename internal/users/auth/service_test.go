// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phamduyan/veil/internal/platform/apperr"
	"github.com/phamduyan/veil/internal/platform/constants"
	"github.com/phamduyan/veil/internal/platform/sec"
	"github.com/phamduyan/veil/internal/users/auth"
)

// fakeTokenProvider mints deterministic access tokens so the tests need no
// signing keys.
type fakeTokenProvider struct {
	issued int
}

func (provider *fakeTokenProvider) GenerateAccessToken(userID, sessionID, method string, _ time.Duration) (string, error) {
	provider.issued++
	return fmt.Sprintf("jwt|%s|%s|%s|%d", userID, sessionID, method, provider.issued), nil
}

func (provider *fakeTokenProvider) VerifyToken(_ string) (*sec.AuthClaims, error) {
	return nil, errors.New("not used in these tests")
}

// serviceFixture wires the full orchestration layer over in-memory stores.
type serviceFixture struct {
	service     *auth.Service
	provider    *fakeProvider
	parser      *fakeParser
	users       *memoryUserRepo
	credentials *memoryCredentialStore
	tokens      *memoryTokenStore
	sessions    *memorySessionStore
	limiter     *memoryLimiter
	notifier    *recordingNotifier
}

func newServiceFixture() *serviceFixture {
	tokens := newMemoryTokenStore()
	users := newMemoryUserRepo(tokens)
	credentials := newMemoryCredentialStore(users, tokens)
	sessions := newMemorySessionStore()
	limiter := newMemoryLimiter()
	notifier := &recordingNotifier{}
	issuer := auth.NewIssuer(tokens)
	provider := &fakeProvider{}
	parser := &fakeParser{}

	service := auth.NewService(
		users,
		credentials,
		auth.NewPasswordAuthenticator(users, credentials, issuer, notifier),
		auth.NewWebAuthnAuthenticator(users, credentials, issuer, provider, parser),
		auth.NewSessionManager(sessions),
		&fakeTokenProvider{},
		limiter,
		notifier,
	)

	return &serviceFixture{
		service:     service,
		provider:    provider,
		parser:      parser,
		users:       users,
		credentials: credentials,
		tokens:      tokens,
		sessions:    sessions,
		limiter:     limiter,
		notifier:    notifier,
	}
}

// registerVerified enrolls and email-verifies a user through the service.
func (fixture *serviceFixture) registerVerified(t *testing.T) *auth.User {
	t.Helper()

	user, err := fixture.service.Register(context.Background(), auth.RegisterInput{
		Email:    testEmail,
		Name:     "Alice",
		Password: testPassword,
	})
	require.NoError(t, err)
	require.NoError(t, fixture.service.VerifyEmail(context.Background(), fixture.notifier.lastVerification()))
	return user
}

// login runs both steps of the two-step protocol through the service.
func (fixture *serviceFixture) login(t *testing.T, email, password string) *auth.LoginResult {
	t.Helper()

	result, err := fixture.service.Login(context.Background(), email, password, "", auth.ClientMeta{})
	require.NoError(t, err)
	require.True(t, result.RequiresOtp)

	result, err = fixture.service.Login(context.Background(), email, password, fixture.notifier.lastOtp(), auth.ClientMeta{})
	require.NoError(t, err)
	return result
}

// enrollPasskey completes a registration ceremony through the service.
func (fixture *serviceFixture) enrollPasskey(t *testing.T, userID string, signCount uint32) {
	t.Helper()

	_, err := fixture.service.BeginWebAuthnRegistration(context.Background(), userID)
	require.NoError(t, err)

	fixture.provider.createResult = &webauthn.Credential{
		ID:            []byte("credential-1"),
		Authenticator: webauthn.Authenticator{SignCount: signCount},
	}
	_, err = fixture.service.FinishWebAuthnRegistration(context.Background(), userID, []byte(`{}`), "YubiKey")
	require.NoError(t, err)
}

/*
TestService_LoginLifecycle walks the full password session lifecycle: two-step
login, session resolution, access-token refresh, and logout.
*/
func TestService_LoginLifecycle(t *testing.T) {
	ctx := context.Background()
	fixture := newServiceFixture()
	user := fixture.registerVerified(t)

	// Step one yields the OTP demand and no tokens.
	result, err := fixture.service.Login(ctx, testEmail, testPassword, "", auth.ClientMeta{UserAgent: "cli"})
	require.NoError(t, err)
	assert.True(t, result.RequiresOtp)
	assert.Empty(t, result.AccessToken)
	assert.Empty(t, result.SessionToken)

	// Step two mints the token pair.
	result, err = fixture.service.Login(ctx, testEmail, testPassword, fixture.notifier.lastOtp(), auth.ClientMeta{UserAgent: "cli"})
	require.NoError(t, err)
	assert.False(t, result.RequiresOtp)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.SessionToken)
	require.NotNil(t, result.User)
	assert.Equal(t, user.ID, result.User.ID)

	// The session resolves back to the user.
	resolvedUser, session, err := fixture.service.GetSessionUser(ctx, result.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolvedUser.ID)
	assert.Equal(t, auth.MethodPassword, session.Method)

	// Refresh re-mints the JWT without touching the session expiry.
	refreshed, err := fixture.service.Refresh(ctx, result.SessionToken)
	require.NoError(t, err)
	assert.NotEqual(t, result.AccessToken, refreshed.AccessToken)
	assert.Equal(t, result.SessionExpiresAt, refreshed.SessionExpiresAt)

	// Logout kills the session; a second logout stays silent.
	require.NoError(t, fixture.service.Logout(ctx, result.SessionToken))
	_, err = fixture.service.Refresh(ctx, result.SessionToken)
	assert.True(t, apperr.IsCode(err, "SESSION_INVALID"))
	assert.NoError(t, fixture.service.Logout(ctx, result.SessionToken))
}

/*
TestService_LoginRateLimit asserts the per-identity abuse counter: the window
budget rejects further attempts regardless of credential validity.
*/
func TestService_LoginRateLimit(t *testing.T) {
	ctx := context.Background()
	fixture := newServiceFixture()

	// Unknown email keeps the account lockout machinery out of the picture.
	for attempt := 0; attempt < constants.AuthAttemptLimit; attempt++ {
		_, err := fixture.service.Login(ctx, "ghost@example.com", testPassword, "", auth.ClientMeta{})
		assert.True(t, apperr.IsCode(err, "INVALID_CREDENTIALS"))
	}

	// Budget exhausted: the next attempt is throttled before any lookup.
	_, err := fixture.service.Login(ctx, "ghost@example.com", testPassword, "", auth.ClientMeta{})
	assert.True(t, apperr.IsCode(err, "RATE_LIMITED"))

	// Other identities are unaffected.
	_, err = fixture.service.Login(ctx, "someone-else@example.com", testPassword, "", auth.ClientMeta{})
	assert.True(t, apperr.IsCode(err, "INVALID_CREDENTIALS"))
}

/*
TestService_RateLimitResetsOnSuccess asserts a completed login clears the
identity counter.
*/
func TestService_RateLimitResetsOnSuccess(t *testing.T) {
	ctx := context.Background()
	fixture := newServiceFixture()
	fixture.registerVerified(t)

	// A few failures, below both the throttle and the lockout threshold.
	for attempt := 0; attempt < 3; attempt++ {
		_, err := fixture.service.Login(ctx, testEmail, "Wrong-Passw0rd!", "", auth.ClientMeta{})
		assert.True(t, apperr.IsCode(err, "INVALID_CREDENTIALS"))
	}

	key := constants.RedisPrefixAttempts + testEmail
	assert.Equal(t, int64(3), fixture.limiter.count(key))

	// The namespace prefix is applied exactly once.
	assert.Zero(t, fixture.limiter.count(constants.RedisPrefixAttempts+key))

	result := fixture.login(t, testEmail, testPassword)
	require.NotNil(t, result.User)

	assert.Equal(t, int64(0), fixture.limiter.count(key))
}

/*
TestService_WebAuthnRegistrationIsTheSwitch asserts that completing a passkey
registration on a password account revokes every session and notifies the
user.
*/
func TestService_WebAuthnRegistrationIsTheSwitch(t *testing.T) {
	ctx := context.Background()
	fixture := newServiceFixture()
	user := fixture.registerVerified(t)

	// An active session that must not survive the switch.
	loggedIn := fixture.login(t, testEmail, testPassword)
	noticesBefore := len(fixture.notifier.notices)

	fixture.enrollPasskey(t, user.ID, 0)

	// The old session is dead and the user was told why.
	_, _, err := fixture.service.GetSessionUser(ctx, loggedIn.SessionToken)
	assert.True(t, apperr.IsCode(err, "SESSION_INVALID"))
	assert.Greater(t, len(fixture.notifier.notices), noticesBefore)

	// Password login is no longer possible.
	_, err = fixture.service.Login(ctx, testEmail, testPassword, "", auth.ClientMeta{})
	assert.True(t, apperr.IsCode(err, "AUTH_METHOD_MISMATCH"))

	// Passkey login now mints sessions.
	_, err = fixture.service.BeginWebAuthnLogin(ctx, testEmail)
	require.NoError(t, err)

	fixture.provider.validateResult = &webauthn.Credential{
		ID:            []byte("credential-1"),
		Authenticator: webauthn.Authenticator{SignCount: 1},
	}
	result, err := fixture.service.FinishWebAuthnLogin(ctx, testEmail, []byte(`{}`), auth.ClientMeta{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionToken)

	_, session, err := fixture.service.GetSessionUser(ctx, result.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, auth.MethodWebAuthn, session.Method)
}

/*
TestService_SwitchMethodToPassword covers the reverse switch: the new
credential starts unverified and every passkey and session is gone.
*/
func TestService_SwitchMethodToPassword(t *testing.T) {
	ctx := context.Background()
	fixture := newServiceFixture()
	user := fixture.registerVerified(t)
	fixture.enrollPasskey(t, user.ID, 0)

	// A live passkey session to be revoked by the switch.
	_, err := fixture.service.BeginWebAuthnLogin(ctx, testEmail)
	require.NoError(t, err)
	fixture.provider.validateResult = &webauthn.Credential{
		ID:            []byte("credential-1"),
		Authenticator: webauthn.Authenticator{SignCount: 1},
	}
	loggedIn, err := fixture.service.FinishWebAuthnLogin(ctx, testEmail, []byte(`{}`), auth.ClientMeta{})
	require.NoError(t, err)

	const newPassword = "Brand-New-Passw0rd!"

	// A weak password is rejected before anything changes.
	err = fixture.service.SwitchMethod(ctx, user.ID, auth.SwitchMethodInput{Target: auth.MethodPassword, Password: "weak"})
	assert.True(t, apperr.IsCode(err, "VALIDATION_ERROR"))

	require.NoError(t, fixture.service.SwitchMethod(ctx, user.ID, auth.SwitchMethodInput{
		Target:   auth.MethodPassword,
		Password: newPassword,
	}))

	// Passkeys are wiped, sessions are revoked.
	passkeys, err := fixture.credentials.ListWebAuthn(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, passkeys)
	_, _, err = fixture.service.GetSessionUser(ctx, loggedIn.SessionToken)
	assert.True(t, apperr.IsCode(err, "SESSION_INVALID"))

	// The fresh credential demands email re-verification before login.
	_, err = fixture.service.Login(ctx, testEmail, newPassword, "", auth.ClientMeta{})
	assert.True(t, apperr.IsCode(err, "EMAIL_NOT_VERIFIED"))

	require.NoError(t, fixture.service.VerifyEmail(ctx, fixture.notifier.lastVerification()))
	result := fixture.login(t, testEmail, newPassword)
	assert.NotNil(t, result.User)
}

/*
TestService_SwitchMethodGuards checks the validation and no-op paths.
*/
func TestService_SwitchMethodGuards(t *testing.T) {
	ctx := context.Background()
	fixture := newServiceFixture()
	user := fixture.registerVerified(t)

	// Unknown target.
	err := fixture.service.SwitchMethod(ctx, user.ID, auth.SwitchMethodInput{Target: auth.Method("carrier-pigeon")})
	assert.True(t, apperr.IsCode(err, "VALIDATION_ERROR"))

	// Switching to the current method is a no-op: no notice, sessions intact.
	loggedIn := fixture.login(t, testEmail, testPassword)
	noticesBefore := len(fixture.notifier.notices)

	require.NoError(t, fixture.service.SwitchMethod(ctx, user.ID, auth.SwitchMethodInput{Target: auth.MethodPassword}))

	assert.Len(t, fixture.notifier.notices, noticesBefore)
	_, _, err = fixture.service.GetSessionUser(ctx, loggedIn.SessionToken)
	assert.NoError(t, err)
}

/*
TestService_CompletePasswordReset asserts the reset choreography: new hash,
every session revoked, security notice dispatched.
*/
func TestService_CompletePasswordReset(t *testing.T) {
	ctx := context.Background()
	fixture := newServiceFixture()
	fixture.registerVerified(t)

	loggedIn := fixture.login(t, testEmail, testPassword)
	noticesBefore := len(fixture.notifier.notices)

	require.NoError(t, fixture.service.RequestPasswordReset(ctx, testEmail))
	resetToken := fixture.notifier.lastReset()
	require.NotEmpty(t, resetToken)

	const newPassword = "Post-Reset-Passw0rd!"
	require.NoError(t, fixture.service.CompletePasswordReset(ctx, resetToken, newPassword))

	// The pre-reset session is dead and the user was notified.
	_, _, err := fixture.service.GetSessionUser(ctx, loggedIn.SessionToken)
	assert.True(t, apperr.IsCode(err, "SESSION_INVALID"))
	assert.Greater(t, len(fixture.notifier.notices), noticesBefore)

	// Old password dead, new password live.
	_, err = fixture.service.Login(ctx, testEmail, testPassword, "", auth.ClientMeta{})
	assert.True(t, apperr.IsCode(err, "INVALID_CREDENTIALS"))
	result := fixture.login(t, testEmail, newPassword)
	assert.NotNil(t, result.User)
}

/*
TestService_RevokeAllSessions signs the user out everywhere at once.
*/
func TestService_RevokeAllSessions(t *testing.T) {
	ctx := context.Background()
	fixture := newServiceFixture()
	user := fixture.registerVerified(t)

	first := fixture.login(t, testEmail, testPassword)
	second := fixture.login(t, testEmail, testPassword)

	require.NoError(t, fixture.service.RevokeAllSessions(ctx, user.ID))

	_, _, err := fixture.service.GetSessionUser(ctx, first.SessionToken)
	assert.True(t, apperr.IsCode(err, "SESSION_INVALID"))
	_, _, err = fixture.service.GetSessionUser(ctx, second.SessionToken)
	assert.True(t, apperr.IsCode(err, "SESSION_INVALID"))
}
