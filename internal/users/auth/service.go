// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/phamduyan/veil/internal/platform/apperr"
	"github.com/phamduyan/veil/internal/platform/constants"
	"github.com/phamduyan/veil/internal/platform/ctxutil"
	"github.com/phamduyan/veil/internal/platform/sec"
	"github.com/phamduyan/veil/internal/platform/validate"
)

// # Token Provider

// TokenProvider issues and verifies signed access tokens. Implemented by
// [sec.TokenService]; an interface so tests can swap in a deterministic fake.
type TokenProvider interface {
	GenerateAccessToken(userID, sessionID, method string, timeToLive time.Duration) (string, error)
	VerifyToken(tokenString string) (*sec.AuthClaims, error)
}

// # Authentication Service

// Service is the orchestration facade over the authentication subsystem.
//
// # Responsibilities
//
// The service owns the cross-cutting rules the individual collaborators stay
// ignorant of: the per-identity abuse counter in front of every credential
// check, session issuance after a successful authentication, and the
// revoke-everything-and-notify choreography around security-sensitive
// mutations (method switch, password reset).
type Service struct {
	users       UserRepository
	credentials CredentialStore
	password    *PasswordAuthenticator
	webauthn    *WebAuthnAuthenticator
	sessions    *SessionManager
	tokens      TokenProvider
	limiter     AttemptLimiter
	notifier    Notifier
}

// NewService constructs the authentication [Service].
func NewService(
	users UserRepository,
	credentials CredentialStore,
	password *PasswordAuthenticator,
	webauthn *WebAuthnAuthenticator,
	sessions *SessionManager,
	tokens TokenProvider,
	limiter AttemptLimiter,
	notifier Notifier,
) *Service {
	return &Service{
		users:       users,
		credentials: credentials,
		password:    password,
		webauthn:    webauthn,
		sessions:    sessions,
		tokens:      tokens,
		limiter:     limiter,
		notifier:    notifier,
	}
}

// # Results

// LoginResult is the outcome of a completed (or half-completed) login.
type LoginResult struct {
	// RequiresOtp is true when the caller must repeat the call with the
	// emailed code. No tokens are issued in that state.
	RequiresOtp bool

	// AccessToken is the short-lived signed JWT.
	AccessToken string

	// SessionToken is the opaque long-lived token, delivered as a cookie.
	SessionToken string

	// SessionExpiresAt is the fixed session expiry.
	SessionExpiresAt time.Time

	// User is the authenticated account.
	User *User
}

// # Registration and Verification

// Register enrolls a new password-method user and dispatches the
// verification email.
func (service *Service) Register(context context.Context, input RegisterInput) (*User, error) {
	return service.password.Register(context, input)
}

// VerifyEmail confirms email ownership with a verification token.
func (service *Service) VerifyEmail(context context.Context, rawToken string) error {
	return service.password.VerifyEmail(context, rawToken)
}

// ResendVerification re-issues the verification email. Silent for unknown or
// already-verified accounts.
func (service *Service) ResendVerification(context context.Context, email string) error {
	return service.password.ResendVerification(context, email)
}

// # Login

/*
Login runs the password+OTP flow and, on full success, mints a session.

Description: Every attempt first passes the per-identity abuse counter; the
counter resets on success so a legitimate user is never throttled by their own
retries. The first successful password step returns RequiresOtp without
tokens; only the OTP step yields a session.

Parameters:
  - context: context.Context
  - email: string
  - password: string
  - otp: string (empty on the first step)
  - meta: ClientMeta

Returns:
  - *LoginResult: RequiresOtp or the issued tokens
  - error: apperr.RateLimited plus everything
    [PasswordAuthenticator.Authenticate] returns
*/
func (service *Service) Login(context context.Context, email, password, otp string, meta ClientMeta) (*LoginResult, error) {
	normalizedEmail := validate.NormalizeEmail(email)

	if err := service.hitAttemptLimit(context, normalizedEmail); err != nil {
		return nil, err
	}

	result, err := service.password.Authenticate(context, normalizedEmail, password, otp)
	if err != nil {
		return nil, err
	}

	if result.RequiresOtp {
		return &LoginResult{RequiresOtp: true}, nil
	}

	service.resetAttemptLimit(context, normalizedEmail)

	return service.issueSession(context, result.User, MethodPassword, meta)
}

// # WebAuthn Ceremonies

// BeginWebAuthnRegistration starts a passkey registration ceremony for an
// authenticated user.
func (service *Service) BeginWebAuthnRegistration(context context.Context, userID string) (*protocol.CredentialCreation, error) {
	return service.webauthn.BeginRegistration(context, userID)
}

/*
FinishWebAuthnRegistration completes a passkey registration ceremony.

Description: When the account previously used the password method, a
successful completion IS the method switch: the credential install already
removed the password material transactionally, and this layer adds the
security choreography (revoke every session, notify the user).

Parameters:
  - context: context.Context
  - userID: string
  - response: []byte (raw client attestation JSON)
  - deviceName: string

Returns:
  - *WebAuthnCredential: Installed credential
  - error: Everything [WebAuthnAuthenticator.FinishRegistration] returns
*/
func (service *Service) FinishWebAuthnRegistration(context context.Context, userID string, response []byte, deviceName string) (*WebAuthnCredential, error) {
	user, err := service.users.FindByID(context, userID)
	if err != nil {
		return nil, err
	}
	previousMethod := user.Method

	credential, err := service.webauthn.FinishRegistration(context, userID, response, deviceName)
	if err != nil {
		return nil, err
	}

	if previousMethod != MethodWebAuthn {
		service.afterMethodSwitch(context, user,
			"Your account switched to passkey authentication. All active sessions were signed out.")
	}

	return credential, nil
}

// BeginWebAuthnLogin starts a passkey authentication ceremony.
func (service *Service) BeginWebAuthnLogin(context context.Context, email string) (*protocol.CredentialAssertion, error) {
	normalizedEmail := validate.NormalizeEmail(email)

	if err := service.hitAttemptLimit(context, normalizedEmail); err != nil {
		return nil, err
	}

	return service.webauthn.BeginLogin(context, normalizedEmail)
}

/*
FinishWebAuthnLogin completes a passkey authentication ceremony and mints a
session.

Parameters:
  - context: context.Context
  - email: string
  - response: []byte (raw client assertion JSON)
  - meta: ClientMeta

Returns:
  - *LoginResult: Issued tokens
  - error: apperr.RateLimited plus everything
    [WebAuthnAuthenticator.FinishLogin] returns
*/
func (service *Service) FinishWebAuthnLogin(context context.Context, email string, response []byte, meta ClientMeta) (*LoginResult, error) {
	normalizedEmail := validate.NormalizeEmail(email)

	if err := service.hitAttemptLimit(context, normalizedEmail); err != nil {
		return nil, err
	}

	user, err := service.webauthn.FinishLogin(context, normalizedEmail, response)
	if err != nil {
		return nil, err
	}

	service.resetAttemptLimit(context, normalizedEmail)

	return service.issueSession(context, user, MethodWebAuthn, meta)
}

// # Method Switching

// SwitchMethodInput carries the material for adopting a new authentication
// method.
type SwitchMethodInput struct {
	// Target is the method to adopt.
	Target Method

	// Password is the new password when switching to the password method.
	Password string

	// WebAuthnResponse is the attestation response when switching to the
	// webauthn method. Requires a prior BeginWebAuthnRegistration call.
	WebAuthnResponse []byte

	// DeviceName optionally labels the new passkey.
	DeviceName string
}

/*
SwitchMethod moves the account to the other authentication method.

Description: Switching to the current method is a no-op. Switching to
password installs the new (unverified) credential, which transactionally
removes every passkey, then requires a fresh email verification before the
first login. Switching to webauthn delegates to the registration ceremony.
Either direction revokes all sessions and emails a security notice.

Parameters:
  - context: context.Context
  - userID: string
  - input: SwitchMethodInput

Returns:
  - error: apperr.ValidationError, apperr.WebAuthnChallengeNotFound,
    apperr.WebAuthnFailed, or storage failures
*/
func (service *Service) SwitchMethod(context context.Context, userID string, input SwitchMethodInput) error {
	if !input.Target.Valid() {
		return apperr.ValidationError("Unknown authentication method",
			apperr.FieldError{Field: FieldMethod, Message: "Must be \"password\" or \"webauthn\""})
	}

	user, err := service.users.FindByID(context, userID)
	if err != nil {
		return err
	}

	// Already on the target method: nothing to do.
	if user.Method == input.Target {
		return nil
	}

	switch input.Target {
	case MethodPassword:
		return service.switchToPassword(context, user, input.Password)

	case MethodWebAuthn:
		_, err := service.FinishWebAuthnRegistration(context, userID, input.WebAuthnResponse, input.DeviceName)
		return err
	}

	return nil
}

// switchToPassword installs a fresh password credential, wiping every passkey
// in the same transaction, then runs the post-switch choreography.
func (service *Service) switchToPassword(ctx context.Context, user *User, password string) error {
	validator := &validate.Validator{}
	validator.Required(FieldPassword, password).Password(FieldPassword, password)
	if err := validator.Err(); err != nil {
		return err
	}

	hashedPassword, err := sec.HashPassword(password)
	if err != nil {
		return apperr.Internal(err)
	}

	if err := service.credentials.InstallPassword(ctx, user.ID, hashedPassword); err != nil {
		return err
	}

	// The new credential starts unverified: prove email ownership again
	// before the first password login.
	service.password.sendVerification(ctx, user)

	service.afterMethodSwitch(ctx, user,
		"Your account switched to password authentication. All active sessions were signed out.")

	return nil
}

// afterMethodSwitch revokes every session and emails the notice. Both
// failures are logged rather than rolling back the already-committed switch.
func (service *Service) afterMethodSwitch(ctx context.Context, user *User, notice string) {
	logger := ctxutil.GetLogger(ctx)

	if err := service.sessions.RevokeAll(ctx, user.ID); err != nil {
		logger.Error("method_switch_revoke_failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := service.notifier.SendSecurityNotice(ctx, user.Email, notice); err != nil {
		logger.Error("security_notice_dispatch_failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

// # Session Lifecycle

// Logout revokes the session behind the raw token. Idempotent.
func (service *Service) Logout(context context.Context, rawSessionToken string) error {
	return service.sessions.Revoke(context, rawSessionToken)
}

// RevokeAllSessions signs the user out everywhere.
func (service *Service) RevokeAllSessions(context context.Context, userID string) error {
	return service.sessions.RevokeAll(context, userID)
}

/*
Refresh exchanges a live session token for a fresh access token.

Description: The session itself never extends; refreshing only re-mints the
short-lived JWT until the fixed session expiry arrives.

Parameters:
  - context: context.Context
  - rawSessionToken: string

Returns:
  - *LoginResult: New access token plus the unchanged session expiry
  - error: apperr.SessionInvalid, apperr.SessionExpired, or storage failures
*/
func (service *Service) Refresh(context context.Context, rawSessionToken string) (*LoginResult, error) {
	session, err := service.sessions.Validate(context, rawSessionToken)
	if err != nil {
		return nil, err
	}

	user, err := service.users.FindByID(context, session.UserID)
	if err != nil {
		return nil, apperr.SessionInvalid()
	}

	accessToken, err := service.tokens.GenerateAccessToken(user.ID, session.ID, string(session.Method), AccessTokenTTL)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &LoginResult{
		AccessToken:      accessToken,
		SessionExpiresAt: session.ExpiresAt,
		User:             user,
	}, nil
}

/*
GetSessionUser resolves a raw session token to its user and session.

Parameters:
  - context: context.Context
  - rawSessionToken: string

Returns:
  - *User: Account behind the session
  - *Session: Live session
  - error: apperr.SessionInvalid or apperr.SessionExpired
*/
func (service *Service) GetSessionUser(context context.Context, rawSessionToken string) (*User, *Session, error) {
	session, err := service.sessions.Validate(context, rawSessionToken)
	if err != nil {
		return nil, nil, err
	}

	user, err := service.users.FindByID(context, session.UserID)
	if err != nil {
		return nil, nil, apperr.SessionInvalid()
	}

	return user, session, nil
}

// # Password Lifecycle

// ChangePassword rotates the password of an authenticated user after
// re-verifying the current one. Existing sessions stay valid.
func (service *Service) ChangePassword(context context.Context, userID, currentPassword, newPassword string) error {
	return service.password.ChangePassword(context, userID, currentPassword, newPassword)
}

// RequestPasswordReset starts the forgot-password flow. Always reports
// success (enumeration defense), throttled per identity.
func (service *Service) RequestPasswordReset(context context.Context, email string) error {
	normalizedEmail := validate.NormalizeEmail(email)

	if err := service.hitAttemptLimit(context, normalizedEmail); err != nil {
		return err
	}

	return service.password.RequestPasswordReset(context, normalizedEmail)
}

/*
CompletePasswordReset finishes the forgot-password flow.

Description: The new hash commits together with the token consumption; every
session of the user is then revoked and a security notice dispatched.

Parameters:
  - context: context.Context
  - rawToken: string
  - newPassword: string

Returns:
  - error: apperr.TokenInvalid, apperr.TokenExpired, apperr.ValidationError,
    or storage failures
*/
func (service *Service) CompletePasswordReset(context context.Context, rawToken, newPassword string) error {
	userID, err := service.password.ResetPassword(context, rawToken, newPassword)
	if err != nil {
		return err
	}

	logger := ctxutil.GetLogger(context)

	if err := service.sessions.RevokeAll(context, userID); err != nil {
		logger.Error("reset_revoke_failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	if user, err := service.users.FindByID(context, userID); err == nil {
		if err := service.notifier.SendSecurityNotice(context, user.Email,
			"Your account password was reset. All active sessions were signed out."); err != nil {
			logger.Error("security_notice_dispatch_failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// # Abuse Counter

// hitAttemptLimit records one attempt against the identity scope and rejects
// once the window budget is exhausted. Counter-store outages fail open: an
// unreachable Redis must not take authentication down with it.
func (service *Service) hitAttemptLimit(ctx context.Context, scope string) error {
	key := constants.RedisPrefixAttempts + scope

	count, err := service.limiter.Hit(ctx, key, constants.AuthAttemptWindow)
	if err != nil {
		ctxutil.GetLogger(ctx).Error("attempt_limiter_unavailable",
			slog.String("error", err.Error()),
		)
		return nil
	}

	if count > constants.AuthAttemptLimit {
		return apperr.RateLimited(int(constants.AuthAttemptWindow.Seconds()))
	}

	return nil
}

// resetAttemptLimit clears the identity counter after a full success.
func (service *Service) resetAttemptLimit(ctx context.Context, scope string) {
	key := constants.RedisPrefixAttempts + scope

	if err := service.limiter.Reset(ctx, key); err != nil {
		ctxutil.GetLogger(ctx).Error("attempt_limiter_reset_failed",
			slog.String("error", err.Error()),
		)
	}
}

// issueSession mints the opaque session and its paired access token.
func (service *Service) issueSession(ctx context.Context, user *User, method Method, meta ClientMeta) (*LoginResult, error) {
	session, rawToken, err := service.sessions.Create(ctx, user.ID, method, meta)
	if err != nil {
		return nil, err
	}

	accessToken, err := service.tokens.GenerateAccessToken(user.ID, session.ID, string(method), AccessTokenTTL)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &LoginResult{
		AccessToken:      accessToken,
		SessionToken:     rawToken,
		SessionExpiresAt: session.ExpiresAt,
		User:             user,
	}, nil
}
