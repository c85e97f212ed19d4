// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/phamduyan/veil/internal/platform/apperr"
	"github.com/phamduyan/veil/internal/platform/ctxutil"
	"github.com/phamduyan/veil/internal/platform/sec"
	"github.com/phamduyan/veil/internal/platform/validate"
	"github.com/phamduyan/veil/pkg/uuid"
)

// # Password Authenticator

// PasswordAuthenticator drives the password+OTP authentication method.
//
// # Login State Machine
//
// Each attempt moves Start → PasswordChecked → {OtpRequired | Authenticated |
// Rejected}. Login is strictly a two-step protocol: a correct password
// without an OTP never yields a session, only an emailed code.
type PasswordAuthenticator struct {
	users       UserRepository
	credentials CredentialStore
	issuer      *Issuer
	notifier    Notifier
}

// NewPasswordAuthenticator constructs a new [PasswordAuthenticator].
func NewPasswordAuthenticator(
	users UserRepository,
	credentials CredentialStore,
	issuer *Issuer,
	notifier Notifier,
) *PasswordAuthenticator {
	return &PasswordAuthenticator{
		users:       users,
		credentials: credentials,
		issuer:      issuer,
		notifier:    notifier,
	}
}

// TokenMetadata is the kind-specific payload carried by some tokens.
type TokenMetadata struct {
	// PendingEmail holds the new address of a verified-email change flow.
	PendingEmail string `json:"pending_email,omitempty"`
}

// # Registration

// RegisterInput holds the data required to enroll a new member.
type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

/*
Register validates, hashes, and persists a brand new password-method user.

Description: Creates the User, installs the PasswordCredential (unverified),
issues an EmailVerification token, and dispatches the verification email.
Email dispatch failures are recoverable: the user stays registered and may
request a resend.

Parameters:
  - context: context.Context
  - input: RegisterInput

Returns:
  - *User: Created entity
  - error: apperr.ValidationError, apperr.UserExists, or storage failures
*/
func (authenticator *PasswordAuthenticator) Register(context context.Context, input RegisterInput) (*User, error) {
	email := validate.NormalizeEmail(input.Email)
	name := validate.NormalizeName(input.Name)

	validator := &validate.Validator{}
	validator.Required(FieldEmail, email).
		Email(FieldEmail, email).
		Required(FieldName, name).
		MaxLen(FieldName, name, 120).
		Required(FieldPassword, input.Password).
		Password(FieldPassword, input.Password)

	if err := validator.Err(); err != nil {
		return nil, err
	}

	// Prevent storing plain-text passwords. Cost 12 balances security and
	// CPU utilization during registration spikes.
	hashedPassword, err := sec.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("password_auth_hash_failed: %w", err)
	}

	// Time-sortable ID to prevent PG index fragmentation.
	user := &User{
		ID:     uuid.New(),
		Email:  email,
		Name:   name,
		Method: MethodPassword,
	}

	if err := authenticator.users.Create(context, user); err != nil {
		return nil, err
	}

	if err := authenticator.credentials.InstallPassword(context, user.ID, hashedPassword); err != nil {
		return nil, fmt.Errorf("password_auth_install_failed: %w", err)
	}

	authenticator.sendVerification(context, user)

	return user, nil
}

// sendVerification issues a fresh EmailVerification token and dispatches it.
// Failures are logged, never fatal.
func (authenticator *PasswordAuthenticator) sendVerification(ctx context.Context, user *User) {
	logger := ctxutil.GetLogger(ctx)

	_, rawToken, err := authenticator.issuer.Issue(ctx, user.ID, TokenEmailVerification, VerificationTokenTTL, nil)
	if err != nil {
		logger.Error("verification_token_issue_failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := authenticator.notifier.SendVerification(ctx, user.Email, rawToken); err != nil {
		logger.Error("verification_email_dispatch_failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

// # Authentication

// PasswordResult is the outcome of a password-method authentication attempt.
type PasswordResult struct {
	// RequiresOtp is true when the password was correct and a login code has
	// been emailed; the caller must repeat the call with the code.
	RequiresOtp bool
	// User is non-nil only when the attempt fully authenticated.
	User *User
}

/*
Authenticate runs the two-step password+OTP login state machine.

Description: Checks, in order — user existence, method match, credential
presence, email verification, lockout, password correctness, then the OTP
step. A wrong password increments the failure counter atomically; a fully
successful attempt resets it.

Parameters:
  - context: context.Context
  - email: string
  - password: string
  - otp: string (empty on the first step)

Returns:
  - *PasswordResult: RequiresOtp or the authenticated user
  - error: apperr.InvalidCredentials, apperr.AuthMethodMismatch,
    apperr.EmailNotVerified, apperr.AccountLocked, apperr.OtpInvalid,
    apperr.OtpExpired, or storage failures
*/
func (authenticator *PasswordAuthenticator) Authenticate(context context.Context, email, password, otp string) (*PasswordResult, error) {

	// Unknown email collapses into InvalidCredentials to prevent enumeration.
	user, err := authenticator.users.FindByEmail(context, validate.NormalizeEmail(email))
	if err != nil {
		return nil, apperr.InvalidCredentials()
	}

	if user.Method != MethodPassword {
		return nil, apperr.AuthMethodMismatch("Account does not use password authentication")
	}

	credential, err := authenticator.credentials.GetPassword(context, user.ID)
	if err != nil {
		return nil, apperr.InvalidCredentials()
	}

	if !credential.Verified() {
		return nil, apperr.EmailNotVerified()
	}

	if remaining := credential.LockedFor(time.Now()); remaining > 0 {
		return nil, apperr.AccountLocked(remaining)
	}

	// Constant-time comparison inside bcrypt prevents timing attacks.
	if !sec.CheckPasswordHash(password, credential.PasswordHash) {
		authenticator.recordFailure(context, user.ID)
		return nil, apperr.InvalidCredentials()
	}

	// Step one of the two-step protocol: correct password, no code yet.
	if otp == "" {
		if err := authenticator.issueOtp(context, user); err != nil {
			return nil, err
		}
		return &PasswordResult{RequiresOtp: true}, nil
	}

	// Step two: consume the emailed code. Consumption is immediate so the
	// code can never be replayed.
	if err := authenticator.issuer.ConsumeOtp(context, user.ID, otp); err != nil {
		return nil, err
	}

	if err := authenticator.credentials.ResetFailedAttempts(context, user.ID); err != nil {
		return nil, fmt.Errorf("password_auth_reset_attempts_failed: %w", err)
	}

	return &PasswordResult{User: user}, nil
}

// recordFailure increments the lockout counter; counter errors are logged
// rather than masking the InvalidCredentials outcome.
func (authenticator *PasswordAuthenticator) recordFailure(ctx context.Context, userID string) {
	attempts, lockedUntil, err := authenticator.credentials.RecordFailedAttempt(ctx, userID)
	if err != nil {
		ctxutil.GetLogger(ctx).Error("failed_attempt_record_failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	if lockedUntil != nil {
		ctxutil.GetLogger(ctx).Warn("account_locked",
			slog.String("user_id", userID),
			slog.Int("attempts", attempts),
			slog.Time("locked_until", *lockedUntil),
		)
	}
}

// issueOtp issues and emails a fresh login code.
func (authenticator *PasswordAuthenticator) issueOtp(ctx context.Context, user *User) error {
	_, code, err := authenticator.issuer.Issue(ctx, user.ID, TokenLoginOtp, OtpTTL, nil)
	if err != nil {
		return fmt.Errorf("password_auth_otp_issue_failed: %w", err)
	}

	// The user cannot proceed without the code, but dispatch failure still
	// must not fail the password check itself.
	if err := authenticator.notifier.SendLoginOtp(ctx, user.Email, code); err != nil {
		ctxutil.GetLogger(ctx).Error("otp_email_dispatch_failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// # Password Lifecycle

/*
ChangePassword rotates the password of an authenticated user.

Description: Requires current-password re-verification, re-runs the strength
policy, re-hashes, and clears lockout state.

Parameters:
  - context: context.Context
  - userID: string
  - currentPassword: string
  - newPassword: string

Returns:
  - error: apperr.InvalidCredentials, apperr.ValidationError, or storage failures
*/
func (authenticator *PasswordAuthenticator) ChangePassword(context context.Context, userID, currentPassword, newPassword string) error {
	user, err := authenticator.users.FindByID(context, userID)
	if err != nil {
		return err
	}

	if user.Method != MethodPassword {
		return apperr.AuthMethodMismatch("Account does not use password authentication")
	}

	credential, err := authenticator.credentials.GetPassword(context, userID)
	if err != nil {
		return err
	}

	if !sec.CheckPasswordHash(currentPassword, credential.PasswordHash) {
		return apperr.InvalidCredentials()
	}

	validator := &validate.Validator{}
	validator.Required(FieldNewPassword, newPassword).Password(FieldNewPassword, newPassword)
	if err := validator.Err(); err != nil {
		return err
	}

	hashedPassword, err := sec.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("password_auth_change_hash_failed: %w", err)
	}

	if err := authenticator.credentials.UpdatePasswordHash(context, userID, hashedPassword, ""); err != nil {
		return err
	}

	if err := authenticator.notifier.SendSecurityNotice(context, user.Email,
		"Your account password was changed."); err != nil {
		ctxutil.GetLogger(context).Error("security_notice_dispatch_failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

/*
RequestPasswordReset initiates the forgot-password flow.

Description: Always reports success to the caller, regardless of whether the
email is registered (enumeration defense). A reset token is issued and
emailed only when a matching password-method account exists.

Parameters:
  - context: context.Context
  - email: string

Returns:
  - error: Storage failures only
*/
func (authenticator *PasswordAuthenticator) RequestPasswordReset(context context.Context, email string) error {
	user, err := authenticator.users.FindByEmail(context, validate.NormalizeEmail(email))
	if err != nil {
		return nil // Silent success: never reveal whether the email exists.
	}

	if user.Method != MethodPassword {
		return nil
	}

	_, rawToken, err := authenticator.issuer.Issue(context, user.ID, TokenPasswordReset, ResetTokenTTL, nil)
	if err != nil {
		return fmt.Errorf("password_auth_reset_issue_failed: %w", err)
	}

	if err := authenticator.notifier.SendPasswordReset(context, user.Email, rawToken); err != nil {
		ctxutil.GetLogger(context).Error("reset_email_dispatch_failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

/*
ResetPassword completes the forgot-password flow.

Description: Resolves the live reset token, re-runs the strength policy, and
commits the new hash together with the token consumption in one transaction.

Parameters:
  - context: context.Context
  - rawToken: string
  - newPassword: string

Returns:
  - string: ID of the user whose password changed (for session revocation)
  - error: apperr.TokenInvalid, apperr.TokenExpired, apperr.ValidationError,
    or storage failures
*/
func (authenticator *PasswordAuthenticator) ResetPassword(context context.Context, rawToken, newPassword string) (string, error) {
	token, err := authenticator.issuer.Lookup(context, TokenPasswordReset, rawToken)
	if err != nil {
		return "", err
	}
	if token.UserID == nil {
		return "", apperr.TokenInvalid()
	}

	validator := &validate.Validator{}
	validator.Required(FieldPassword, newPassword).Password(FieldPassword, newPassword)
	if err := validator.Err(); err != nil {
		return "", err
	}

	hashedPassword, err := sec.HashPassword(newPassword)
	if err != nil {
		return "", fmt.Errorf("password_auth_reset_hash_failed: %w", err)
	}

	if err := authenticator.credentials.UpdatePasswordHash(context, *token.UserID, hashedPassword, token.ID); err != nil {
		return "", err
	}

	return *token.UserID, nil
}

// # Email Verification

/*
ResendVerification re-issues the verification email.

Description: Always reports success (enumeration defense). A new token is
issued only for an existing, still-unverified password-method account;
issuing invalidates the previous token.

Parameters:
  - context: context.Context
  - email: string

Returns:
  - error: Storage failures only
*/
func (authenticator *PasswordAuthenticator) ResendVerification(context context.Context, email string) error {
	user, err := authenticator.users.FindByEmail(context, validate.NormalizeEmail(email))
	if err != nil {
		return nil
	}

	if user.Method != MethodPassword {
		return nil
	}

	credential, err := authenticator.credentials.GetPassword(context, user.ID)
	if err != nil || credential.Verified() {
		return nil
	}

	authenticator.sendVerification(context, user)
	return nil
}

/*
VerifyEmail confirms email ownership using a verification token.

Description: The verification stamp (or, for email-change tokens, the address
swap) commits in the same transaction as the token consumption, so the flow
is both replay-safe and crash-safe.

Parameters:
  - context: context.Context
  - rawToken: string

Returns:
  - error: apperr.TokenInvalid, apperr.TokenExpired, or storage failures
*/
func (authenticator *PasswordAuthenticator) VerifyEmail(context context.Context, rawToken string) error {
	token, err := authenticator.issuer.Lookup(context, TokenEmailVerification, rawToken)
	if err != nil {
		return err
	}
	if token.UserID == nil {
		return apperr.TokenInvalid()
	}

	// Email-change tokens carry the pending address in metadata.
	if len(token.Metadata) > 0 {
		var metadata TokenMetadata
		if err := json.Unmarshal(token.Metadata, &metadata); err == nil && metadata.PendingEmail != "" {
			return authenticator.users.ChangeEmail(context, *token.UserID, metadata.PendingEmail, token.ID)
		}
	}

	return authenticator.credentials.MarkEmailVerified(context, *token.UserID, token.ID)
}
