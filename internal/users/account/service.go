// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package account

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/phamduyan/veil/internal/platform/apperr"
	"github.com/phamduyan/veil/internal/platform/ctxutil"
	"github.com/phamduyan/veil/internal/platform/validate"
	"github.com/phamduyan/veil/internal/users/auth"
)

// # Account Service

// Service implements profile and device management for authenticated users.
type Service struct {
	users    auth.UserRepository
	sessions *auth.SessionManager
	issuer   *auth.Issuer
	notifier auth.Notifier
}

// NewService constructs a new account [Service].
func NewService(
	users auth.UserRepository,
	sessions *auth.SessionManager,
	issuer *auth.Issuer,
	notifier auth.Notifier,
) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		issuer:   issuer,
		notifier: notifier,
	}
}

// SessionInfo is the client-safe projection of a session. The token hash
// never leaves the storage layer.
type SessionInfo struct {
	ID        string    `json:"id"`
	Method    string    `json:"method"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	Current   bool      `json:"current"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// # Profile

// GetProfile returns the account of the user.
func (service *Service) GetProfile(context context.Context, userID string) (*auth.User, error) {
	return service.users.FindByID(context, userID)
}

/*
UpdateName replaces the display name.

Parameters:
  - context: context.Context
  - userID: string
  - name: string

Returns:
  - *auth.User: Updated entity
  - error: apperr.ValidationError, apperr.UserNotFound, or storage failures
*/
func (service *Service) UpdateName(context context.Context, userID, name string) (*auth.User, error) {
	normalized := validate.NormalizeName(name)

	validator := &validate.Validator{}
	validator.Required(auth.FieldName, normalized).MaxLen(auth.FieldName, normalized, 120)
	if err := validator.Err(); err != nil {
		return nil, err
	}

	if err := service.users.UpdateName(context, userID, normalized); err != nil {
		return nil, err
	}

	return service.users.FindByID(context, userID)
}

/*
RequestEmailChange starts a verified email swap.

Description: Issues an EmailVerification token carrying the pending address
and mails it to the NEW address, so the swap only commits once the user
proves they control it. The old address receives a security notice.

Parameters:
  - context: context.Context
  - userID: string
  - newEmail: string

Returns:
  - error: apperr.ValidationError, apperr.UserExists (address taken), or
    storage failures
*/
func (service *Service) RequestEmailChange(context context.Context, userID, newEmail string) error {
	normalized := validate.NormalizeEmail(newEmail)

	validator := &validate.Validator{}
	validator.Required(auth.FieldEmail, normalized).Email(auth.FieldEmail, normalized)
	if err := validator.Err(); err != nil {
		return err
	}

	user, err := service.users.FindByID(context, userID)
	if err != nil {
		return err
	}

	if user.Email == normalized {
		return nil
	}

	// Reject an address that is already taken before mailing anything. The
	// swap itself re-checks under the unique index.
	if _, err := service.users.FindByEmail(context, normalized); err == nil {
		return apperr.UserExists()
	}

	metadata, err := json.Marshal(auth.TokenMetadata{PendingEmail: normalized})
	if err != nil {
		return fmt.Errorf("account_email_change_marshal_failed: %w", err)
	}

	_, rawToken, err := service.issuer.Issue(context, userID,
		auth.TokenEmailVerification, auth.VerificationTokenTTL, metadata)
	if err != nil {
		return fmt.Errorf("account_email_change_issue_failed: %w", err)
	}

	if err := service.notifier.SendVerification(context, normalized, rawToken); err != nil {
		return fmt.Errorf("account_email_change_dispatch_failed: %w", err)
	}

	if err := service.notifier.SendSecurityNotice(context, user.Email,
		"An email address change was requested for your account."); err != nil {
		ctxutil.GetLogger(context).Error("security_notice_dispatch_failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

/*
DeleteAccount soft-deletes the account and signs the user out everywhere.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - error: apperr.UserNotFound or storage failures
*/
func (service *Service) DeleteAccount(context context.Context, userID string) error {
	if err := service.users.SoftDelete(context, userID); err != nil {
		return err
	}

	if err := service.sessions.RevokeAll(context, userID); err != nil {
		return fmt.Errorf("account_delete_revoke_failed: %w", err)
	}

	return nil
}

// # Devices

/*
ListSessions enumerates the user's live sessions.

Parameters:
  - context: context.Context
  - userID: string
  - currentSessionID: string (marks the caller's own session, may be empty)

Returns:
  - []SessionInfo: Newest first
  - error: Storage failures
*/
func (service *Service) ListSessions(context context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	sessions, err := service.sessions.List(context, userID)
	if err != nil {
		return nil, err
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, SessionInfo{
			ID:        session.ID,
			Method:    string(session.Method),
			UserAgent: session.UserAgent,
			IPAddress: session.IPAddress,
			Current:   session.ID == currentSessionID,
			CreatedAt: session.CreatedAt,
			ExpiresAt: session.ExpiresAt,
		})
	}

	return infos, nil
}

// RevokeSession signs out one device, verifying the session belongs to the
// caller.
func (service *Service) RevokeSession(context context.Context, userID, sessionID string) error {
	return service.sessions.RevokeByID(context, userID, sessionID)
}

/*
RevokeOtherSessions signs out every device except the caller's.

Parameters:
  - context: context.Context
  - userID: string
  - currentSessionID: string

Returns:
  - error: Storage failures
*/
func (service *Service) RevokeOtherSessions(context context.Context, userID, currentSessionID string) error {
	sessions, err := service.sessions.List(context, userID)
	if err != nil {
		return err
	}

	for _, session := range sessions {
		if session.ID == currentSessionID {
			continue
		}
		if err := service.sessions.RevokeByID(context, userID, session.ID); err != nil {
			return err
		}
	}

	return nil
}
