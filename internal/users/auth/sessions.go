// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/phamduyan/veil/internal/platform/apperr"
	"github.com/phamduyan/veil/internal/platform/constants"
	"github.com/phamduyan/veil/internal/platform/sec"
	"github.com/phamduyan/veil/pkg/uuid"
)

// # Session Manager

// SessionManager issues, validates, and revokes opaque session tokens.
//
// # Policy
//
// Every session lives exactly [constants.SessionTTL] (24h) regardless of the
// authentication method, and never extends. A user holds at most
// [constants.MaxSessionsPerUser] concurrent sessions; the store evicts the
// oldest on overflow.
type SessionManager struct {
	sessions SessionStore
}

// NewSessionManager constructs a new [SessionManager].
func NewSessionManager(sessions SessionStore) *SessionManager {
	return &SessionManager{sessions: sessions}
}

/*
Create mints a fresh fixed-duration session for the user.

Parameters:
  - context: context.Context
  - userID: string
  - method: Method (auth method that established the session)
  - meta: ClientMeta (optional request metadata)

Returns:
  - *Session: Persisted session
  - string: Raw opaque token, returned to the client exactly once
  - error: Generation or persistence failures
*/
func (manager *SessionManager) Create(context context.Context, userID string, method Method, meta ClientMeta) (*Session, string, error) {
	rawToken, err := sec.GenerateSecureToken(SessionTokenLength)
	if err != nil {
		return nil, "", fmt.Errorf("session_manager_token_generation_failed: %w", err)
	}

	session := &Session{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: sec.HashToken(rawToken),
		Method:    method,
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		ExpiresAt: time.Now().Add(constants.SessionTTL),
	}

	if err := manager.sessions.Create(context, session); err != nil {
		return nil, "", fmt.Errorf("session_manager_create_failed: %w", err)
	}

	return session, rawToken, nil
}

/*
Validate resolves a raw session token to its live session.

Description: An expired session is treated as absent and deleted as a side
effect (lazy cleanup). Deleting an already-deleted row races harmlessly with
the periodic purge job.

Parameters:
  - context: context.Context
  - rawToken: string

Returns:
  - *Session: Live session
  - error: apperr.SessionInvalid or apperr.SessionExpired
*/
func (manager *SessionManager) Validate(context context.Context, rawToken string) (*Session, error) {
	session, err := manager.sessions.FindByTokenHash(context, sec.HashToken(rawToken))
	if err != nil {
		return nil, err
	}

	if session.Expired(time.Now()) {
		_ = manager.sessions.DeleteByID(context, session.ID)
		return nil, apperr.SessionExpired()
	}

	return session, nil
}

/*
Revoke deletes the session behind a raw token. Idempotent: revoking an
unknown or already-revoked token succeeds silently.

Parameters:
  - context: context.Context
  - rawToken: string

Returns:
  - error: Storage failures only
*/
func (manager *SessionManager) Revoke(context context.Context, rawToken string) error {
	session, err := manager.sessions.FindByTokenHash(context, sec.HashToken(rawToken))
	if err != nil {
		if apperr.IsCode(err, "SESSION_INVALID") {
			return nil
		}
		return err
	}

	if err := manager.sessions.DeleteByID(context, session.ID); err != nil {
		return fmt.Errorf("session_manager_revoke_failed: %w", err)
	}

	return nil
}

/*
List returns the user's live sessions, newest first.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - []Session: At most [constants.MaxSessionsPerUser] entries
  - error: Storage failures
*/
func (manager *SessionManager) List(context context.Context, userID string) ([]Session, error) {
	sessions, err := manager.sessions.ListForUser(context, userID)
	if err != nil {
		return nil, fmt.Errorf("session_manager_list_failed: %w", err)
	}
	return sessions, nil
}

/*
RevokeByID deletes one session of the user, verifying ownership first.

Parameters:
  - context: context.Context
  - userID: string
  - sessionID: string

Returns:
  - error: apperr.SessionInvalid when the session does not exist or belongs to
    another user, otherwise storage failures
*/
func (manager *SessionManager) RevokeByID(context context.Context, userID, sessionID string) error {
	sessions, err := manager.sessions.ListForUser(context, userID)
	if err != nil {
		return fmt.Errorf("session_manager_revoke_by_id_failed: %w", err)
	}

	for _, session := range sessions {
		if session.ID == sessionID {
			return manager.sessions.DeleteByID(context, sessionID)
		}
	}

	return apperr.SessionInvalid()
}

/*
RevokeAll deletes every session of the user.

Description: Used on security-sensitive events (method switch, password
reset) to force re-authentication everywhere.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - error: Storage failures
*/
func (manager *SessionManager) RevokeAll(context context.Context, userID string) error {
	if err := manager.sessions.DeleteAllForUser(context, userID); err != nil {
		return fmt.Errorf("session_manager_revoke_all_failed: %w", err)
	}
	return nil
}
