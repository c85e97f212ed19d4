// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phamduyan/veil/internal/platform/apperr"
	"github.com/phamduyan/veil/internal/platform/constants"
	"github.com/phamduyan/veil/internal/users/auth"
)

/*
TestSessionManager_CreateAndValidate covers the opaque-token round trip.
*/
func TestSessionManager_CreateAndValidate(t *testing.T) {
	ctx := context.Background()
	manager := auth.NewSessionManager(newMemorySessionStore())

	meta := auth.ClientMeta{UserAgent: "test-agent", IPAddress: "203.0.113.7"}
	session, rawToken, err := manager.Create(ctx, "user-1", auth.MethodPassword, meta)
	require.NoError(t, err)
	require.NotEmpty(t, rawToken)

	// The raw token is never stored.
	assert.NotEqual(t, rawToken, session.TokenHash)
	assert.Equal(t, "test-agent", session.UserAgent)

	// Fixed lifetime.
	expectedExpiry := time.Now().Add(constants.SessionTTL)
	assert.WithinDuration(t, expectedExpiry, session.ExpiresAt, 5*time.Second)

	resolved, err := manager.Validate(ctx, rawToken)
	require.NoError(t, err)
	assert.Equal(t, session.ID, resolved.ID)

	_, err = manager.Validate(ctx, "not-a-token")
	assert.True(t, apperr.IsCode(err, "SESSION_INVALID"))
}

/*
TestSessionManager_ExpiredSession asserts lazy cleanup: validating an expired
session reports expiry once and absence afterwards.
*/
func TestSessionManager_ExpiredSession(t *testing.T) {
	ctx := context.Background()
	store := newMemorySessionStore()
	manager := auth.NewSessionManager(store)

	session, rawToken, err := manager.Create(ctx, "user-1", auth.MethodPassword, auth.ClientMeta{})
	require.NoError(t, err)

	store.expire(session.ID)

	_, err = manager.Validate(ctx, rawToken)
	assert.True(t, apperr.IsCode(err, "SESSION_EXPIRED"))

	// The expired row was deleted as a side effect.
	_, err = manager.Validate(ctx, rawToken)
	assert.True(t, apperr.IsCode(err, "SESSION_INVALID"))
}

/*
TestSessionManager_ConcurrencyCap asserts that the oldest sessions are evicted
when the cap is exceeded: after several logins past the cap, the survivors are
exactly the newest ones.
*/
func TestSessionManager_ConcurrencyCap(t *testing.T) {
	ctx := context.Background()
	store := newMemorySessionStore()
	manager := auth.NewSessionManager(store)

	const total = constants.MaxSessionsPerUser + 3

	tokens := make([]string, 0, total)
	for index := 0; index < total; index++ {
		meta := auth.ClientMeta{UserAgent: fmt.Sprintf("device-%d", index)}
		_, rawToken, err := manager.Create(ctx, "user-1", auth.MethodPassword, meta)
		require.NoError(t, err)
		tokens = append(tokens, rawToken)

		// Distinct creation instants make the eviction order deterministic.
		time.Sleep(2 * time.Millisecond)
	}

	assert.Equal(t, constants.MaxSessionsPerUser, store.count())

	// Every session beyond the newest cap was evicted, oldest first.
	for _, rawToken := range tokens[:total-constants.MaxSessionsPerUser] {
		_, err := manager.Validate(ctx, rawToken)
		assert.True(t, apperr.IsCode(err, "SESSION_INVALID"))
	}

	// The newest cap sessions all survive, including the final login.
	for _, rawToken := range tokens[total-constants.MaxSessionsPerUser:] {
		_, err := manager.Validate(ctx, rawToken)
		assert.NoError(t, err)
	}
}

/*
TestSessionManager_Revoke checks single revocation and its idempotency.
*/
func TestSessionManager_Revoke(t *testing.T) {
	ctx := context.Background()
	manager := auth.NewSessionManager(newMemorySessionStore())

	_, rawToken, err := manager.Create(ctx, "user-1", auth.MethodWebAuthn, auth.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, manager.Revoke(ctx, rawToken))

	_, err = manager.Validate(ctx, rawToken)
	assert.True(t, apperr.IsCode(err, "SESSION_INVALID"))

	// Revoking again, or revoking garbage, succeeds silently.
	assert.NoError(t, manager.Revoke(ctx, rawToken))
	assert.NoError(t, manager.Revoke(ctx, "unknown-token"))
}

/*
TestSessionManager_RevokeAll checks the security nuke used on method switches
and password resets.
*/
func TestSessionManager_RevokeAll(t *testing.T) {
	ctx := context.Background()
	manager := auth.NewSessionManager(newMemorySessionStore())

	_, firstToken, err := manager.Create(ctx, "user-1", auth.MethodPassword, auth.ClientMeta{})
	require.NoError(t, err)
	_, secondToken, err := manager.Create(ctx, "user-1", auth.MethodPassword, auth.ClientMeta{})
	require.NoError(t, err)
	_, otherToken, err := manager.Create(ctx, "user-2", auth.MethodPassword, auth.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, manager.RevokeAll(ctx, "user-1"))

	_, err = manager.Validate(ctx, firstToken)
	assert.True(t, apperr.IsCode(err, "SESSION_INVALID"))
	_, err = manager.Validate(ctx, secondToken)
	assert.True(t, apperr.IsCode(err, "SESSION_INVALID"))

	// Other users are untouched.
	_, err = manager.Validate(ctx, otherToken)
	assert.NoError(t, err)
}

/*
TestSessionManager_RevokeByID verifies the ownership check guarding
device-level revocation.
*/
func TestSessionManager_RevokeByID(t *testing.T) {
	ctx := context.Background()
	manager := auth.NewSessionManager(newMemorySessionStore())

	session, rawToken, err := manager.Create(ctx, "user-1", auth.MethodPassword, auth.ClientMeta{})
	require.NoError(t, err)

	// Another user cannot revoke it.
	err = manager.RevokeByID(ctx, "user-2", session.ID)
	assert.True(t, apperr.IsCode(err, "SESSION_INVALID"))
	_, err = manager.Validate(ctx, rawToken)
	require.NoError(t, err)

	// The owner can.
	require.NoError(t, manager.RevokeByID(ctx, "user-1", session.ID))
	_, err = manager.Validate(ctx, rawToken)
	assert.True(t, apperr.IsCode(err, "SESSION_INVALID"))
}
