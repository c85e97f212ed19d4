// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/phamduyan/veil/internal/platform/apperr"
	"github.com/phamduyan/veil/internal/platform/constants"
	"github.com/phamduyan/veil/internal/users/auth"
)

// In-memory store implementations mirroring the transactional semantics of
// the PostgreSQL layer, so the service-level behavior can be tested without a
// database.

// # Token Store

type memoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*auth.Token
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{tokens: make(map[string]*auth.Token)}
}

func (store *memoryTokenStore) Create(_ context.Context, token *auth.Token) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	// Replace semantics: drop any live token for the same (owner, kind).
	for id, existing := range store.tokens {
		if existing.Kind != token.Kind || existing.UsedAt != nil {
			continue
		}
		if samePointerString(existing.UserID, token.UserID) {
			delete(store.tokens, id)
		}
	}

	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	clone := *token
	store.tokens[token.ID] = &clone
	return nil
}

func (store *memoryTokenStore) FindByHash(_ context.Context, kind auth.TokenKind, valueHash string) (*auth.Token, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, token := range store.tokens {
		if token.Kind == kind && token.ValueHash == valueHash && token.UsedAt == nil {
			clone := *token
			return &clone, nil
		}
	}
	return nil, apperr.TokenInvalid()
}

func (store *memoryTokenStore) FindForUser(_ context.Context, userID string, kind auth.TokenKind) (*auth.Token, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, token := range store.tokens {
		if token.Kind == kind && token.UsedAt == nil && token.UserID != nil && *token.UserID == userID {
			clone := *token
			return &clone, nil
		}
	}
	return nil, apperr.TokenInvalid()
}

func (store *memoryTokenStore) MarkUsed(_ context.Context, tokenID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if !store.consumeLocked(tokenID) {
		return apperr.TokenInvalid()
	}
	return nil
}

func (store *memoryTokenStore) DeleteExpired(_ context.Context) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for id, token := range store.tokens {
		if !token.ExpiresAt.After(time.Now()) {
			delete(store.tokens, id)
		}
	}
	return nil
}

// consume marks a token used, mirroring the conditional UPDATE of the
// PostgreSQL layer. Returns false when already used or expired.
func (store *memoryTokenStore) consume(tokenID string) bool {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.consumeLocked(tokenID)
}

func (store *memoryTokenStore) consumeLocked(tokenID string) bool {
	token, ok := store.tokens[tokenID]
	if !ok || token.UsedAt != nil || !token.ExpiresAt.After(time.Now()) {
		return false
	}
	now := time.Now()
	token.UsedAt = &now
	return true
}

// expire forces a token past its TTL (test hook).
func (store *memoryTokenStore) expire(tokenID string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if token, ok := store.tokens[tokenID]; ok {
		token.ExpiresAt = time.Now().Add(-time.Minute)
	}
}

func samePointerString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// # User Repository

type memoryUserRepo struct {
	mu     sync.Mutex
	users  map[string]*auth.User
	tokens *memoryTokenStore
}

func newMemoryUserRepo(tokens *memoryTokenStore) *memoryUserRepo {
	return &memoryUserRepo{users: make(map[string]*auth.User), tokens: tokens}
}

func (repo *memoryUserRepo) Create(_ context.Context, user *auth.User) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, existing := range repo.users {
		if existing.Email == user.Email && existing.DeletedAt == nil {
			return apperr.UserExists()
		}
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	clone := *user
	repo.users[user.ID] = &clone
	return nil
}

func (repo *memoryUserRepo) FindByID(_ context.Context, id string) (*auth.User, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	user, ok := repo.users[id]
	if !ok || user.DeletedAt != nil {
		return nil, apperr.UserNotFound()
	}
	clone := *user
	return &clone, nil
}

func (repo *memoryUserRepo) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, user := range repo.users {
		if user.Email == email && user.DeletedAt == nil {
			clone := *user
			return &clone, nil
		}
	}
	return nil, apperr.UserNotFound()
}

func (repo *memoryUserRepo) UpdateName(_ context.Context, userID, name string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	user, ok := repo.users[userID]
	if !ok || user.DeletedAt != nil {
		return apperr.UserNotFound()
	}
	user.Name = name
	user.UpdatedAt = time.Now()
	return nil
}

func (repo *memoryUserRepo) ChangeEmail(_ context.Context, userID, newEmail, tokenID string) error {
	if !repo.tokens.consume(tokenID) {
		return apperr.TokenInvalid()
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, existing := range repo.users {
		if existing.Email == newEmail && existing.DeletedAt == nil {
			return apperr.UserExists()
		}
	}

	user, ok := repo.users[userID]
	if !ok || user.DeletedAt != nil {
		return apperr.UserNotFound()
	}
	user.Email = newEmail
	user.UpdatedAt = time.Now()
	return nil
}

func (repo *memoryUserRepo) SoftDelete(_ context.Context, id string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	user, ok := repo.users[id]
	if !ok || user.DeletedAt != nil {
		return apperr.UserNotFound()
	}
	now := time.Now()
	user.DeletedAt = &now
	return nil
}

// setMethod mirrors the method column update done inside credential installs.
func (repo *memoryUserRepo) setMethod(userID string, method auth.Method) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if user, ok := repo.users[userID]; ok {
		user.Method = method
	}
}

// # Credential Store

type memoryCredentialStore struct {
	mu        sync.Mutex
	passwords map[string]*auth.PasswordCredential
	passkeys  []auth.WebAuthnCredential
	users     *memoryUserRepo
	tokens    *memoryTokenStore
}

func newMemoryCredentialStore(users *memoryUserRepo, tokens *memoryTokenStore) *memoryCredentialStore {
	return &memoryCredentialStore{
		passwords: make(map[string]*auth.PasswordCredential),
		users:     users,
		tokens:    tokens,
	}
}

func (store *memoryCredentialStore) GetPassword(_ context.Context, userID string) (*auth.PasswordCredential, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	credential, ok := store.passwords[userID]
	if !ok {
		return nil, apperr.NotFound("Password credential")
	}
	clone := *credential
	return &clone, nil
}

func (store *memoryCredentialStore) ListWebAuthn(_ context.Context, userID string) ([]auth.WebAuthnCredential, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var result []auth.WebAuthnCredential
	for _, credential := range store.passkeys {
		if credential.UserID == userID {
			result = append(result, credential)
		}
	}
	return result, nil
}

func (store *memoryCredentialStore) InstallPassword(ctx context.Context, userID, passwordHash string) error {
	if _, err := store.users.FindByID(ctx, userID); err != nil {
		return err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	// Mutual exclusivity: installing a password wipes every passkey.
	kept := store.passkeys[:0]
	for _, credential := range store.passkeys {
		if credential.UserID != userID {
			kept = append(kept, credential)
		}
	}
	store.passkeys = kept

	now := time.Now()
	store.passwords[userID] = &auth.PasswordCredential{
		UserID:       userID,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	store.users.setMethod(userID, auth.MethodPassword)
	return nil
}

func (store *memoryCredentialStore) InstallWebAuthn(ctx context.Context, credential *auth.WebAuthnCredential, challengeTokenID string) error {
	if _, err := store.users.FindByID(ctx, credential.UserID); err != nil {
		return err
	}
	if !store.tokens.consume(challengeTokenID) {
		return apperr.TokenInvalid()
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	// Mutual exclusivity: installing a passkey wipes the password credential.
	delete(store.passwords, credential.UserID)

	credential.CreatedAt = time.Now()
	store.passkeys = append(store.passkeys, *credential)
	store.users.setMethod(credential.UserID, auth.MethodWebAuthn)
	return nil
}

func (store *memoryCredentialStore) RecordFailedAttempt(_ context.Context, userID string) (int, *time.Time, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	credential, ok := store.passwords[userID]
	if !ok {
		return 0, nil, apperr.NotFound("Password credential")
	}

	credential.FailedAttempts++
	credential.UpdatedAt = time.Now()
	if credential.FailedAttempts >= constants.LockoutThreshold {
		until := time.Now().Add(constants.LockoutDuration)
		credential.LockedUntil = &until
	}
	return credential.FailedAttempts, credential.LockedUntil, nil
}

func (store *memoryCredentialStore) ResetFailedAttempts(_ context.Context, userID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if credential, ok := store.passwords[userID]; ok {
		credential.FailedAttempts = 0
		credential.LockedUntil = nil
		credential.UpdatedAt = time.Now()
	}
	return nil
}

func (store *memoryCredentialStore) MarkEmailVerified(_ context.Context, userID, tokenID string) error {
	if !store.tokens.consume(tokenID) {
		return apperr.TokenInvalid()
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if credential, ok := store.passwords[userID]; ok {
		now := time.Now()
		credential.VerifiedAt = &now
		credential.UpdatedAt = now
	}
	return nil
}

func (store *memoryCredentialStore) UpdatePasswordHash(_ context.Context, userID, newHash, resetTokenID string) error {
	if resetTokenID != "" && !store.tokens.consume(resetTokenID) {
		return apperr.TokenInvalid()
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	credential, ok := store.passwords[userID]
	if !ok {
		return apperr.NotFound("Password credential")
	}
	credential.PasswordHash = newHash
	credential.FailedAttempts = 0
	credential.LockedUntil = nil
	credential.UpdatedAt = time.Now()
	return nil
}

func (store *memoryCredentialStore) RecordAssertion(_ context.Context, credentialID string, credentialBlob []byte, signCount uint32, challengeTokenID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for index := range store.passkeys {
		if store.passkeys[index].CredentialID != credentialID {
			continue
		}
		if signCount <= store.passkeys[index].SignCount {
			return apperr.WebAuthnFailed("Signature counter did not advance")
		}
		if !store.tokens.consume(challengeTokenID) {
			return apperr.TokenInvalid()
		}
		now := time.Now()
		store.passkeys[index].Credential = credentialBlob
		store.passkeys[index].SignCount = signCount
		store.passkeys[index].LastUsedAt = &now
		return nil
	}
	return apperr.WebAuthnFailed("Unknown credential")
}

// forceVerified stamps the password credential verified (test hook).
func (store *memoryCredentialStore) forceVerified(userID string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if credential, ok := store.passwords[userID]; ok {
		now := time.Now()
		credential.VerifiedAt = &now
	}
}

// forceLockExpired rewinds the lockout so it is already over (test hook).
func (store *memoryCredentialStore) forceLockExpired(userID string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if credential, ok := store.passwords[userID]; ok {
		past := time.Now().Add(-time.Minute)
		credential.LockedUntil = &past
	}
}

// # Session Store

type memorySessionStore struct {
	mu       sync.Mutex
	sessions []auth.Session
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{}
}

func (store *memorySessionStore) Create(_ context.Context, session *auth.Session) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	// Oldest-first eviction so the user ends at most at the cap.
	var owned []int
	for index := range store.sessions {
		if store.sessions[index].UserID == session.UserID {
			owned = append(owned, index)
		}
	}
	if len(owned) >= constants.MaxSessionsPerUser {
		sort.Slice(owned, func(a, b int) bool {
			left, right := store.sessions[owned[a]], store.sessions[owned[b]]
			if left.CreatedAt.Equal(right.CreatedAt) {
				return left.ID < right.ID
			}
			return left.CreatedAt.Before(right.CreatedAt)
		})
		evict := make(map[string]bool)
		for _, index := range owned[:len(owned)-constants.MaxSessionsPerUser+1] {
			evict[store.sessions[index].ID] = true
		}
		kept := store.sessions[:0]
		for _, existing := range store.sessions {
			if !evict[existing.ID] {
				kept = append(kept, existing)
			}
		}
		store.sessions = kept
	}

	store.sessions = append(store.sessions, *session)
	return nil
}

func (store *memorySessionStore) FindByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, session := range store.sessions {
		if session.TokenHash == tokenHash {
			clone := session
			return &clone, nil
		}
	}
	return nil, apperr.SessionInvalid()
}

func (store *memorySessionStore) ListForUser(_ context.Context, userID string) ([]auth.Session, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var result []auth.Session
	for _, session := range store.sessions {
		if session.UserID == userID && session.ExpiresAt.After(time.Now()) {
			result = append(result, session)
		}
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].CreatedAt.After(result[b].CreatedAt)
	})
	return result, nil
}

func (store *memorySessionStore) DeleteByID(_ context.Context, sessionID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	kept := store.sessions[:0]
	for _, session := range store.sessions {
		if session.ID != sessionID {
			kept = append(kept, session)
		}
	}
	store.sessions = kept
	return nil
}

func (store *memorySessionStore) DeleteAllForUser(_ context.Context, userID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	kept := store.sessions[:0]
	for _, session := range store.sessions {
		if session.UserID != userID {
			kept = append(kept, session)
		}
	}
	store.sessions = kept
	return nil
}

func (store *memorySessionStore) DeleteExpired(_ context.Context) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	kept := store.sessions[:0]
	for _, session := range store.sessions {
		if session.ExpiresAt.After(time.Now()) {
			kept = append(kept, session)
		}
	}
	store.sessions = kept
	return nil
}

// expire forces a session past its TTL (test hook).
func (store *memorySessionStore) expire(sessionID string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for index := range store.sessions {
		if store.sessions[index].ID == sessionID {
			store.sessions[index].ExpiresAt = time.Now().Add(-time.Minute)
		}
	}
}

func (store *memorySessionStore) count() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.sessions)
}

// # Attempt Limiter

type memoryLimiter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemoryLimiter() *memoryLimiter {
	return &memoryLimiter{counts: make(map[string]int64)}
}

func (limiter *memoryLimiter) Hit(_ context.Context, key string, _ time.Duration) (int64, error) {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	limiter.counts[key]++
	return limiter.counts[key], nil
}

func (limiter *memoryLimiter) Reset(_ context.Context, key string) error {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	delete(limiter.counts, key)
	return nil
}

func (limiter *memoryLimiter) count(key string) int64 {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	return limiter.counts[key]
}

// # Notifier

// recordingNotifier captures the raw out-of-band values so tests can redeem
// them the way an email recipient would.
type recordingNotifier struct {
	mu                sync.Mutex
	verificationToken string
	otpCode           string
	resetToken        string
	notices           []string
}

func (notifier *recordingNotifier) SendVerification(_ context.Context, _, token string) error {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.verificationToken = token
	return nil
}

func (notifier *recordingNotifier) SendLoginOtp(_ context.Context, _, code string) error {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.otpCode = code
	return nil
}

func (notifier *recordingNotifier) SendPasswordReset(_ context.Context, _, token string) error {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.resetToken = token
	return nil
}

func (notifier *recordingNotifier) SendSecurityNotice(_ context.Context, _, notice string) error {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.notices = append(notifier.notices, notice)
	return nil
}

func (notifier *recordingNotifier) lastOtp() string {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	return notifier.otpCode
}

func (notifier *recordingNotifier) lastVerification() string {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	return notifier.verificationToken
}

func (notifier *recordingNotifier) lastReset() string {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	return notifier.resetToken
}
