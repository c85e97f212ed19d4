// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/phamduyan/veil/internal/platform/apperr"
	"github.com/phamduyan/veil/internal/platform/constants"
	"github.com/phamduyan/veil/pkg/uuid"
)

// # Credential Store

// PostgresCredentialStore implements the CredentialStore interface using pgx.
//
// # Mutual Exclusivity
//
// The install operations enforce the one-active-method invariant as explicit
// transactional statements at the application layer, never as database
// triggers. Every transaction that touches the invariant also updates the
// account's method column, so readers always observe a consistent pair.
type PostgresCredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore creates a new PostgreSQL implementation of the CredentialStore.
func NewCredentialStore(pool *pgxpool.Pool) *PostgresCredentialStore {
	return &PostgresCredentialStore{pool: pool}
}

/*
GetPassword retrieves the password credential of a user.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - *PasswordCredential: Hydrated entity
  - error: apperr.NotFound or execution errors
*/
func (store *PostgresCredentialStore) GetPassword(context context.Context, userID string) (*PasswordCredential, error) {
	const query = `
		SELECT userid, passwordhash, verifiedat, failedattempts, lockeduntil, createdat, updatedat
		FROM users.password_credential
		WHERE userid = $1`

	credential := &PasswordCredential{}
	err := store.pool.QueryRow(context, query, userID).Scan(
		&credential.UserID,
		&credential.PasswordHash,
		&credential.VerifiedAt,
		&credential.FailedAttempts,
		&credential.LockedUntil,
		&credential.CreatedAt,
		&credential.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Password credential")
		}
		return nil, fmt.Errorf("postgres_credential_store_get_password_failed: %w", err)
	}

	return credential, nil
}

/*
ListWebAuthn retrieves every passkey credential of a user, oldest first.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - []WebAuthnCredential: May be empty
  - error: Execution errors
*/
func (store *PostgresCredentialStore) ListWebAuthn(context context.Context, userID string) ([]WebAuthnCredential, error) {
	const query = `
		SELECT id, userid, credentialid, credential, signcount, devicename, lastusedat, createdat
		FROM users.webauthn_credential
		WHERE userid = $1
		ORDER BY createdat ASC`

	rows, err := store.pool.Query(context, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_credential_store_list_webauthn_failed: %w", err)
	}
	defer rows.Close()

	var credentials []WebAuthnCredential
	for rows.Next() {
		var credential WebAuthnCredential
		if err := rows.Scan(
			&credential.ID,
			&credential.UserID,
			&credential.CredentialID,
			&credential.Credential,
			&credential.SignCount,
			&credential.DeviceName,
			&credential.LastUsedAt,
			&credential.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres_credential_store_scan_webauthn_failed: %w", err)
		}
		credentials = append(credentials, credential)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_credential_store_rows_webauthn_failed: %w", err)
	}

	return credentials, nil
}

/*
InstallPassword installs a password credential with mutual exclusivity.

Description: Within one transaction — verifies the user exists and is not
soft-deleted, deletes every WebAuthn credential, upserts the password
credential (unverified, counters zeroed), and sets the account method to
password.

Parameters:
  - context: context.Context
  - userID: string
  - passwordHash: string

Returns:
  - error: apperr.UserNotFound or execution errors
*/
func (store *PostgresCredentialStore) InstallPassword(context context.Context, userID, passwordHash string) error {
	transaction, err := store.pool.Begin(context)
	if err != nil {
		return fmt.Errorf("postgres_credential_store_install_password_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(context) }()

	if err := lockAccount(context, transaction, userID); err != nil {
		return err
	}

	// Exclusivity cleanup: remove every credential of the other kind.
	if _, err := transaction.Exec(context,
		"DELETE FROM users.webauthn_credential WHERE userid = $1", userID); err != nil {
		return fmt.Errorf("postgres_credential_store_install_password_cleanup_failed: %w", err)
	}

	const upsertQuery = `
		INSERT INTO users.password_credential (
			userid, passwordhash, verifiedat, failedattempts, lockeduntil, createdat, updatedat
		) VALUES ($1, $2, NULL, 0, NULL, $3, $3)
		ON CONFLICT (userid) DO UPDATE SET
			passwordhash = EXCLUDED.passwordhash,
			verifiedat = NULL,
			failedattempts = 0,
			lockeduntil = NULL,
			updatedat = EXCLUDED.updatedat`

	if _, err := transaction.Exec(context, upsertQuery, userID, passwordHash, time.Now()); err != nil {
		return fmt.Errorf("postgres_credential_store_install_password_upsert_failed: %w", err)
	}

	if err := setAccountMethod(context, transaction, userID, MethodPassword); err != nil {
		return err
	}

	if err := transaction.Commit(context); err != nil {
		return fmt.Errorf("postgres_credential_store_install_password_commit_failed: %w", err)
	}

	return nil
}

/*
InstallWebAuthn installs a passkey credential with mutual exclusivity.

Description: Within one transaction — verifies the user, deletes the password
credential, inserts the new passkey, sets the account method to webauthn, and
consumes the ceremony challenge with an atomic check-and-mark.

Parameters:
  - context: context.Context
  - credential: *WebAuthnCredential
  - challengeTokenID: string

Returns:
  - error: apperr.UserNotFound, apperr.TokenInvalid, or execution errors
*/
func (store *PostgresCredentialStore) InstallWebAuthn(context context.Context, credential *WebAuthnCredential, challengeTokenID string) error {
	transaction, err := store.pool.Begin(context)
	if err != nil {
		return fmt.Errorf("postgres_credential_store_install_webauthn_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(context) }()

	if err := lockAccount(context, transaction, credential.UserID); err != nil {
		return err
	}

	if err := consumeToken(context, transaction, challengeTokenID); err != nil {
		return err
	}

	// Exclusivity cleanup: remove every credential of the other kind.
	if _, err := transaction.Exec(context,
		"DELETE FROM users.password_credential WHERE userid = $1", credential.UserID); err != nil {
		return fmt.Errorf("postgres_credential_store_install_webauthn_cleanup_failed: %w", err)
	}

	if credential.ID == "" {
		credential.ID = uuid.New()
	}
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = time.Now()
	}

	const insertQuery = `
		INSERT INTO users.webauthn_credential (
			id, userid, credentialid, credential, signcount, devicename, lastusedat, createdat
		) VALUES ($1, $2, $3, $4, $5, $6, NULL, $7)`

	if _, err := transaction.Exec(context, insertQuery,
		credential.ID,
		credential.UserID,
		credential.CredentialID,
		credential.Credential,
		credential.SignCount,
		credential.DeviceName,
		credential.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres_credential_store_install_webauthn_insert_failed: %w", err)
	}

	if err := setAccountMethod(context, transaction, credential.UserID, MethodWebAuthn); err != nil {
		return err
	}

	if err := transaction.Commit(context); err != nil {
		return fmt.Errorf("postgres_credential_store_install_webauthn_commit_failed: %w", err)
	}

	return nil
}

/*
RecordFailedAttempt increments the failure counter atomically.

Description: A single UPDATE computes the new counter and the lockout expiry
server-side, so two concurrent wrong-password requests can never both read a
stale counter.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - int: Counter value after the increment
  - *time.Time: Lockout expiry if the threshold was reached
  - error: Execution errors
*/
func (store *PostgresCredentialStore) RecordFailedAttempt(context context.Context, userID string) (int, *time.Time, error) {
	const query = `
		UPDATE users.password_credential
		SET failedattempts = failedattempts + 1,
			lockeduntil = CASE
				WHEN failedattempts + 1 >= $2 THEN NOW() + $3::interval
				ELSE lockeduntil
			END,
			updatedat = NOW()
		WHERE userid = $1
		RETURNING failedattempts, lockeduntil`

	var attempts int
	var lockedUntil *time.Time
	err := store.pool.QueryRow(context, query,
		userID,
		constants.LockoutThreshold,
		constants.LockoutDuration.String(),
	).Scan(&attempts, &lockedUntil)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, apperr.NotFound("Password credential")
		}
		return 0, nil, fmt.Errorf("postgres_credential_store_record_failed_attempt_failed: %w", err)
	}

	return attempts, lockedUntil, nil
}

/*
ResetFailedAttempts clears lockout state after a successful authentication.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - error: Execution errors
*/
func (store *PostgresCredentialStore) ResetFailedAttempts(context context.Context, userID string) error {
	const query = `
		UPDATE users.password_credential
		SET failedattempts = 0, lockeduntil = NULL, updatedat = NOW()
		WHERE userid = $1`

	if _, err := store.pool.Exec(context, query, userID); err != nil {
		return fmt.Errorf("postgres_credential_store_reset_attempts_failed: %w", err)
	}

	return nil
}

/*
MarkEmailVerified stamps the credential as verified and consumes the token.

Description: Both writes commit in one transaction; a crash before commit
leaves the token live for a safe retry, a replay after commit fails the
conditional token update.

Parameters:
  - context: context.Context
  - userID: string
  - tokenID: string

Returns:
  - error: apperr.TokenInvalid or execution errors
*/
func (store *PostgresCredentialStore) MarkEmailVerified(context context.Context, userID, tokenID string) error {
	transaction, err := store.pool.Begin(context)
	if err != nil {
		return fmt.Errorf("postgres_credential_store_verify_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(context) }()

	if err := consumeToken(context, transaction, tokenID); err != nil {
		return err
	}

	const updateQuery = `
		UPDATE users.password_credential
		SET verifiedat = NOW(), updatedat = NOW()
		WHERE userid = $1`

	commandTag, err := transaction.Exec(context, updateQuery, userID)
	if err != nil {
		return fmt.Errorf("postgres_credential_store_verify_update_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.NotFound("Password credential")
	}

	if err := transaction.Commit(context); err != nil {
		return fmt.Errorf("postgres_credential_store_verify_commit_failed: %w", err)
	}

	return nil
}

/*
UpdatePasswordHash replaces the password hash and clears lockout state.

Description: When resetTokenID is non-empty the reset token is consumed in the
same transaction, so the token and the new hash commit or fail together.

Parameters:
  - context: context.Context
  - userID: string
  - newHash: string
  - resetTokenID: string (empty for authenticated changes)

Returns:
  - error: apperr.TokenInvalid or execution errors
*/
func (store *PostgresCredentialStore) UpdatePasswordHash(context context.Context, userID, newHash, resetTokenID string) error {
	transaction, err := store.pool.Begin(context)
	if err != nil {
		return fmt.Errorf("postgres_credential_store_update_hash_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(context) }()

	if resetTokenID != "" {
		if err := consumeToken(context, transaction, resetTokenID); err != nil {
			return err
		}
	}

	const updateQuery = `
		UPDATE users.password_credential
		SET passwordhash = $2, failedattempts = 0, lockeduntil = NULL, updatedat = NOW()
		WHERE userid = $1`

	commandTag, err := transaction.Exec(context, updateQuery, userID, newHash)
	if err != nil {
		return fmt.Errorf("postgres_credential_store_update_hash_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.NotFound("Password credential")
	}

	if err := transaction.Commit(context); err != nil {
		return fmt.Errorf("postgres_credential_store_update_hash_commit_failed: %w", err)
	}

	return nil
}

/*
RecordAssertion persists post-assertion credential state atomically.

Description: The counter update and the challenge consumption commit together.
The counter predicate (signcount < $3) re-checks monotonicity inside the
transaction, closing the race between two concurrent assertions that both
passed the in-memory check.

Parameters:
  - context: context.Context
  - credentialID: string
  - credentialBlob: []byte
  - signCount: uint32
  - challengeTokenID: string

Returns:
  - error: apperr.TokenInvalid, apperr.WebAuthnFailed, or execution errors
*/
func (store *PostgresCredentialStore) RecordAssertion(context context.Context, credentialID string, credentialBlob []byte, signCount uint32, challengeTokenID string) error {
	transaction, err := store.pool.Begin(context)
	if err != nil {
		return fmt.Errorf("postgres_credential_store_assertion_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(context) }()

	if err := consumeToken(context, transaction, challengeTokenID); err != nil {
		return err
	}

	const updateQuery = `
		UPDATE users.webauthn_credential
		SET credential = $2, signcount = $3, lastusedat = NOW()
		WHERE credentialid = $1 AND signcount < $3`

	commandTag, err := transaction.Exec(context, updateQuery, credentialID, credentialBlob, signCount)
	if err != nil {
		return fmt.Errorf("postgres_credential_store_assertion_update_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.WebAuthnFailed("Signature counter did not advance")
	}

	if err := transaction.Commit(context); err != nil {
		return fmt.Errorf("postgres_credential_store_assertion_commit_failed: %w", err)
	}

	return nil
}

// # Transaction Helpers

// lockAccount verifies the user exists and is not soft-deleted, taking a row
// lock so concurrent installs serialize.
func lockAccount(ctx context.Context, transaction pgx.Tx, userID string) error {
	const query = "SELECT id FROM users.account WHERE id = $1 AND deletedat IS NULL FOR UPDATE"

	var id string
	if err := transaction.QueryRow(ctx, query, userID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.UserNotFound()
		}
		return fmt.Errorf("postgres_credential_store_lock_account_failed: %w", err)
	}

	return nil
}

// setAccountMethod updates the account's active-method column inside a transaction.
func setAccountMethod(ctx context.Context, transaction pgx.Tx, userID string, method Method) error {
	const query = "UPDATE users.account SET method = $2, updatedat = NOW() WHERE id = $1"

	if _, err := transaction.Exec(ctx, query, userID, method); err != nil {
		return fmt.Errorf("postgres_credential_store_set_method_failed: %w", err)
	}

	return nil
}

// consumeToken performs the atomic check-and-mark of a single-use token
// inside a transaction. Zero affected rows means the token was already used
// or has expired.
func consumeToken(ctx context.Context, transaction pgx.Tx, tokenID string) error {
	const query = `
		UPDATE users.token
		SET usedat = NOW()
		WHERE id = $1 AND usedat IS NULL AND expiresat > NOW()`

	commandTag, err := transaction.Exec(ctx, query, tokenID)
	if err != nil {
		return fmt.Errorf("postgres_credential_store_consume_token_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.TokenInvalid()
	}

	return nil
}
