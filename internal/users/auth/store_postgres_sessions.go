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
)

// # Session Store

// sessionEvictQuery removes every session of the user except the newest
// MaxSessionsPerUser-1, so the subsequent insert lands exactly at the cap.
// Ranking is newest-first by creation time, tie-broken by the time-sortable
// UUIDv7 id; everything outside that window is the oldest and gets evicted.
const sessionEvictQuery = `
	DELETE FROM users.session
	WHERE userid = $1
	  AND id NOT IN (
		SELECT id FROM users.session
		WHERE userid = $1
		ORDER BY createdat DESC, id DESC
		LIMIT GREATEST($2 - 1, 0)
	  )`

// PostgresSessionStore implements the SessionStore interface using pgx.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new PostgreSQL implementation of the SessionStore.
func NewSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

/*
Create inserts a session, evicting the oldest beyond the concurrency cap.

Description: The eviction DELETE and the INSERT run in one transaction so two
concurrent logins cannot both pass a stale count and leave the user above the
cap.

Parameters:
  - context: context.Context
  - session: *Session

Returns:
  - error: Persistence failures
*/
func (store *PostgresSessionStore) Create(context context.Context, session *Session) error {
	transaction, err := store.pool.Begin(context)
	if err != nil {
		return fmt.Errorf("postgres_session_store_create_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(context) }()

	if _, err := transaction.Exec(context, sessionEvictQuery, session.UserID, constants.MaxSessionsPerUser); err != nil {
		return fmt.Errorf("postgres_session_store_evict_failed: %w", err)
	}

	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	const insertQuery = `
		INSERT INTO users.session (
			id, userid, tokenhash, method, useragent, ipaddress, expiresat, createdat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err := transaction.Exec(context, insertQuery,
		session.ID,
		session.UserID,
		session.TokenHash,
		session.Method,
		session.UserAgent,
		session.IPAddress,
		session.ExpiresAt,
		session.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres_session_store_insert_failed: %w", err)
	}

	if err := transaction.Commit(context); err != nil {
		return fmt.Errorf("postgres_session_store_create_commit_failed: %w", err)
	}

	return nil
}

/*
FindByTokenHash retrieves a session by its unique token hash.

Description: Expired rows ARE returned; the Session Manager decides whether to
surface SessionExpired and lazily delete.

Parameters:
  - context: context.Context
  - tokenHash: string

Returns:
  - *Session: Hydrated entity
  - error: apperr.SessionInvalid or execution errors
*/
func (store *PostgresSessionStore) FindByTokenHash(context context.Context, tokenHash string) (*Session, error) {
	const query = `
		SELECT id, userid, tokenhash, method, useragent, ipaddress, expiresat, createdat
		FROM users.session
		WHERE tokenhash = $1`

	session := &Session{}
	err := store.pool.QueryRow(context, query, tokenHash).Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&session.Method,
		&session.UserAgent,
		&session.IPAddress,
		&session.ExpiresAt,
		&session.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.SessionInvalid()
		}
		return nil, fmt.Errorf("postgres_session_store_find_failed: %w", err)
	}

	return session, nil
}

/*
ListForUser returns the user's sessions, newest first.

Description: The concurrency cap bounds the result to a handful of rows, so no
pagination is needed.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - []Session: May be empty
  - error: Execution errors
*/
func (store *PostgresSessionStore) ListForUser(context context.Context, userID string) ([]Session, error) {
	const query = `
		SELECT id, userid, tokenhash, method, useragent, ipaddress, expiresat, createdat
		FROM users.session
		WHERE userid = $1 AND expiresat > NOW()
		ORDER BY createdat DESC, id DESC`

	rows, err := store.pool.Query(context, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_session_store_list_failed: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var session Session
		if err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.TokenHash,
			&session.Method,
			&session.UserAgent,
			&session.IPAddress,
			&session.ExpiresAt,
			&session.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres_session_store_scan_failed: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_session_store_rows_failed: %w", err)
	}

	return sessions, nil
}

/*
DeleteByID removes a single session. Absent rows are a harmless no-op.

Parameters:
  - context: context.Context
  - sessionID: string

Returns:
  - error: Execution errors
*/
func (store *PostgresSessionStore) DeleteByID(context context.Context, sessionID string) error {
	const query = "DELETE FROM users.session WHERE id = $1"
	if _, err := store.pool.Exec(context, query, sessionID); err != nil {
		return fmt.Errorf("postgres_session_store_delete_failed: %w", err)
	}
	return nil
}

/*
DeleteAllForUser removes every session of the user.

Description: Security nuking of all active sessions, used on method switches
and password resets.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - error: Batch deletion failures
*/
func (store *PostgresSessionStore) DeleteAllForUser(context context.Context, userID string) error {
	const query = "DELETE FROM users.session WHERE userid = $1"
	if _, err := store.pool.Exec(context, query, userID); err != nil {
		return fmt.Errorf("postgres_session_store_delete_all_failed: %w", err)
	}
	return nil
}

/*
DeleteExpired permanently removes all sessions past their expiration.

Description: Cleanup task to reclaim storage from stale sessions.

Parameters:
  - context: context.Context

Returns:
  - error: Cleanup failures
*/
func (store *PostgresSessionStore) DeleteExpired(context context.Context) error {
	const query = "DELETE FROM users.session WHERE expiresat <= NOW()"
	if _, err := store.pool.Exec(context, query); err != nil {
		return fmt.Errorf("postgres_session_store_delete_expired_failed: %w", err)
	}
	return nil
}
