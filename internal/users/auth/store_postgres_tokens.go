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
)

// # Token Store

// PostgresTokenStore implements the TokenStore interface using pgx.
type PostgresTokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore creates a new PostgreSQL implementation of the TokenStore.
func NewTokenStore(pool *pgxpool.Pool) *PostgresTokenStore {
	return &PostgresTokenStore{pool: pool}
}

/*
Create inserts a token, replacing any live token for the same (owner, kind).

Description: The delete and the insert run in one transaction, preserving the
at-most-one-outstanding-token-per-purpose invariant under concurrency.

Parameters:
  - context: context.Context
  - token: *Token

Returns:
  - error: Persistence failures
*/
func (store *PostgresTokenStore) Create(context context.Context, token *Token) error {
	transaction, err := store.pool.Begin(context)
	if err != nil {
		return fmt.Errorf("postgres_token_store_create_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(context) }()

	// Invalidate the prior live token for this purpose. Unowned tokens are
	// scoped by the NULL owner.
	const deleteQuery = `
		DELETE FROM users.token
		WHERE kind = $1 AND usedat IS NULL AND userid IS NOT DISTINCT FROM $2`

	if _, err := transaction.Exec(context, deleteQuery, token.Kind, token.UserID); err != nil {
		return fmt.Errorf("postgres_token_store_create_replace_failed: %w", err)
	}

	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	const insertQuery = `
		INSERT INTO users.token (
			id, userid, kind, valuehash, metadata, expiresat, usedat, createdat
		) VALUES ($1, $2, $3, $4, $5, $6, NULL, $7)`

	if _, err := transaction.Exec(context, insertQuery,
		token.ID,
		token.UserID,
		token.Kind,
		token.ValueHash,
		token.Metadata,
		token.ExpiresAt,
		token.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres_token_store_create_insert_failed: %w", err)
	}

	if err := transaction.Commit(context); err != nil {
		return fmt.Errorf("postgres_token_store_create_commit_failed: %w", err)
	}

	return nil
}

/*
FindByHash retrieves an unused token by kind and value hash.

Description: Expired rows ARE returned so the caller can distinguish
TokenExpired from TokenInvalid.

Parameters:
  - context: context.Context
  - kind: TokenKind
  - valueHash: string

Returns:
  - *Token: Hydrated entity
  - error: apperr.TokenInvalid or execution errors
*/
func (store *PostgresTokenStore) FindByHash(context context.Context, kind TokenKind, valueHash string) (*Token, error) {
	const query = `
		SELECT id, userid, kind, valuehash, metadata, expiresat, usedat, createdat
		FROM users.token
		WHERE kind = $1 AND valuehash = $2 AND usedat IS NULL`

	return store.scanOne(store.pool.QueryRow(context, query, kind, valueHash))
}

/*
FindForUser retrieves the unused token of a kind owned by a user.

Parameters:
  - context: context.Context
  - userID: string
  - kind: TokenKind

Returns:
  - *Token: Hydrated entity
  - error: apperr.TokenInvalid or execution errors
*/
func (store *PostgresTokenStore) FindForUser(context context.Context, userID string, kind TokenKind) (*Token, error) {
	const query = `
		SELECT id, userid, kind, valuehash, metadata, expiresat, usedat, createdat
		FROM users.token
		WHERE userid = $1 AND kind = $2 AND usedat IS NULL`

	return store.scanOne(store.pool.QueryRow(context, query, userID, kind))
}

/*
MarkUsed stamps the token as consumed with an atomic conditional update.

Description: Two concurrent consumers race on the same conditional UPDATE; at
most one observes an affected row.

Parameters:
  - context: context.Context
  - tokenID: string

Returns:
  - error: apperr.TokenInvalid if already used or expired
*/
func (store *PostgresTokenStore) MarkUsed(context context.Context, tokenID string) error {
	const query = `
		UPDATE users.token
		SET usedat = NOW()
		WHERE id = $1 AND usedat IS NULL AND expiresat > NOW()`

	commandTag, err := store.pool.Exec(context, query, tokenID)
	if err != nil {
		return fmt.Errorf("postgres_token_store_mark_used_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.TokenInvalid()
	}

	return nil
}

/*
DeleteExpired permanently removes tokens past their expiry.

Description: Cleanup task to reclaim storage. Expired tokens are already inert
on every read path.

Parameters:
  - context: context.Context

Returns:
  - error: Cleanup failures
*/
func (store *PostgresTokenStore) DeleteExpired(context context.Context) error {
	const query = "DELETE FROM users.token WHERE expiresat <= NOW()"
	if _, err := store.pool.Exec(context, query); err != nil {
		return fmt.Errorf("postgres_token_store_delete_expired_failed: %w", err)
	}
	return nil
}

// scanOne hydrates a single token row, mapping absence to apperr.TokenInvalid.
func (store *PostgresTokenStore) scanOne(row pgx.Row) (*Token, error) {
	token := &Token{}
	err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.Kind,
		&token.ValueHash,
		&token.Metadata,
		&token.ExpiresAt,
		&token.UsedAt,
		&token.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.TokenInvalid()
		}
		return nil, fmt.Errorf("postgres_token_store_scan_failed: %w", err)
	}

	return token, nil
}
