// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

// PostgreSQL storage layer for the authentication domain.
//
// # Architecture
//
// Repositories in this file are strictly separated from domain logic. They
// implement domain-defined interfaces (e.g., [UserRepository]) using the
// [pgxpool.Pool] connection manager.
//
// # Error Mapping
//
// Storage-specific errors (like pgx.ErrNoRows) are mapped to domain-friendly
// [apperr.AppError] types to avoid leaking storage implementation details.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/phamduyan/veil/internal/platform/apperr"
	"github.com/phamduyan/veil/internal/platform/dberr"
)

// # User Repository

// PostgresUserRepository implements the UserRepository interface using pgx.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new PostgreSQL implementation of the UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

/*
Create persists a new user record into the users.account table.

Description: Deep-persists account metadata, ensuring timestamps are initialized
if not provided.

Parameters:
  - context: context.Context
  - user: *User (Entity to persist)

Returns:
  - error: apperr.UserExists on duplicate email, or connectivity errors
*/
func (repository *PostgresUserRepository) Create(context context.Context, user *User) error {
	const query = `
		INSERT INTO users.account (
			id, email, name, method, createdat, updatedat
		) VALUES ($1, $2, $3, $4, $5, $6)`

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := repository.pool.Exec(context, query,
		user.ID,
		user.Email,
		user.Name,
		user.Method,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if dberr.IsUniqueViolation(err) {
			return apperr.UserExists()
		}
		return fmt.Errorf("postgres_user_repo_create_failed: %w", err)
	}

	return nil
}

/*
FindByID retrieves a user record by their unique ID.

Description: Primary key resolution, filtering out soft-deleted users.

Parameters:
  - context: context.Context
  - id: string (UUIDv7)

Returns:
  - *User: Hydrated account entity
  - error: apperr.UserNotFound or execution errors
*/
func (repository *PostgresUserRepository) FindByID(context context.Context, id string) (*User, error) {
	const query = `
		SELECT id, email, name, method, createdat, updatedat
		FROM users.account
		WHERE id = $1 AND deletedat IS NULL`

	user := &User{}
	err := repository.pool.QueryRow(context, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Method,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.UserNotFound()
		}
		return nil, fmt.Errorf("postgres_user_repo_find_by_id_failed: %w", err)
	}

	return user, nil
}

/*
FindByEmail retrieves a user record by their unique email address.

Description: Performs a lookup on the account table, filtering out soft-deleted
users. Callers must pass the normalized form of the address.

Parameters:
  - context: context.Context
  - email: string

Returns:
  - *User: Hydrated account entity
  - error: apperr.UserNotFound or database errors
*/
func (repository *PostgresUserRepository) FindByEmail(context context.Context, email string) (*User, error) {
	const query = `
		SELECT id, email, name, method, createdat, updatedat
		FROM users.account
		WHERE email = $1 AND deletedat IS NULL`

	user := &User{}
	err := repository.pool.QueryRow(context, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Method,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.UserNotFound()
		}
		return nil, fmt.Errorf("postgres_user_repo_find_by_email_failed: %w", err)
	}

	return user, nil
}

/*
UpdateName persists a new display name for the user.

Parameters:
  - context: context.Context
  - userID: string
  - name: string

Returns:
  - error: Update failures
*/
func (repository *PostgresUserRepository) UpdateName(context context.Context, userID, name string) error {
	const query = `
		UPDATE users.account
		SET name = $2, updatedat = $3
		WHERE id = $1 AND deletedat IS NULL`

	commandTag, err := repository.pool.Exec(context, query, userID, name, time.Now())
	if err != nil {
		return fmt.Errorf("postgres_user_repo_update_name_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.UserNotFound()
	}

	return nil
}

/*
ChangeEmail atomically consumes the verification token and replaces the account
email within one transaction.

Description: The conditional token update and the email swap commit together,
so a replayed token can never apply the change twice.

Parameters:
  - context: context.Context
  - userID: string
  - newEmail: string
  - tokenID: string

Returns:
  - error: apperr.TokenInvalid, apperr.UserExists, or execution errors
*/
func (repository *PostgresUserRepository) ChangeEmail(context context.Context, userID, newEmail, tokenID string) error {
	transaction, err := repository.pool.Begin(context)
	if err != nil {
		return fmt.Errorf("postgres_user_repo_change_email_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(context) }()

	// Atomic check-and-mark of the verification token.
	const consumeQuery = `
		UPDATE users.token
		SET usedat = NOW()
		WHERE id = $1 AND usedat IS NULL AND expiresat > NOW()`

	commandTag, err := transaction.Exec(context, consumeQuery, tokenID)
	if err != nil {
		return fmt.Errorf("postgres_user_repo_change_email_consume_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.TokenInvalid()
	}

	const updateQuery = `
		UPDATE users.account
		SET email = $2, updatedat = $3
		WHERE id = $1 AND deletedat IS NULL`

	commandTag, err = transaction.Exec(context, updateQuery, userID, newEmail, time.Now())
	if err != nil {
		if dberr.IsUniqueViolation(err) {
			return apperr.UserExists()
		}
		return fmt.Errorf("postgres_user_repo_change_email_update_failed: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return apperr.UserNotFound()
	}

	if err := transaction.Commit(context); err != nil {
		return fmt.Errorf("postgres_user_repo_change_email_commit_failed: %w", err)
	}

	return nil
}

/*
SoftDelete marks a user account as deleted using their ID.

Description: Retention-friendly deletion by setting deletedat. The row and its
owned credentials/tokens/sessions remain until a hard delete cascades them.

Parameters:
  - context: context.Context
  - id: string

Returns:
  - error: Side-effect failures
*/
func (repository *PostgresUserRepository) SoftDelete(context context.Context, id string) error {
	const query = "UPDATE users.account SET deletedat = $2, updatedat = $2 WHERE id = $1 AND deletedat IS NULL"
	_, err := repository.pool.Exec(context, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("postgres_user_repo_soft_delete_failed: %w", err)
	}
	return nil
}
