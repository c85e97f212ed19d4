// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

/*
Package apperr defines the centralized error handling framework for Veil.

It provides a rich error type that bridges the gap between low-level Domain/Storage
errors and high-level HTTP responses.

Architecture:

  - AppError: A struct containing machine-readable ErrorCode and user-friendly messages.
  - Taxonomy: Dedicated constructors for every expected authentication outcome
    (invalid credentials, lockout, expired tokens, ...).
  - Mapping: Explicit mapping from AppError to standard HTTP Status Codes.

Every error that leaves the service layer should be wrapped as an [AppError] to ensure
consistent API responses. Expected authentication outcomes are always typed — only
genuine infrastructure failures travel as [Internal] errors.
*/
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AppError is the canonical error type for the Veil API.
//
// It carries an HTTP status code, a machine-readable code, a client-safe
// message, and an optional slice of field-level validation errors.
//
// # Security
//
// The Cause field is for server-side logging only and is never sent to clients
// to avoid leaking internal implementation details (e.g., SQL queries).
type AppError struct {
	// Code is a machine-readable error identifier (e.g. "INVALID_CREDENTIALS").
	Code string `json:"code"`
	// Message is a human-readable description safe to return to the client.
	Message string `json:"error"`
	// HTTPStatus is the HTTP response status code.
	HTTPStatus int `json:"-"`
	// Cause is the underlying error, used for server-side logging only.
	Cause error `json:"-"`
	// Details holds per-field validation errors for VALIDATION_ERROR responses.
	Details []FieldError `json:"details,omitempty"`
}

// FieldError represents a single field-level validation failure.
type FieldError struct {
	// Field is the JSON field name that failed validation.
	Field string `json:"field"`
	// Message is the human-readable description of the failure.
	Message string `json:"message"`
}

// Error implements the error interface. It returns the client-safe message.
func (e *AppError) Error() string { return e.Message }

// Unwrap allows [errors.Is] and [errors.As] to traverse the cause chain.
func (e *AppError) Unwrap() error { return e.Cause }

// # Generic Client Errors (4xx)

// NotFound creates a 404 [AppError] for a named resource.
//
// Example:
//
//	apperr.NotFound("Session") // Returns "Session not found"
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// Unauthorized creates a 401 [AppError].
func Unauthorized(msg string) *AppError {
	return &AppError{
		Code:       "UNAUTHORIZED",
		Message:    msg,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a 403 [AppError].
func Forbidden(msg string) *AppError {
	return &AppError{
		Code:       "FORBIDDEN",
		Message:    msg,
		HTTPStatus: http.StatusForbidden,
	}
}

// Conflict creates a 409 [AppError] for duplicate or unique-constraint violations.
func Conflict(msg string) *AppError {
	return &AppError{
		Code:       "CONFLICT",
		Message:    msg,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a 400 [AppError] with optional per-field details.
func ValidationError(msg string, details ...FieldError) *AppError {
	return &AppError{
		Code:       "VALIDATION_ERROR",
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// # Authentication Outcomes
//
// These constructors cover every expected, recoverable outcome of the
// authentication subsystem. Handlers treat them as data, never as faults.

// UserNotFound creates a 404 [AppError] for a missing or soft-deleted user.
//
// # Enumeration
//
// This code must never surface on unauthenticated login/reset paths — those
// paths collapse it into [InvalidCredentials] or a generic success message.
func UserNotFound() *AppError {
	return &AppError{
		Code:       "USER_NOT_FOUND",
		Message:    "User not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// UserExists creates a 409 [AppError] when a registration email is taken.
func UserExists() *AppError {
	return &AppError{
		Code:       "USER_EXISTS",
		Message:    "Email is already registered",
		HTTPStatus: http.StatusConflict,
	}
}

// InvalidCredentials creates a 401 [AppError].
//
// The message is intentionally identical for "unknown email" and "wrong
// password" so that callers cannot enumerate registered addresses.
func InvalidCredentials() *AppError {
	return &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Invalid login credentials",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// EmailNotVerified creates a 403 [AppError] for accounts pending verification.
func EmailNotVerified() *AppError {
	return &AppError{
		Code:       "EMAIL_NOT_VERIFIED",
		Message:    "Email address has not been verified",
		HTTPStatus: http.StatusForbidden,
	}
}

// AccountLocked creates a 423 [AppError] carrying the remaining lockout duration.
func AccountLocked(remaining time.Duration) *AppError {
	seconds := int(remaining.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return &AppError{
		Code:       "ACCOUNT_LOCKED",
		Message:    fmt.Sprintf("Account is temporarily locked. Try again in %ds.", seconds),
		HTTPStatus: http.StatusLocked,
	}
}

// OtpInvalid creates a 401 [AppError] for an unknown or already-used OTP.
func OtpInvalid() *AppError {
	return &AppError{
		Code:       "OTP_INVALID",
		Message:    "One-time code is invalid",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// OtpExpired creates a 401 [AppError] for an expired OTP.
func OtpExpired() *AppError {
	return &AppError{
		Code:       "OTP_EXPIRED",
		Message:    "One-time code has expired",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// TokenInvalid creates a 400 [AppError] for an unknown or consumed token.
func TokenInvalid() *AppError {
	return &AppError{
		Code:       "TOKEN_INVALID",
		Message:    "Token is invalid or has already been used",
		HTTPStatus: http.StatusBadRequest,
	}
}

// TokenExpired creates a 410 [AppError] for a token past its TTL.
func TokenExpired() *AppError {
	return &AppError{
		Code:       "TOKEN_EXPIRED",
		Message:    "Token has expired",
		HTTPStatus: http.StatusGone,
	}
}

// SessionInvalid creates a 401 [AppError] for an unknown session token.
func SessionInvalid() *AppError {
	return &AppError{
		Code:       "SESSION_INVALID",
		Message:    "Session is invalid",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// SessionExpired creates a 401 [AppError] for an expired session.
func SessionExpired() *AppError {
	return &AppError{
		Code:       "SESSION_EXPIRED",
		Message:    "Session has expired",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// WebAuthnChallengeNotFound creates a 404 [AppError] for a missing ceremony challenge.
func WebAuthnChallengeNotFound() *AppError {
	return &AppError{
		Code:       "WEBAUTHN_CHALLENGE_NOT_FOUND",
		Message:    "No active WebAuthn challenge for this request",
		HTTPStatus: http.StatusNotFound,
	}
}

// WebAuthnFailed creates a 401 [AppError] for a failed attestation/assertion.
func WebAuthnFailed(msg string) *AppError {
	if msg == "" {
		msg = "WebAuthn ceremony failed"
	}
	return &AppError{
		Code:       "WEBAUTHN_FAILED",
		Message:    msg,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// AuthMethodMismatch creates a 409 [AppError] when an operation targets the
// wrong authentication method (e.g., WebAuthn login for a password account).
func AuthMethodMismatch(msg string) *AppError {
	return &AppError{
		Code:       "AUTH_METHOD_MISMATCH",
		Message:    msg,
		HTTPStatus: http.StatusConflict,
	}
}

// RateLimited creates a 429 [AppError].
func RateLimited(retryAfterSeconds int) *AppError {
	return &AppError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("Too many requests. Try again in %ds.", retryAfterSeconds),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// # Server Errors (5xx)

// Internal creates a 500 [AppError] wrapping an unexpected server-side error.
// The cause is stored for logging but is never sent to the client.
func Internal(cause error) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// ServiceUnavailable creates a 503 [AppError] for maintenance mode.
func ServiceUnavailable(msg string) *AppError {
	return &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    msg,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// # Helpers

// IsAppError reports whether err (or any error in its chain) is an [*AppError].
func IsAppError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae)
}

// As extracts the [*AppError] from err's chain. It returns nil if not found.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// IsCode reports whether err is an [*AppError] carrying the given code.
func IsCode(err error, code string) bool {
	ae := As(err)
	return ae != nil && ae.Code == code
}
