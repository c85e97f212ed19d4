// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth

import "time"

// # Authentication Constraints

const (
	// AccessTokenTTL is the duration a JWT access token remains valid.
	// We keep it short (15m) to minimize the impact of a leaked token.
	AccessTokenTTL = 15 * time.Minute

	// SessionTokenLength is the byte length of the random opaque session token.
	SessionTokenLength = 32

	// VerificationTokenTTL is the duration an email verification token remains valid.
	// Long-lived (24 hours) as users might not check email immediately.
	VerificationTokenTTL = 24 * time.Hour

	// ResetTokenTTL is the duration a password reset token remains valid.
	// Short-lived (1 hour) for security.
	ResetTokenTTL = 1 * time.Hour

	// OtpTTL is the duration a login OTP remains valid.
	OtpTTL = 5 * time.Minute

	// OtpDigits is the length of the human-enterable login code.
	OtpDigits = 6

	// ChallengeTTL is the duration a WebAuthn ceremony challenge remains valid.
	ChallengeTTL = 5 * time.Minute

	// OpaqueTokenLength is the byte length of verification/reset token values.
	OpaqueTokenLength = 32
)
