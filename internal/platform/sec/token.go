// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package sec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
)

// # Secure Token Generation

// GenerateSecureToken returns a URL-safe, cryptographically random string.
//
// # Parameters
//   - byteLength: Entropy in bytes (the encoded string is ~4/3 longer).
//
// # Returns
//   - A base64url string without padding, or an error if the system
//     entropy source fails.
func GenerateSecureToken(byteLength int) (string, error) {
	raw := make([]byte, byteLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("sec: failed to read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// GenerateNumericCode returns a cryptographically random string of ASCII digits.
//
// Used for human-enterable one-time codes delivered out-of-band (email OTP).
// Leading zeros are preserved — "012345" is a valid 6-digit code.
func GenerateNumericCode(digits int) (string, error) {
	const digitSet = "0123456789"

	code := make([]byte, digits)
	for i := range code {
		index, err := rand.Int(rand.Reader, big.NewInt(int64(len(digitSet))))
		if err != nil {
			return "", fmt.Errorf("sec: failed to read entropy: %w", err)
		}
		code[i] = digitSet[index.Int64()]
	}

	return string(code), nil
}

// # Token Hashing

// HashToken returns the hex-encoded SHA-256 digest of a token value.
//
// # Why hash at rest?
//
// Session tokens, OTPs, and reset tokens are bearer secrets. Storing only
// their digest means a leaked database snapshot cannot be replayed against
// the live API. SHA-256 (not bcrypt) is appropriate here because the inputs
// are high-entropy, not human-chosen.
func HashToken(rawToken string) string {
	digest := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(digest[:])
}
