// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package sec

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/phamduyan/veil/internal/platform/constants"
)

// HashPassword hashes a plain-text password using the bcrypt algorithm.
//
// Cost factor 12 is the platform policy: high enough to make offline
// cracking expensive, low enough to keep registration latency acceptable.
func HashPassword(plainTextPassword string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(plainTextPassword), constants.PasswordHashCost)
	if err != nil {
		return "", fmt.Errorf("sec: failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// CheckPasswordHash compares a plain-text password with its hashed version.
// bcrypt performs a constant-time comparison internally.
func CheckPasswordHash(plainTextPassword, existingHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(existingHash), []byte(plainTextPassword))
	return err == nil
}
