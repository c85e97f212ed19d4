// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package sec_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phamduyan/veil/internal/platform/sec"
)

/*
TestGenerateSecureToken checks uniqueness and the URL-safe encoding.
*/
func TestGenerateSecureToken(t *testing.T) {
	first, err := sec.GenerateSecureToken(32)
	require.NoError(t, err)
	second, err := sec.GenerateSecureToken(32)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	// 32 bytes encode to 43 base64url characters without padding.
	assert.Len(t, first, 43)
	assert.NotContains(t, first, "=")
	assert.NotContains(t, first, "+")
	assert.NotContains(t, first, "/")
}

/*
TestGenerateNumericCode checks the digit-only format used for email OTPs.
*/
func TestGenerateNumericCode(t *testing.T) {
	code, err := sec.GenerateNumericCode(6)
	require.NoError(t, err)

	require.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9')
	}
}

/*
TestHashToken checks determinism and the hex SHA-256 output shape.
*/
func TestHashToken(t *testing.T) {
	digest := sec.HashToken("some-raw-token")

	// Hex-encoded SHA-256 is always 64 characters.
	assert.Len(t, digest, 64)
	assert.Equal(t, digest, sec.HashToken("some-raw-token"))
	assert.NotEqual(t, digest, sec.HashToken("some-other-token"))
}

/*
TestPasswordHashing covers the bcrypt round trip.
*/
func TestPasswordHashing(t *testing.T) {
	const password = "Sup3r-Secret!"

	hash, err := sec.HashPassword(password)
	require.NoError(t, err)

	// The hash is salted: never the plain text, never repeatable.
	assert.NotEqual(t, password, hash)

	assert.True(t, sec.CheckPasswordHash(password, hash))
	assert.False(t, sec.CheckPasswordHash("Wrong-Passw0rd!", hash))
	assert.False(t, sec.CheckPasswordHash(password, "not-a-bcrypt-hash"))
}

// writeTestKeyPair generates an RSA key pair as PEM files under dir.
func writeTestKeyPair(t *testing.T, dir string) (privatePath, publicPath string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privatePath = filepath.Join(dir, "private.pem")
	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	require.NoError(t, os.WriteFile(privatePath, privatePEM, 0o600))

	publicPath = filepath.Join(dir, "public.pem")
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	require.NoError(t, os.WriteFile(publicPath, publicPEM, 0o600))

	return privatePath, publicPath
}

/*
TestTokenService_RoundTrip signs an access token and verifies its claims.
*/
func TestTokenService_RoundTrip(t *testing.T) {
	privatePath, publicPath := writeTestKeyPair(t, t.TempDir())

	service, err := sec.NewTokenService(privatePath, publicPath, "veil.app")
	require.NoError(t, err)

	signed, err := service.GenerateAccessToken("user-1", "session-1", "password", 15*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := service.VerifyToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "session-1", claims.SessionID)
	assert.Equal(t, "password", claims.Method)
	assert.Equal(t, "veil.app", claims.Issuer)
}

/*
TestTokenService_RejectsBadTokens checks expiry and signature enforcement.
*/
func TestTokenService_RejectsBadTokens(t *testing.T) {
	privatePath, publicPath := writeTestKeyPair(t, t.TempDir())
	service, err := sec.NewTokenService(privatePath, publicPath, "veil.app")
	require.NoError(t, err)

	// Expired token.
	expired, err := service.GenerateAccessToken("user-1", "session-1", "password", -time.Minute)
	require.NoError(t, err)
	_, err = service.VerifyToken(expired)
	assert.Error(t, err)

	// Token signed by a different key.
	otherPrivate, _ := writeTestKeyPair(t, t.TempDir())
	otherService, err := sec.NewTokenService(otherPrivate, publicPath, "veil.app")
	require.NoError(t, err)

	forged, err := otherService.GenerateAccessToken("user-1", "session-1", "password", time.Minute)
	require.NoError(t, err)
	_, err = service.VerifyToken(forged)
	assert.Error(t, err)

	// Garbage input.
	_, err = service.VerifyToken("not.a.jwt")
	assert.Error(t, err)
}
