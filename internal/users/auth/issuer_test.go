// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phamduyan/veil/internal/platform/apperr"
	"github.com/phamduyan/veil/internal/users/auth"
)

/*
TestIssuer_IssueAndConsume covers the happy path of the single-use contract.
*/
func TestIssuer_IssueAndConsume(t *testing.T) {
	ctx := context.Background()
	issuer := auth.NewIssuer(newMemoryTokenStore())

	token, rawValue, err := issuer.Issue(ctx, "user-1", auth.TokenPasswordReset, time.Hour, nil)
	require.NoError(t, err)
	require.NotEmpty(t, rawValue)

	// The raw secret is never persisted.
	assert.NotEqual(t, rawValue, token.ValueHash)
	assert.Nil(t, token.UsedAt)

	consumed, err := issuer.Consume(ctx, auth.TokenPasswordReset, rawValue)
	require.NoError(t, err)
	assert.Equal(t, token.ID, consumed.ID)
}

/*
TestIssuer_ConsumeIsSingleUse asserts that a consumed token cannot be
redeemed a second time.
*/
func TestIssuer_ConsumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	issuer := auth.NewIssuer(newMemoryTokenStore())

	_, rawValue, err := issuer.Issue(ctx, "user-1", auth.TokenPasswordReset, time.Hour, nil)
	require.NoError(t, err)

	_, err = issuer.Consume(ctx, auth.TokenPasswordReset, rawValue)
	require.NoError(t, err)

	_, err = issuer.Consume(ctx, auth.TokenPasswordReset, rawValue)
	assert.True(t, apperr.IsCode(err, "TOKEN_INVALID"))
}

/*
TestIssuer_ExpiredToken checks that expiry is reported distinctly from
absence.
*/
func TestIssuer_ExpiredToken(t *testing.T) {
	ctx := context.Background()
	store := newMemoryTokenStore()
	issuer := auth.NewIssuer(store)

	token, rawValue, err := issuer.Issue(ctx, "user-1", auth.TokenEmailVerification, time.Hour, nil)
	require.NoError(t, err)
	store.expire(token.ID)

	_, err = issuer.Lookup(ctx, auth.TokenEmailVerification, rawValue)
	assert.True(t, apperr.IsCode(err, "TOKEN_EXPIRED"))

	_, err = issuer.Lookup(ctx, auth.TokenEmailVerification, "never-issued")
	assert.True(t, apperr.IsCode(err, "TOKEN_INVALID"))
}

/*
TestIssuer_ReissueInvalidatesPrevious asserts the replace semantics: issuing
a new token of the same kind kills the previous one.
*/
func TestIssuer_ReissueInvalidatesPrevious(t *testing.T) {
	ctx := context.Background()
	issuer := auth.NewIssuer(newMemoryTokenStore())

	_, firstValue, err := issuer.Issue(ctx, "user-1", auth.TokenEmailVerification, time.Hour, nil)
	require.NoError(t, err)

	_, secondValue, err := issuer.Issue(ctx, "user-1", auth.TokenEmailVerification, time.Hour, nil)
	require.NoError(t, err)

	_, err = issuer.Consume(ctx, auth.TokenEmailVerification, firstValue)
	assert.True(t, apperr.IsCode(err, "TOKEN_INVALID"))

	_, err = issuer.Consume(ctx, auth.TokenEmailVerification, secondValue)
	assert.NoError(t, err)
}

/*
TestIssuer_ConsumeOtp covers the user-scoped OTP flow: format, wrong code,
replay, and expiry.
*/
func TestIssuer_ConsumeOtp(t *testing.T) {
	ctx := context.Background()
	store := newMemoryTokenStore()
	issuer := auth.NewIssuer(store)

	token, code, err := issuer.Issue(ctx, "user-1", auth.TokenLoginOtp, auth.OtpTTL, nil)
	require.NoError(t, err)

	// OTPs are human-enterable digits.
	require.Len(t, code, auth.OtpDigits)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9')
	}

	// Wrong code.
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}
	err = issuer.ConsumeOtp(ctx, "user-1", wrong)
	assert.True(t, apperr.IsCode(err, "OTP_INVALID"))

	// Another user's code.
	err = issuer.ConsumeOtp(ctx, "user-2", code)
	assert.True(t, apperr.IsCode(err, "OTP_INVALID"))

	// Correct code consumes.
	require.NoError(t, issuer.ConsumeOtp(ctx, "user-1", code))

	// Replay fails.
	err = issuer.ConsumeOtp(ctx, "user-1", code)
	assert.True(t, apperr.IsCode(err, "OTP_INVALID"))

	// Expired code is reported as such.
	token, code, err = issuer.Issue(ctx, "user-1", auth.TokenLoginOtp, auth.OtpTTL, nil)
	require.NoError(t, err)
	store.expire(token.ID)
	err = issuer.ConsumeOtp(ctx, "user-1", code)
	assert.True(t, apperr.IsCode(err, "OTP_EXPIRED"))
}

/*
TestIssuer_LiveChallenge checks challenge retrieval without consumption.
*/
func TestIssuer_LiveChallenge(t *testing.T) {
	ctx := context.Background()
	store := newMemoryTokenStore()
	issuer := auth.NewIssuer(store)

	_, err := issuer.LiveChallenge(ctx, "user-1")
	assert.True(t, apperr.IsCode(err, "WEBAUTHN_CHALLENGE_NOT_FOUND"))

	issued, _, err := issuer.Issue(ctx, "user-1", auth.TokenWebAuthnChallenge, auth.ChallengeTTL, []byte(`{"ceremony":"login"}`))
	require.NoError(t, err)

	// Retrieval does not consume: both calls succeed.
	challenge, err := issuer.LiveChallenge(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, issued.ID, challenge.ID)

	_, err = issuer.LiveChallenge(ctx, "user-1")
	require.NoError(t, err)

	// An expired challenge is treated as absent.
	store.expire(issued.ID)
	_, err = issuer.LiveChallenge(ctx, "user-1")
	assert.True(t, apperr.IsCode(err, "WEBAUTHN_CHALLENGE_NOT_FOUND"))
}
