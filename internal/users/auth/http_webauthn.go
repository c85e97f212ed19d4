// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth

import (
	"encoding/json"
	"net/http"

	requestutil "github.com/phamduyan/veil/internal/platform/request"
	"github.com/phamduyan/veil/internal/platform/respond"
)

// # Passkey Registration Endpoints

/*
POST /api/v1/auth/webauthn/register/begin.

Description: Starts a passkey registration ceremony for the authenticated
user. Issues a fresh challenge (replacing any prior one) and returns the
relying-party creation options for the browser's credential API.

Response:
  - 200: protocol.CredentialCreation: Ceremony options
  - 401: ErrUnauthorized: Authentication required
*/
func (handler *Handler) beginWebAuthnRegistration(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	creation, err := handler.authService.BeginWebAuthnRegistration(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, creation)
}

// finishRegistrationRequest carries the browser's attestation response.
type finishRegistrationRequest struct {
	Response   json.RawMessage `json:"response"`
	DeviceName string          `json:"device_name,omitempty"`
}

/*
POST /api/v1/auth/webauthn/register/finish.

Description: Completes the registration ceremony. When the account was on the
password method this call performs the method switch, which revokes every
session including the caller's.

Request:
  - body: finishRegistrationRequest

Response:
  - 201: WebAuthnCredential: Installed passkey
  - 401: ErrUnauthorized: Authentication required
  - 404: WebAuthnChallengeNotFound: No live challenge
  - 422: WebAuthnFailed: Attestation rejected (challenge stays live)
*/
func (handler *Handler) finishWebAuthnRegistration(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input finishRegistrationRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	credential, err := handler.authService.FinishWebAuthnRegistration(request.Context(),
		userID, input.Response, input.DeviceName)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, credential)
}

// # Passkey Login Endpoints

/*
POST /api/v1/auth/webauthn/login/begin.

Description: Starts a passkey authentication ceremony. Returns the assertion
options with the account's registered credentials as the allow-list.

Request:
  - body: emailRequest

Response:
  - 200: protocol.CredentialAssertion: Ceremony options
  - 401: InvalidCredentials: Unknown email
  - 409: AuthMethodMismatch: Account uses the password method
  - 429: RateLimited: Attempt budget exhausted
*/
func (handler *Handler) beginWebAuthnLogin(writer http.ResponseWriter, request *http.Request) {
	var input emailRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	assertion, err := handler.authService.BeginWebAuthnLogin(request.Context(), input.Email)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, assertion)
}

// finishLoginRequest carries the browser's assertion response.
type finishLoginRequest struct {
	Email    string          `json:"email"`
	Response json.RawMessage `json:"response"`
}

/*
POST /api/v1/auth/webauthn/login/finish.

Description: Completes the authentication ceremony and mints the session
cookie plus the access token.

Request:
  - body: finishLoginRequest

Response:
  - 200: authResponse: Issued tokens
  - 401: InvalidCredentials: Unknown email
  - 404: WebAuthnChallengeNotFound: No live challenge
  - 422: WebAuthnFailed: Assertion rejected (challenge stays live)
  - 429: RateLimited: Attempt budget exhausted
*/
func (handler *Handler) finishWebAuthnLogin(writer http.ResponseWriter, request *http.Request) {
	var input finishLoginRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.authService.FinishWebAuthnLogin(request.Context(),
		input.Email, input.Response, clientMeta(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.respondAuthenticated(writer, result)
}
