// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phamduyan/veil/internal/platform/apperr"
	"github.com/phamduyan/veil/internal/platform/constants"
	"github.com/phamduyan/veil/internal/platform/middleware"
	requestutil "github.com/phamduyan/veil/internal/platform/request"
	"github.com/phamduyan/veil/internal/platform/respond"
)

// Handler implements the HTTP layer for authentication.
type Handler struct {
	authService *Service
}

// NewHandler constructs a new auth [Handler].
func NewHandler(service *Service) *Handler {
	return &Handler{authService: service}
}

// Routes returns a [chi.Router] configured with the auth domain's endpoints.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	// Enrollment
	router.Post("/register", handler.register)
	router.Post("/verify-email", handler.verifyEmail)
	router.Post("/resend-verification", handler.resendVerification)

	// Password Login
	router.Post("/login", handler.login)

	// Passkey Login
	router.Post("/webauthn/login/begin", handler.beginWebAuthnLogin)
	router.Post("/webauthn/login/finish", handler.finishWebAuthnLogin)

	// Session Lifecycle (cookie-driven, no bearer token required)
	router.Post("/refresh", handler.refresh)
	router.Post("/logout", handler.logout)
	router.Get("/me", handler.getMe)

	// Password Recovery
	router.Post("/forgot-password", handler.forgotPassword)
	router.Post("/reset-password", handler.resetPassword)

	// Authenticated Credential Management
	router.Group(func(protected chi.Router) {
		protected.Use(middleware.RequireAuth)

		protected.Post("/change-password", handler.changePassword)
		protected.Post("/switch-method", handler.switchMethod)
		protected.Post("/webauthn/register/begin", handler.beginWebAuthnRegistration)
		protected.Post("/webauthn/register/finish", handler.finishWebAuthnRegistration)
	})

	return router
}

// # Enrollment Endpoints

// registerRequest defines the expected JSON payload for registration.
type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

/*
POST /api/v1/auth/register.

Description: Enrolls a new password-method account and dispatches the
verification email. The account cannot log in until the email is verified.

Request:
  - body: registerRequest

Response:
  - 201: User: Created account
  - 400: Validation: Invalid input data
  - 409: UserExists: Email already registered
*/
func (handler *Handler) register(writer http.ResponseWriter, request *http.Request) {
	var input registerRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	user, err := handler.authService.Register(request.Context(), RegisterInput{
		Email:    input.Email,
		Name:     input.Name,
		Password: input.Password,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, user)
}

// tokenRequest defines the payload for single-use-token endpoints.
type tokenRequest struct {
	Token string `json:"token"`
}

/*
POST /api/v1/auth/verify-email.

Description: Confirms email ownership with the emailed verification token.

Request:
  - body: tokenRequest

Response:
  - 204: No Content: Email verified
  - 400: TokenInvalid: Unknown or already-used token
  - 410: TokenExpired: Token past its TTL
*/
func (handler *Handler) verifyEmail(writer http.ResponseWriter, request *http.Request) {
	var input tokenRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.VerifyEmail(request.Context(), input.Token); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// emailRequest defines the payload for email-scoped endpoints.
type emailRequest struct {
	Email string `json:"email"`
}

/*
POST /api/v1/auth/resend-verification.

Description: Re-issues the verification email. Always responds 204 so callers
cannot probe whether an address is registered.

Request:
  - body: emailRequest

Response:
  - 204: No Content: Accepted
*/
func (handler *Handler) resendVerification(writer http.ResponseWriter, request *http.Request) {
	var input emailRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.ResendVerification(request.Context(), input.Email); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// # Login Endpoints

// loginRequest defines the payload of both steps of the password login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Otp      string `json:"otp,omitempty"`
}

// otpPendingResponse signals that the login requires the emailed code.
type otpPendingResponse struct {
	RequiresOtp bool   `json:"requires_otp"`
	Message     string `json:"message"`
}

// authResponse carries the issued tokens after a completed login.
type authResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	User        *User  `json:"user"`
}

/*
POST /api/v1/auth/login.

Description: Two-step password login. Without an OTP a correct password only
triggers the code email; repeating the call with the code yields the session
cookie plus the access token.

Request:
  - body: loginRequest

Response:
  - 200: otpPendingResponse | authResponse
  - 401: InvalidCredentials: Wrong email, password, or OTP
  - 403: EmailNotVerified/AccountLocked: Account not ready to authenticate
  - 409: AuthMethodMismatch: Account uses passkeys
  - 429: RateLimited: Attempt budget exhausted
*/
func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	var input loginRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.authService.Login(request.Context(),
		input.Email, input.Password, input.Otp, clientMeta(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if result.RequiresOtp {
		respond.OK(writer, otpPendingResponse{
			RequiresOtp: true,
			Message:     "A login code was sent to your email address.",
		})
		return
	}

	handler.respondAuthenticated(writer, result)
}

// # Session Endpoints

/*
POST /api/v1/auth/refresh.

Description: Exchanges the session cookie for a fresh access token. The
session expiry never moves.

Response:
  - 200: authResponse: New access token
  - 401: SessionInvalid/SessionExpired: Cookie missing, unknown, or expired
*/
func (handler *Handler) refresh(writer http.ResponseWriter, request *http.Request) {
	rawToken, err := sessionToken(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.authService.Refresh(request.Context(), rawToken)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, authResponse{
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(AccessTokenTTL.Seconds()),
		User:        result.User,
	})
}

/*
POST /api/v1/auth/logout.

Description: Revokes the session behind the cookie and clears it. Responds
204 even when the cookie is absent or already revoked.

Response:
  - 204: No Content: Signed out
*/
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	if cookie, err := request.Cookie(constants.SessionTokenCookieName); err == nil {
		if err := handler.authService.Logout(request.Context(), cookie.Value); err != nil {
			respond.Error(writer, request, err)
			return
		}
	}

	clearSessionCookie(writer)
	respond.NoContent(writer)
}

/*
GET /api/v1/auth/me.

Description: Resolves the session cookie to the authenticated account.

Response:
  - 200: User: Account behind the session
  - 401: SessionInvalid/SessionExpired: Cookie missing, unknown, or expired
*/
func (handler *Handler) getMe(writer http.ResponseWriter, request *http.Request) {
	rawToken, err := sessionToken(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	user, _, err := handler.authService.GetSessionUser(request.Context(), rawToken)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, user)
}

// # Password Recovery Endpoints

/*
POST /api/v1/auth/forgot-password.

Description: Starts the reset flow. Always responds 204 regardless of whether
the email is registered.

Request:
  - body: emailRequest

Response:
  - 204: No Content: Accepted
  - 429: RateLimited: Attempt budget exhausted
*/
func (handler *Handler) forgotPassword(writer http.ResponseWriter, request *http.Request) {
	var input emailRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.RequestPasswordReset(request.Context(), input.Email); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// resetPasswordRequest defines the payload for completing a password reset.
type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

/*
POST /api/v1/auth/reset-password.

Description: Completes the reset flow. On success every session of the user
is revoked.

Request:
  - body: resetPasswordRequest

Response:
  - 204: No Content: Password replaced
  - 400: TokenInvalid/Validation: Bad token or weak password
  - 410: TokenExpired: Token past its TTL
*/
func (handler *Handler) resetPassword(writer http.ResponseWriter, request *http.Request) {
	var input resetPasswordRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.CompletePasswordReset(request.Context(), input.Token, input.NewPassword); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// # Credential Management Endpoints

// changePasswordRequest defines the payload for authenticated rotation.
type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

/*
POST /api/v1/auth/change-password.

Description: Rotates the password after re-verifying the current one.

Request:
  - body: changePasswordRequest

Response:
  - 204: No Content: Password replaced
  - 400: Validation: Weak new password
  - 401: InvalidCredentials: Current password wrong
  - 409: AuthMethodMismatch: Account uses passkeys
*/
func (handler *Handler) changePassword(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input changePasswordRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.ChangePassword(request.Context(),
		userID, input.CurrentPassword, input.NewPassword); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// switchMethodRequest defines the payload for adopting the other auth method.
type switchMethodRequest struct {
	Method     string          `json:"method"`
	Password   string          `json:"password,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	DeviceName string          `json:"device_name,omitempty"`
}

/*
POST /api/v1/auth/switch-method.

Description: Moves the account to the requested authentication method.
Switching to the current method is a no-op. A successful switch revokes every
session, including the caller's.

Request:
  - body: switchMethodRequest

Response:
  - 204: No Content: Switched (or already on the method)
  - 400: Validation: Unknown method or missing material
  - 422: WebAuthnFailed: Attestation rejected
*/
func (handler *Handler) switchMethod(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input switchMethodRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.SwitchMethod(request.Context(), userID, SwitchMethodInput{
		Target:           Method(input.Method),
		Password:         input.Password,
		WebAuthnResponse: input.Response,
		DeviceName:       input.DeviceName,
	}); err != nil {
		respond.Error(writer, request, err)
		return
	}

	clearSessionCookie(writer)
	respond.NoContent(writer)
}

// # Response Helpers

// respondAuthenticated sets the session cookie and writes the token payload.
func (handler *Handler) respondAuthenticated(writer http.ResponseWriter, result *LoginResult) {
	setSessionCookie(writer, result.SessionToken, result.SessionExpiresAt)

	respond.OK(writer, authResponse{
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(AccessTokenTTL.Seconds()),
		User:        result.User,
	})
}

// sessionToken extracts the raw session token from the cookie.
func sessionToken(request *http.Request) (string, error) {
	cookie, err := request.Cookie(constants.SessionTokenCookieName)
	if err != nil || cookie.Value == "" {
		return "", apperr.SessionInvalid()
	}
	return cookie.Value, nil
}

// setSessionCookie attaches the opaque session token. HttpOnly and strict
// same-site keep the token out of script reach and cross-site requests.
func setSessionCookie(writer http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.SessionTokenCookieName,
		Value:    token,
		Path:     constants.SessionTokenCookiePath,
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearSessionCookie expires the session cookie immediately.
func clearSessionCookie(writer http.ResponseWriter) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.SessionTokenCookieName,
		Value:    "",
		Path:     constants.SessionTokenCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// clientMeta captures the requesting device's metadata for the session record.
func clientMeta(request *http.Request) ClientMeta {
	return ClientMeta{
		UserAgent: request.UserAgent(),
		IPAddress: clientIP(request),
	}
}

// clientIP resolves the originating address, honoring the proxy header.
func clientIP(request *http.Request) string {
	if forwarded := request.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		return request.RemoteAddr
	}
	return host
}
