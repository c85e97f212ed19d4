// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

/*
Package constants provides centralized, immutable values for the entire platform.

It defines default timeouts, rate limits, and cross-cutting keys that are shared
between different layers of the system.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the HTTP server.
  - Rate Limiting: Burst capacities and IP tracking TTLs.
  - Security: Lockout policy, session caps, JWT issuer, cookie configuration.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the business logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "veil-api"
	AppVersion = "0.1.0-dev"
)

// # Server Timing

const (
	// DefaultReadTimeout is the maximum duration for reading the entire request.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes of the response.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultIdleTimeout is the maximum amount of time to wait for the next request.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultReadHeaderTimeout is the amount of time allowed to read request headers.
	DefaultReadHeaderTimeout = 2 * time.Second

	// GlobalRequestTimeout is the deadline for the entire request lifecycle.
	GlobalRequestTimeout = 30 * time.Second

	// ShutdownTimeout is how long we wait for in-flight requests to complete during shutdown.
	ShutdownTimeout = 30 * time.Second
)

// # Rate Limiting

const (
	// DefaultRateLimitRPS is the requests per second allowed per IP.
	DefaultRateLimitRPS = 100.0

	// DefaultRateLimitBurst is the maximum burst allowed for the rate limiter.
	DefaultRateLimitBurst = 150

	// RateLimitCleanupInterval is how often old IP entries are removed from memory.
	RateLimitCleanupInterval = 1 * time.Minute

	// RateLimitClientTTL is how long a client must be idle before its entry is deleted.
	RateLimitClientTTL = 3 * time.Minute

	// AuthAttemptLimit is the number of sensitive auth operations (login, OTP
	// request, reset request) allowed per scope key within AuthAttemptWindow.
	AuthAttemptLimit = 10

	// AuthAttemptWindow is the sliding window for AuthAttemptLimit.
	AuthAttemptWindow = 5 * time.Minute
)

// # Lockout & Session Policy

const (
	// LockoutThreshold is the number of consecutive failed password attempts
	// that triggers a temporary lockout.
	LockoutThreshold = 5

	// LockoutDuration is how long an account stays locked after the threshold is hit.
	LockoutDuration = 15 * time.Minute

	// MaxSessionsPerUser caps concurrent sessions; the oldest is evicted on overflow.
	MaxSessionsPerUser = 5

	// SessionTTL is the single canonical lifetime of a session, regardless of
	// the authentication method that established it. Sessions never extend.
	SessionTTL = 24 * time.Hour

	// PasswordHashCost is the bcrypt cost factor for password hashes.
	PasswordHashCost = 12
)

// # Authentication

const (
	// AuthIssuer is the standard 'iss' claim in JWT access tokens.
	AuthIssuer = "veil.app"

	// SessionTokenCookieName is the name of the cookie that stores the opaque session token.
	SessionTokenCookieName = "session_token"

	// SessionTokenCookiePath is the scoped path for the session token cookie.
	SessionTokenCookiePath = "/api/v1/auth"
)

// # HTTP Headers

const (
	HeaderXRequestID    = "X-Request-ID"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderOrigin        = "Origin"
)

// # JSON Field Identifiers

const (
	FieldData    = "data"
	FieldError   = "error"
	FieldCode    = "code"
	FieldDetails = "details"
	FieldMessage = "message"
	FieldStatus  = "status"
)

// # Database Schemas

const (
	SchemaUsers = "users"
)

// # Redis Prefixes (Volatile Taxonomy)

const (
	RedisPrefixAttempts = "auth:attempts:"
	RedisQueueJobs      = "jobs:queue"
)
