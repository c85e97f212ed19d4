// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

// Command api is the entry point for the Veil authentication API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool).
//  4. Connect to Redis.
//  5. Run database migrations (idempotent).
//  6. Wire domain services and HTTP handlers.
//  7. Start the background job worker and the purge scheduler.
//  8. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/phamduyan/veil/internal/api"
	"github.com/phamduyan/veil/internal/platform/config"
	"github.com/phamduyan/veil/internal/platform/constants"
	"github.com/phamduyan/veil/internal/platform/jobs"
	"github.com/phamduyan/veil/internal/platform/mailer"
	"github.com/phamduyan/veil/internal/platform/migration"
	pgstore "github.com/phamduyan/veil/internal/platform/postgres"
	redisstore "github.com/phamduyan/veil/internal/platform/redis"
	"github.com/phamduyan/veil/internal/platform/sec"
	"github.com/phamduyan/veil/internal/users/account"
	"github.com/phamduyan/veil/internal/users/auth"
)

// purgeInterval is how often expired tokens and sessions are reclaimed.
const purgeInterval = time.Hour

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", "veil"))
	slog.SetDefault(log)

	log.Info("[Veil] service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", "veil"))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 3. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing postgres pool")
		pool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	// ── 6. Security Primitives ────────────────────────────────────────────
	jwtSvc, err := sec.NewTokenService(cfg.JWTPrivKeyPath, cfg.JWTPubKeyPath, constants.AuthIssuer)
	must(log, err, "initialize jwt service")

	relyingParty, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.WebAuthnRPName,
		RPID:          cfg.WebAuthnRPID,
		RPOrigins:     cfg.WebAuthnRPOrigins,
	})
	must(log, err, "initialize webauthn relying party")

	// ── 7. Health handlers (wired with real dependency checkers) ──────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func() error {
			return pgstore.Ping(context.Background(), pool)
		},
		CheckCache: func() error {
			return redisstore.Ping(context.Background(), rdb)
		},
	}, log)

	// ── 8. Domain Wiring ──────────────────────────────────────────────────
	userRepository := auth.NewUserRepository(pool)
	credentialStore := auth.NewCredentialStore(pool)
	tokenStore := auth.NewTokenStore(pool)
	sessionStore := auth.NewSessionStore(pool)
	attemptLimiter := auth.NewAttemptLimiter(rdb)

	jobQueue := jobs.NewQueue(rdb)
	notifier := auth.NewQueueNotifier(jobQueue)

	issuer := auth.NewIssuer(tokenStore)
	sessionManager := auth.NewSessionManager(sessionStore)
	passwordAuth := auth.NewPasswordAuthenticator(userRepository, credentialStore, issuer, notifier)
	webauthnAuth := auth.NewWebAuthnAuthenticator(userRepository, credentialStore, issuer,
		relyingParty, auth.DefaultPasskeyParser{})

	authService := auth.NewService(userRepository, credentialStore, passwordAuth, webauthnAuth,
		sessionManager, jwtSvc, attemptLimiter, notifier)
	authHandler := auth.NewHandler(authService)

	accountService := account.NewService(userRepository, sessionManager, issuer, notifier)
	accountHandler := account.NewHandler(accountService)

	// ── 9. Background Worker ──────────────────────────────────────────────
	// Outbound mail and periodic cleanup run off the request path.
	var outbound mailer.Mailer
	if cfg.SMTPAddr != "" {
		outbound = mailer.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword)
		log.Info("smtp mailer configured", slog.String("addr", cfg.SMTPAddr))
	} else {
		outbound = mailer.NewLogMailer(log)
		log.Warn("no SMTP relay configured, emails are logged only")
	}

	worker := jobs.NewWorker(rdb, log)
	worker.Register(jobs.KindSendEmail, func(ctx context.Context, payload json.RawMessage) error {
		var envelope mailer.Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return err
		}
		return outbound.Send(ctx, envelope.To, envelope.Template, envelope.Params)
	})
	worker.Register(jobs.KindPurgeExpired, func(ctx context.Context, _ json.RawMessage) error {
		if err := tokenStore.DeleteExpired(ctx); err != nil {
			return err
		}
		return sessionStore.DeleteExpired(ctx)
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go func() {
		if err := worker.Run(workerCtx); err != nil {
			log.Error("job worker error", slog.Any("error", err))
		}
	}()
	go func() {
		if err := worker.RunScheduler(workerCtx, jobQueue, purgeInterval); err != nil {
			log.Error("purge scheduler error", slog.Any("error", err))
		}
	}()

	// ── 10. HTTP Server ───────────────────────────────────────────────────
	handlers := api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Auth:      authHandler,
		Account:   accountHandler,
	}

	server := api.NewServer(workerCtx, cfg, log, jwtSvc, handlers)

	// ── 11. Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Stop background consumption before draining HTTP.
	workerCancel()

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped cleanly")
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
