// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phamduyan/veil/internal/platform/constants"
)

// Handler processes a single job payload.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Worker consumes jobs from the Redis queue and dispatches them to
// registered handlers.
//
// # Concurrency
//
// Run blocks until the context is canceled, so the Worker is typically
// started in its own goroutine from main. Handler registration must finish
// before Run is called.
type Worker struct {
	client   *redis.Client
	logger   *slog.Logger
	handlers map[Kind]Handler
}

// NewWorker creates a Worker with an empty handler registry.
func NewWorker(client *redis.Client, logger *slog.Logger) *Worker {
	return &Worker{
		client:   client,
		logger:   logger,
		handlers: make(map[Kind]Handler),
	}
}

// Register binds a handler to a job kind, replacing any previous binding.
func (worker *Worker) Register(kind Kind, handler Handler) {
	worker.handlers[kind] = handler
}

/*
Run consumes jobs until the context is canceled.

Description:
Jobs are popped with BRPOP (blocking, 5 second poll interval) so shutdown is
observed promptly. Handler failures are logged and the job is dropped; there
is no retry queue.

Parameters:
  - context: context.Context (cancellation stops the loop)

Returns:
  - error: Always nil on graceful shutdown
*/
func (worker *Worker) Run(context context.Context) error {
	worker.logger.Info("job worker started", slog.Int("handlers", len(worker.handlers)))

	for {
		select {
		case <-context.Done():
			worker.logger.Info("job worker stopped")
			return nil
		default:
		}

		// Block waiting for the next job. A short timeout keeps the loop
		// responsive to context cancellation.
		result, err := worker.client.BRPop(context, 5*time.Second, constants.RedisQueueJobs).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // queue empty, poll again
			}
			if context.Err() != nil {
				worker.logger.Info("job worker stopped")
				return nil
			}
			worker.logger.Error("job_pop_failed", slog.String("error", err.Error()))
			time.Sleep(time.Second)
			continue
		}

		// BRPOP returns [key, value].
		if len(result) != 2 {
			continue
		}

		worker.dispatch(context, []byte(result[1]))
	}
}

// dispatch decodes one job envelope and invokes the matching handler.
func (worker *Worker) dispatch(ctx context.Context, envelope []byte) {
	var job Job
	if err := json.Unmarshal(envelope, &job); err != nil {
		worker.logger.Error("job_decode_failed", slog.String("error", err.Error()))
		return
	}

	logger := worker.logger.With(
		slog.String("job_id", job.ID),
		slog.String("job_kind", string(job.Kind)),
	)

	handler, ok := worker.handlers[job.Kind]
	if !ok {
		logger.Warn("job_handler_missing")
		return
	}

	startedAt := time.Now()
	if err := handler(ctx, job.Payload); err != nil {
		logger.Error("job_failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(startedAt)),
		)
		return
	}

	logger.Info("job_completed", slog.Duration("elapsed", time.Since(startedAt)))
}

// # Periodic Scheduling

/*
RunScheduler enqueues a purge job on a fixed interval until the context is
canceled.

Expired tokens and sessions are already treated as dead by read paths; the
purge merely reclaims storage, so a missed tick is harmless.
*/
func (worker *Worker) RunScheduler(context context.Context, queue *Queue, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-context.Done():
			return nil
		case <-ticker.C:
			if err := queue.Enqueue(context, KindPurgeExpired, nil); err != nil {
				worker.logger.Error("purge_enqueue_failed", slog.String("error", err.Error()))
			}
		}
	}
}
