// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

/*
Package jobs provides a Redis-backed background job queue.

It decouples slow side effects (outbound email, periodic cleanup of expired
tokens and sessions) from the request path: handlers enqueue, a worker
goroutine pops and dispatches.

Architecture:

  - Queue: LPUSH onto a Redis list; payloads are small JSON envelopes.
  - Worker: BRPOP loop with a handler registry keyed by job kind.
  - Delivery: at-least-once. Handlers must be idempotent or tolerate replays.
*/
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phamduyan/veil/internal/platform/constants"
	"github.com/phamduyan/veil/pkg/uuid"
)

// Kind identifies a job handler.
type Kind string

const (
	// KindSendEmail dispatches a templated email to a single recipient.
	KindSendEmail Kind = "send_email"

	// KindPurgeExpired deletes expired tokens and sessions from storage.
	KindPurgeExpired Kind = "purge_expired"
)

// Job is the envelope persisted on the queue.
type Job struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues background jobs onto a Redis list.
type Queue struct {
	client *redis.Client
}

// NewQueue creates a Redis-backed [Queue].
func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client}
}

/*
Enqueue serializes and pushes a job onto the queue.

Parameters:
  - context: context.Context
  - kind: Kind (handler selector)
  - payload: any (JSON-serializable job arguments)

Returns:
  - error: Serialization or Redis failures
*/
func (queue *Queue) Enqueue(context context.Context, kind Kind, payload any) error {

	// Serialize the payload first so a bad argument fails fast.
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("jobs_enqueue_marshal_failed: %w", err)
	}

	job := Job{
		ID:        uuid.New(),
		Kind:      kind,
		Payload:   rawPayload,
		CreatedAt: time.Now(),
	}

	envelope, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobs_enqueue_envelope_failed: %w", err)
	}

	if err := queue.client.LPush(context, constants.RedisQueueJobs, envelope).Err(); err != nil {
		return fmt.Errorf("jobs_enqueue_push_failed: %w", err)
	}

	return nil
}
