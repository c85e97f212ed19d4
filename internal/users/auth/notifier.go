// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth

import (
	"context"
	"fmt"

	"github.com/phamduyan/veil/internal/platform/jobs"
	"github.com/phamduyan/veil/internal/platform/mailer"
)

// # Email Collaboration

// Notifier is the outbound email collaborator of the authentication core.
//
// # Failure Policy
//
// Delivery failures are recoverable: callers log them and proceed, never
// blocking the authentication decision itself. The one exception is the OTP
// email during login, where the user cannot continue without the code.
type Notifier interface {
	SendVerification(ctx context.Context, recipient, token string) error
	SendLoginOtp(ctx context.Context, recipient, code string) error
	SendPasswordReset(ctx context.Context, recipient, token string) error
	SendSecurityNotice(ctx context.Context, recipient, notice string) error
}

// QueueNotifier implements Notifier by enqueuing send_email jobs, decoupling
// SMTP latency from the request path.
type QueueNotifier struct {
	queue *jobs.Queue
}

// NewQueueNotifier constructs a [QueueNotifier].
func NewQueueNotifier(queue *jobs.Queue) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

// SendVerification enqueues the email-verification message.
func (notifier *QueueNotifier) SendVerification(ctx context.Context, recipient, token string) error {
	return notifier.enqueue(ctx, recipient, mailer.TemplateVerification, mailer.Params{"token": token})
}

// SendLoginOtp enqueues the login-code message.
func (notifier *QueueNotifier) SendLoginOtp(ctx context.Context, recipient, code string) error {
	return notifier.enqueue(ctx, recipient, mailer.TemplateLoginOtp, mailer.Params{"code": code})
}

// SendPasswordReset enqueues the password-reset message.
func (notifier *QueueNotifier) SendPasswordReset(ctx context.Context, recipient, token string) error {
	return notifier.enqueue(ctx, recipient, mailer.TemplatePasswordReset, mailer.Params{"token": token})
}

// SendSecurityNotice enqueues a security notification.
func (notifier *QueueNotifier) SendSecurityNotice(ctx context.Context, recipient, notice string) error {
	return notifier.enqueue(ctx, recipient, mailer.TemplateSecurityNotice, mailer.Params{"notice": notice})
}

func (notifier *QueueNotifier) enqueue(ctx context.Context, recipient string, template mailer.Template, params mailer.Params) error {
	envelope := mailer.Envelope{
		To:       recipient,
		Template: template,
		Params:   params,
	}

	if err := notifier.queue.Enqueue(ctx, jobs.KindSendEmail, envelope); err != nil {
		return fmt.Errorf("notifier_enqueue_failed: %w", err)
	}

	return nil
}
