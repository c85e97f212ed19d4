// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package mailer

import (
	"context"
	"log/slog"
)

// LogMailer writes rendered messages to the logger instead of sending them.
// Used in development when no SMTP relay is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a [LogMailer].
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send renders the template and logs it at INFO level.
func (mailer *LogMailer) Send(_ context.Context, recipient string, template Template, params Params) error {
	subject, body, err := render(template, params)
	if err != nil {
		return err
	}

	mailer.logger.Info("email (log-only delivery)",
		slog.String("to", recipient),
		slog.String("template", string(template)),
		slog.String("subject", subject),
		slog.String("body", body),
	)
	return nil
}
