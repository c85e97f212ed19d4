// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPMailer delivers mail through an SMTP relay.
type SMTPMailer struct {
	addr     string // host:port
	from     string
	username string
	password string
}

// NewSMTPMailer creates an [SMTPMailer]. Authentication is used only when a
// username is provided, so unauthenticated local relays work too.
func NewSMTPMailer(addr, from, username, password string) *SMTPMailer {
	return &SMTPMailer{
		addr:     addr,
		from:     from,
		username: username,
		password: password,
	}
}

/*
Send renders the template and delivers it via SMTP.

Parameters:
  - context: context.Context (reserved for cancellation; net/smtp does not support it natively)
  - recipient: string (destination address)
  - template: Template (message layout)
  - params: Params (template values)

Returns:
  - error: Rendering or delivery failures
*/
func (mailer *SMTPMailer) Send(context context.Context, recipient string, template Template, params Params) error {
	subject, body, err := render(template, params)
	if err != nil {
		return err
	}

	message := strings.Join([]string{
		"From: " + mailer.from,
		"To: " + recipient,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if mailer.username != "" {
		host := mailer.addr
		if index := strings.LastIndex(host, ":"); index >= 0 {
			host = host[:index]
		}
		auth = smtp.PlainAuth("", mailer.username, mailer.password, host)
	}

	if err := smtp.SendMail(mailer.addr, auth, mailer.from, []string{recipient}, []byte(message)); err != nil {
		return fmt.Errorf("mailer_smtp_send_failed: %w", err)
	}

	return nil
}
