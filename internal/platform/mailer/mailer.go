// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

/*
Package mailer delivers transactional email for the authentication flows.

Every message the platform sends is one of a small fixed set of templates
(verification link, login code, password reset link, security notice), so the
interface takes a template kind plus parameters rather than raw MIME bodies.

Two implementations exist:

  - SMTP: production delivery through a configured relay.
  - Log: development fallback that writes the message to the logger, so the
    verification and OTP flows can be exercised without a mail server.
*/
package mailer

import (
	"context"
	"fmt"
)

// Template identifies a transactional message layout.
type Template string

const (
	// TemplateVerification carries the email-verification link.
	TemplateVerification Template = "verification"

	// TemplateLoginOtp carries the 6-digit login code.
	TemplateLoginOtp Template = "login_otp"

	// TemplatePasswordReset carries the password-reset link.
	TemplatePasswordReset Template = "password_reset"

	// TemplateSecurityNotice informs the user of a security-relevant account
	// change (password changed, auth method switched, all sessions revoked).
	TemplateSecurityNotice Template = "security_notice"
)

// Params carries template-specific values (token, code, notice text).
type Params map[string]string

// Envelope is the wire form of a queued outbound message.
type Envelope struct {
	To       string   `json:"to"`
	Template Template `json:"template"`
	Params   Params   `json:"params"`
}

// Mailer sends a templated message to a single recipient.
type Mailer interface {
	Send(ctx context.Context, recipient string, template Template, params Params) error
}

// render produces the subject and plain-text body for a template.
func render(template Template, params Params) (subject, body string, err error) {
	switch template {
	case TemplateVerification:
		subject = "Verify your Veil account"
		body = fmt.Sprintf(
			"Welcome to Veil!\r\n\r\n"+
				"Confirm your email address by entering this token:\r\n\r\n"+
				"    %s\r\n\r\n"+
				"The token expires in 24 hours. If you did not create an account, ignore this message.\r\n",
			params["token"],
		)

	case TemplateLoginOtp:
		subject = "Your Veil login code"
		body = fmt.Sprintf(
			"Your one-time login code is:\r\n\r\n"+
				"    %s\r\n\r\n"+
				"The code expires in 5 minutes. If you did not try to sign in, change your password immediately.\r\n",
			params["code"],
		)

	case TemplatePasswordReset:
		subject = "Reset your Veil password"
		body = fmt.Sprintf(
			"A password reset was requested for your account.\r\n\r\n"+
				"Use this token to choose a new password:\r\n\r\n"+
				"    %s\r\n\r\n"+
				"The token expires in 1 hour. If you did not request a reset, ignore this message.\r\n",
			params["token"],
		)

	case TemplateSecurityNotice:
		subject = "Security notice for your Veil account"
		body = fmt.Sprintf(
			"%s\r\n\r\n"+
				"If this was not you, reset your password or contact support.\r\n",
			params["notice"],
		)

	default:
		return "", "", fmt.Errorf("mailer: unknown template %q", template)
	}

	return subject, body, nil
}
