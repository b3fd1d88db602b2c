// Package mailer hands outbound emails to a delivery transport. Rendering
// and SMTP delivery happen downstream; this package only publishes jobs.
package mailer

import (
	"context"
	"time"
)

// Templates known to the downstream renderer.
const (
	TemplateVerification   = "verification"
	TemplateMagicLink      = "magic_link"
	TemplateForgotPassword = "forgot_password"
)

// Message is one email job.
type Message struct {
	Template  string            `json:"template"`
	To        string            `json:"to"`
	From      string            `json:"from"`
	ReplyTo   string            `json:"reply_to,omitempty"`
	Subject   string            `json:"subject"`
	ActionURL string            `json:"action_url"`
	Context   map[string]string `json:"context,omitempty"`
	QueuedAt  time.Time         `json:"queued_at"`
}

// Mailer delivers Messages. Callers treat Send as fire-and-forget and only
// log failures.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
