package mailer

import (
	"context"

	"github.com/dmitrijs2005/turbocore/internal/logging"
)

// LogMailer writes jobs to the log instead of delivering them. Meant for
// local development: action links contain live tokens.
type LogMailer struct {
	log logging.Logger
}

func NewLogMailer(log logging.Logger) *LogMailer {
	return &LogMailer{log: log.With("module", "mailer")}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.log.Info(ctx, "mail queued",
		"template", msg.Template,
		"to", msg.To,
		"subject", msg.Subject,
		"action_url", msg.ActionURL,
	)
	return nil
}
