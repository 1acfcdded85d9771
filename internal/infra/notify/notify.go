// Package notify delivers chat notifications by email or to the log.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mailgun/mailgun-go/v4"

	"rentchat/internal/app/policies"
)

const previewLimit = 140

var ErrUnknownTemplate = errors.New("notify: unknown template")

// Mailgun sends notifications through the Mailgun HTTP API.
type Mailgun struct {
	client mailgun.Mailgun
	from   string
}

func NewMailgun(domain, apiKey, from string) *Mailgun {
	return &Mailgun{client: mailgun.NewMailgun(domain, apiKey), from: from}
}

func (m *Mailgun) Send(ctx context.Context, to string, template string, data any) error {
	subject, body, err := render(template, data)
	if err != nil {
		return err
	}
	msg := m.client.NewMessage(m.from, subject, body, to)
	if _, _, err := m.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	return nil
}

// Log writes notifications to the logger instead of delivering them.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Send(_ context.Context, to string, template string, data any) error {
	subject, _, err := render(template, data)
	if err != nil {
		return err
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "to", to, "template", template, "subject", subject)
	return nil
}

func render(template string, data any) (string, string, error) {
	switch template {
	case policies.TemplateNewMessage:
		notice, ok := data.(policies.NewMessageNotice)
		if !ok {
			return "", "", fmt.Errorf("notify: %s expects NewMessageNotice, got %T", template, data)
		}
		sender := notice.SenderName
		if sender == "" {
			sender = "Someone"
		}
		subject := sender + " sent you a message"
		var b strings.Builder
		if notice.RecipientName != "" {
			fmt.Fprintf(&b, "Hi %s,\n\n", notice.RecipientName)
		}
		fmt.Fprintf(&b, "%s wrote:\n\n%s\n", sender, truncate(notice.Preview, previewLimit))
		return subject, b.String(), nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTemplate, template)
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

var (
	_ policies.Notifier = (*Mailgun)(nil)
	_ policies.Notifier = Log{}
)
