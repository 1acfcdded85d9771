package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	appoutbox "rentchat/internal/app/outbox"
	"rentchat/internal/app/policies"
	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/domain/shared/events"
)

const defaultNotifyTimeout = 10 * time.Second

// SendInput is a send request after transport decoding.
type SendInput struct {
	SenderID       string
	Text           string
	ConversationID string
	ListingID      string
	RecipientID    string
}

// SendResult identifies the stored message.
type SendResult struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	CreatedAt      time.Time `json:"created_at"`
	Created        bool      `json:"created"`
}

// Dispatcher is the send path. Steps run sequentially without a transaction;
// the reconciler re-derives state on every sync, so partial sends are tolerated.
type Dispatcher struct {
	Resolver  *Resolver
	Store     Store
	Guard     *SchemaGuard
	Directory Directory
	Notifier  policies.Notifier
	Outbox    appoutbox.Outbox
	Encoder   appoutbox.EventEncoder
	Logger    *slog.Logger
	Metrics   Metrics
	Now       func() time.Time
	NewID     func() string

	NotifyTimeout time.Duration
}

// Send stores text from SenderID in the resolved conversation.
func (d *Dispatcher) Send(ctx context.Context, in SendInput) (SendResult, error) {
	const op = "chat.Send"
	if d == nil || d.Store == nil || d.Resolver == nil {
		return SendResult{}, domainchat.Unavailable(op, errors.New("dispatcher not configured"))
	}
	sender := strings.TrimSpace(in.SenderID)
	text := strings.TrimSpace(in.Text)
	recipient := strings.TrimSpace(in.RecipientID)
	if sender == "" || text == "" {
		return SendResult{}, domainchat.Invalid(op, "senderId and text are required")
	}

	resolution, err := d.Resolver.Resolve(ctx, ResolveInput{
		SenderID:       sender,
		ConversationID: in.ConversationID,
		ListingID:      in.ListingID,
		RecipientID:    recipient,
	})
	if err != nil {
		return SendResult{}, err
	}
	conversationID := resolution.ConversationID

	if err := d.Guard.Do(ctx, "chat.LinkParticipant", func(ctx context.Context) error {
		return d.Store.LinkParticipant(ctx, conversationID, sender)
	}); err != nil {
		return SendResult{}, err
	}
	if recipient != "" && recipient != sender {
		if err := d.Guard.Do(ctx, "chat.LinkParticipant", func(ctx context.Context) error {
			return d.Store.LinkParticipant(ctx, conversationID, recipient)
		}); err != nil {
			return SendResult{}, err
		}
	}

	msg := domainchat.Message{
		ID:             d.newID(),
		ConversationID: conversationID,
		SenderID:       sender,
		Content:        text,
		CreatedAt:      d.now(),
	}
	if err := d.Guard.Do(ctx, "chat.AppendMessage", func(ctx context.Context) error {
		return d.Store.AppendMessage(ctx, msg)
	}); err != nil {
		return SendResult{}, err
	}

	// updatedAt only drives inbox order; the message is already stored.
	if err := d.Guard.Do(ctx, "chat.TouchConversation", func(ctx context.Context) error {
		return d.Store.TouchConversation(ctx, conversationID, msg.CreatedAt)
	}); err != nil {
		d.logWarn("conversation activity bump failed", "conversation_id", conversationID, "error", err)
	}

	metricsOrNop(d.Metrics).MessageSent(resolution.Created)
	d.recordEvents(ctx, resolution, msg, recipient)
	d.notifyRecipient(ctx, msg, recipient, resolution.ListingID)

	return SendResult{
		ConversationID: conversationID,
		MessageID:      msg.ID,
		CreatedAt:      msg.CreatedAt,
		Created:        resolution.Created,
	}, nil
}

func (d *Dispatcher) recordEvents(ctx context.Context, res Resolution, msg domainchat.Message, recipient string) {
	if d.Outbox == nil {
		return
	}
	var rec events.Recorder
	if res.Created {
		rec.Record(domainchat.ConversationCreatedEvent{
			ConversationID: res.ConversationID,
			ListingID:      res.ListingID,
			Participants:   []string{msg.SenderID, recipient},
			At:             msg.CreatedAt,
		})
	}
	rec.Record(domainchat.MessageSentEvent{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		RecipientID:    recipient,
		ListingID:      res.ListingID,
		At:             msg.CreatedAt,
	})
	if err := appoutbox.RecordDomainEvents(ctx, d.Outbox, d.Encoder, rec.Drain()); err != nil {
		d.logWarn("chat events not recorded", "conversation_id", msg.ConversationID, "error", err)
	}
}

// notifyRecipient is fire-and-forget: it never blocks or fails the send.
func (d *Dispatcher) notifyRecipient(ctx context.Context, msg domainchat.Message, recipient, listingID string) {
	if d.Notifier == nil || d.Directory == nil || recipient == "" {
		return
	}
	timeout := d.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	go func() {
		defer cancel()
		profiles, err := d.Directory.Profiles(notifyCtx, []string{recipient, msg.SenderID})
		if err != nil {
			d.logWarn("notification skipped, directory lookup failed", "recipient_id", recipient, "error", err)
			return
		}
		to := profiles[recipient]
		if to.Email == "" {
			return
		}
		data := policies.NewMessageNotice{
			RecipientName:  to.Name,
			SenderName:     profiles[msg.SenderID].Name,
			ConversationID: msg.ConversationID,
			ListingID:      listingID,
			Preview:        preview(msg.Content, 140),
		}
		if err := d.Notifier.Send(notifyCtx, to.Email, policies.TemplateNewMessage, data); err != nil {
			d.logWarn("recipient notification failed", "recipient_id", recipient, "error", domainchat.Upstream("chat.Notify", err))
		}
	}()
}

func preview(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return domainchat.NewID()
}

func (d *Dispatcher) logWarn(msg string, args ...any) {
	if d.Logger != nil {
		d.Logger.Warn(msg, args...)
	}
}
