package chat

import (
	"context"
	"log/slog"
	"strings"

	"rentchat/internal/app/dto"
	"rentchat/internal/app/middleware"
	appchat "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
)

const sendMessageKey = "chat.messages.send"

// SendMessageCommand posts one message, opening the conversation when
// ConversationID is empty or a draft marker.
type SendMessageCommand struct {
	SenderID       string
	Text           string
	ConversationID string
	ListingID      string
	RecipientID    string
	// RequestKey is the client's Idempotency-Key header, if any.
	RequestKey string
}

func (c SendMessageCommand) Key() string { return sendMessageKey }

// IdempotencyKey scopes the client key to the sender so keys cannot collide across users.
func (c SendMessageCommand) IdempotencyKey() string {
	key := strings.TrimSpace(c.RequestKey)
	if key == "" {
		return ""
	}
	return sendMessageKey + ":" + strings.TrimSpace(c.SenderID) + ":" + key
}

func (c SendMessageCommand) ResultPrototype() any { return &dto.SendMessageResult{} }

func (c SendMessageCommand) Validate() error {
	if strings.TrimSpace(c.SenderID) == "" || strings.TrimSpace(c.Text) == "" {
		return domainchat.Invalid(sendMessageKey, "senderId and text are required")
	}
	return nil
}

type SendMessageHandler struct {
	Dispatcher *appchat.Dispatcher
	Logger     *slog.Logger
}

func (h *SendMessageHandler) Handle(ctx context.Context, cmd SendMessageCommand) (dto.SendMessageResult, error) {
	res, err := h.Dispatcher.Send(ctx, appchat.SendInput{
		SenderID:       cmd.SenderID,
		Text:           cmd.Text,
		ConversationID: cmd.ConversationID,
		ListingID:      cmd.ListingID,
		RecipientID:    cmd.RecipientID,
	})
	if err != nil {
		return dto.SendMessageResult{}, err
	}
	if h.Logger != nil {
		h.Logger.Debug("message stored", "conversation_id", res.ConversationID, "message_id", res.MessageID, "sender_id", cmd.SenderID)
	}
	return dto.SendMessageResult{
		Success:        true,
		ConversationID: res.ConversationID,
		MessageID:      res.MessageID,
	}, nil
}

var (
	_ middleware.IdempotentCommand = SendMessageCommand{}
	_ middleware.SelfValidating    = SendMessageCommand{}
)
