package policies

import "context"

// TemplateNewMessage is the notification sent to a recipient of a chat message.
const TemplateNewMessage = "chat.new_message"

// Notifier delivers a templated message to an address. Callers treat it as best effort.
type Notifier interface {
	Send(ctx context.Context, to string, template string, data any) error
}

// NewMessageNotice is the data for TemplateNewMessage.
type NewMessageNotice struct {
	RecipientName  string `json:"recipient_name"`
	SenderName     string `json:"sender_name"`
	ConversationID string `json:"conversation_id"`
	ListingID      string `json:"listing_id,omitempty"`
	Preview        string `json:"preview"`
}
