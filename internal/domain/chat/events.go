package chat

import (
	"time"

	"rentchat/internal/domain/shared/events"
)

type ConversationCreatedEvent struct {
	ConversationID string    `json:"conversation_id"`
	ListingID      string    `json:"listing_id,omitempty"`
	Participants   []string  `json:"participants"`
	At             time.Time `json:"at"`
}

func (e ConversationCreatedEvent) EventName() string     { return "chat.conversation_created" }
func (e ConversationCreatedEvent) AggregateID() string   { return e.ConversationID }
func (e ConversationCreatedEvent) OccurredAt() time.Time { return e.At }

type MessageSentEvent struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id,omitempty"`
	ListingID      string    `json:"listing_id,omitempty"`
	At             time.Time `json:"at"`
}

func (e MessageSentEvent) EventName() string     { return "chat.message_sent" }
func (e MessageSentEvent) AggregateID() string   { return e.ConversationID }
func (e MessageSentEvent) OccurredAt() time.Time { return e.At }

var (
	_ events.DomainEvent = ConversationCreatedEvent{}
	_ events.DomainEvent = MessageSentEvent{}
)
