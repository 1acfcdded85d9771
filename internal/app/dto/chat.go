package dto

import (
	"time"

	domainchat "rentchat/internal/domain/chat"
)

// SendMessageRequest is the body of POST /api/chat/send.
type SendMessageRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	SenderID       string `json:"senderId"`
	Text           string `json:"text"`
	ListingID      string `json:"listingId,omitempty"`
	RecipientID    string `json:"recipientId,omitempty"`
}

type SendMessageResult struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// SyncRequest is the body of POST /api/chat/sync.
type SyncRequest struct {
	UserID string `json:"userId"`
}

type InboxSnapshot struct {
	Conversations []Conversation `json:"conversations"`
}

// Conversation is one inbox entry. Listing is null when the conversation has no
// listing or the listing is unknown.
type Conversation struct {
	ID           string                 `json:"id"`
	Listing      *ListingSummary        `json:"listing"`
	Participants map[string]Participant `json:"participants"`
	Messages     []ChatMessage          `json:"messages"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

type ListingSummary struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Images []string `json:"images"`
}

type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// MapInbox renders views in the order given.
func MapInbox(views []domainchat.ConversationView) InboxSnapshot {
	out := InboxSnapshot{Conversations: make([]Conversation, 0, len(views))}
	for _, v := range views {
		out.Conversations = append(out.Conversations, MapConversation(v))
	}
	return out
}

func MapConversation(v domainchat.ConversationView) Conversation {
	conv := Conversation{
		ID:           v.Conversation.ID,
		Participants: make(map[string]Participant, len(v.Participants)),
		Messages:     make([]ChatMessage, 0, len(v.Messages)),
		UpdatedAt:    v.Conversation.UpdatedAt,
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = v.Conversation.CreatedAt
	}
	if v.Listing != nil {
		images := v.Listing.Images
		if images == nil {
			images = []string{}
		}
		conv.Listing = &ListingSummary{ID: v.Listing.ID, Title: v.Listing.Title, Images: images}
	}
	for id, p := range v.Participants {
		conv.Participants[id] = Participant{ID: id, Name: p.Name, AvatarURL: p.AvatarURL}
	}
	for _, m := range v.Messages {
		conv.Messages = append(conv.Messages, ChatMessage{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Text:      m.Content,
			Timestamp: m.CreatedAt,
		})
	}
	return conv
}
