package chat

import (
	"sort"
	"strings"
	"time"
)

const (
	// DraftConversationID marks a conversation the client has not created yet.
	DraftConversationID = "draft"
	// NewConversationID is accepted as an alias of DraftConversationID.
	NewConversationID = "new"
)

// Conversation is a persistent thread scoped to a listing and a set of participants.
type Conversation struct {
	ID        string
	ListingID string
	// PairKey is the sorted participant pair the conversation was opened for.
	// Together with ListingID it is unique in storage.
	PairKey   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasListing reports whether the conversation references a listing.
func (c Conversation) HasListing() bool {
	return c.ListingID != ""
}

// Participant links a user to a conversation.
type Participant struct {
	ConversationID string
	UserID         string
}

// Message is an immutable chat message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
	// IsRead is stored with its default and never flipped.
	IsRead bool
}

// ListingSummary carries listing display fields used in inbox snapshots.
type ListingSummary struct {
	ID      string
	OwnerID string
	Title   string
	Images  []string
}

// Profile carries user display fields used in inbox snapshots.
type Profile struct {
	ID        string
	Name      string
	AvatarURL string
	Email     string
}

// ConversationView is one assembled inbox entry.
type ConversationView struct {
	Conversation Conversation
	Listing      *ListingSummary
	Participants map[string]Profile
	Messages     []Message
}

// IsDraftID reports whether id asks for a conversation to be resolved rather than used as-is.
func IsDraftID(id string) bool {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case "", DraftConversationID, NewConversationID:
		return true
	}
	return false
}

// PairKey builds the order-independent key for two participants.
func PairKey(a, b string) string {
	ids := []string{strings.TrimSpace(a), strings.TrimSpace(b)}
	sort.Strings(ids)
	return ids[0] + "|" + ids[1]
}

// SortMessages orders messages by creation time, then id.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// SortInbox orders conversations by last activity, newest first.
func SortInbox(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := lastActivity(convs[i]), lastActivity(convs[j])
		if a.Equal(b) {
			return convs[i].ID < convs[j].ID
		}
		return a.After(b)
	})
}

func lastActivity(c Conversation) time.Time {
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.CreatedAt
}
