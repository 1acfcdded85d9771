// Package chat holds the chat core: conversation resolution, the guarded send path
// and the inbox reconciler. Storage and directory lookups are reached through the
// ports declared here and injected by the process entry point.
package chat

import (
	"context"
	"time"

	domainchat "rentchat/internal/domain/chat"
)

// Store persists conversations, participants and messages.
type Store interface {
	// FindConversation returns the first conversation on listingID linking both users.
	FindConversation(ctx context.Context, listingID, userA, userB string) (domainchat.Conversation, bool, error)
	// CreateConversation inserts conv unless another conversation already holds its
	// (ListingID, PairKey). It returns the stored winner and whether conv was inserted.
	CreateConversation(ctx context.Context, conv domainchat.Conversation) (domainchat.Conversation, bool, error)
	// LinkParticipant is insert-if-absent.
	LinkParticipant(ctx context.Context, conversationID, userID string) error
	AppendMessage(ctx context.Context, msg domainchat.Message) error
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error
	// DiscoverConversations returns conversations the user participates in, authored a
	// message in, or that reference one of ownedListingIDs.
	DiscoverConversations(ctx context.Context, userID string, ownedListingIDs []string) ([]domainchat.Conversation, error)
	ParticipantsOf(ctx context.Context, conversationIDs []string) (map[string][]string, error)
	// MessagesOf returns messages per conversation ordered by creation time, then id.
	MessagesOf(ctx context.Context, conversationIDs []string) (map[string][]domainchat.Message, error)
	DeleteConversationsByListing(ctx context.Context, listingID string) (int, error)
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
}

// SchemaProvisioner creates the chat schema and recognises missing-relation failures.
type SchemaProvisioner interface {
	EnsureSchema(ctx context.Context) error
	IsSchemaMissing(err error) bool
}

// Directory resolves marketplace listings and users owned by other services.
type Directory interface {
	ListingsOwnedBy(ctx context.Context, userID string) ([]string, error)
	Listings(ctx context.Context, ids []string) (map[string]domainchat.ListingSummary, error)
	Profiles(ctx context.Context, ids []string) (map[string]domainchat.Profile, error)
}

// Metrics receives chat core counters.
type Metrics interface {
	SchemaRepair(outcome string)
	MessageSent(newConversation bool)
	SyncCompleted(conversations, repaired int)
}

type nopMetrics struct{}

func (nopMetrics) SchemaRepair(string)    {}
func (nopMetrics) MessageSent(bool)       {}
func (nopMetrics) SyncCompleted(int, int) {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
