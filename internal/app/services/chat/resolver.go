package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	domainchat "rentchat/internal/domain/chat"
)

// ResolveInput describes the conversation a message is aimed at.
type ResolveInput struct {
	SenderID       string
	ConversationID string
	ListingID      string
	RecipientID    string
}

// Resolution is the canonical conversation for a send.
type Resolution struct {
	ConversationID string
	ListingID      string
	// Created is true when this call inserted the conversation.
	Created bool
}

// Resolver finds or creates the conversation for (listing, sender, recipient).
type Resolver struct {
	Store  Store
	Guard  *SchemaGuard
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

// Resolve returns a non-draft candidate id unchanged. Otherwise it looks up the
// conversation on the listing linking both users and creates one when none exists.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (Resolution, error) {
	const op = "chat.Resolve"
	if r == nil || r.Store == nil {
		return Resolution{}, domainchat.Unavailable(op, errors.New("store not configured"))
	}
	candidate := strings.TrimSpace(in.ConversationID)
	if !domainchat.IsDraftID(candidate) {
		return Resolution{ConversationID: candidate}, nil
	}

	sender := strings.TrimSpace(in.SenderID)
	listingID := strings.TrimSpace(in.ListingID)
	recipient := strings.TrimSpace(in.RecipientID)
	if sender == "" {
		return Resolution{}, domainchat.Invalid(op, "senderId is required")
	}
	if listingID == "" || recipient == "" {
		return Resolution{}, domainchat.Invalid(op, "listingId and recipientId are required without conversationId")
	}
	if recipient == sender {
		return Resolution{}, domainchat.Invalid(op, "cannot start a conversation with yourself")
	}

	existing, err := Guarded(ctx, r.Guard, "chat.FindConversation", func(ctx context.Context) (foundConversation, error) {
		conv, ok, err := r.Store.FindConversation(ctx, listingID, sender, recipient)
		return foundConversation{conv: conv, ok: ok}, err
	})
	if err != nil {
		return Resolution{}, err
	}
	if existing.ok {
		return Resolution{ConversationID: existing.conv.ID, ListingID: existing.conv.ListingID}, nil
	}

	now := r.now()
	candidateConv := domainchat.Conversation{
		ID:        r.newID(),
		ListingID: listingID,
		PairKey:   domainchat.PairKey(sender, recipient),
		CreatedAt: now,
		UpdatedAt: now,
	}
	stored, err := Guarded(ctx, r.Guard, "chat.CreateConversation", func(ctx context.Context) (foundConversation, error) {
		conv, created, err := r.Store.CreateConversation(ctx, candidateConv)
		return foundConversation{conv: conv, ok: created}, err
	})
	if err != nil {
		return Resolution{}, err
	}
	if stored.ok && r.Logger != nil {
		r.Logger.Info("conversation created", "conversation_id", stored.conv.ID, "listing_id", listingID)
	}
	if !stored.ok && r.Logger != nil {
		r.Logger.Info("conversation create lost to existing thread", "conversation_id", stored.conv.ID, "listing_id", listingID)
	}
	return Resolution{
		ConversationID: stored.conv.ID,
		ListingID:      stored.conv.ListingID,
		Created:        stored.ok,
	}, nil
}

type foundConversation struct {
	conv domainchat.Conversation
	ok   bool
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Resolver) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return domainchat.NewID()
}
