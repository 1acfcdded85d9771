package chat

import (
	"context"
	"log/slog"
	"strings"

	appchat "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
)

const (
	resetChatKey          = "chat.debug.reset"
	removeListingChatsKey = "chat.listing.remove"
)

// ResetChatCommand wipes every conversation, link and message.
type ResetChatCommand struct{}

func (ResetChatCommand) Key() string { return resetChatKey }

type ResetChatHandler struct {
	Store  appchat.Store
	Guard  *appchat.SchemaGuard
	Logger *slog.Logger
}

func (h *ResetChatHandler) Handle(ctx context.Context, _ ResetChatCommand) (struct{}, error) {
	err := h.Guard.Do(ctx, "chat.Reset", h.Store.Reset)
	if err != nil {
		return struct{}{}, err
	}
	if h.Logger != nil {
		h.Logger.Warn("chat data reset")
	}
	return struct{}{}, nil
}

// RemoveListingConversationsCommand drops the conversations of a deleted listing.
type RemoveListingConversationsCommand struct {
	ListingID string
}

func (RemoveListingConversationsCommand) Key() string { return removeListingChatsKey }

func (c RemoveListingConversationsCommand) Validate() error {
	if strings.TrimSpace(c.ListingID) == "" {
		return domainchat.Invalid(removeListingChatsKey, "listing id is required")
	}
	return nil
}

type RemoveListingConversationsHandler struct {
	Store  appchat.Store
	Guard  *appchat.SchemaGuard
	Logger *slog.Logger
}

func (h *RemoveListingConversationsHandler) Handle(ctx context.Context, cmd RemoveListingConversationsCommand) (int, error) {
	listingID := strings.TrimSpace(cmd.ListingID)
	removed, err := appchat.Guarded(ctx, h.Guard, "chat.DeleteConversationsByListing", func(ctx context.Context) (int, error) {
		return h.Store.DeleteConversationsByListing(ctx, listingID)
	})
	if err != nil {
		return 0, err
	}
	if h.Logger != nil {
		h.Logger.Info("listing conversations removed", "listing_id", listingID, "count", removed)
	}
	return removed, nil
}
