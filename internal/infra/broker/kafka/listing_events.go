package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"rentchat/internal/app/commands"
	chatapp "rentchat/internal/app/handlers/chat"
	"rentchat/internal/domain/listings"
)

// Inbox de-duplicates events by id.
type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// ListingEventsHandler removes the conversations of deleted listings. Other
// listing events are acknowledged and ignored.
type ListingEventsHandler struct {
	Commands commands.Bus
	Inbox    Inbox
	Logger   *slog.Logger
}

type cloudEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (h *ListingEventsHandler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var evt cloudEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		h.log().Warn("skipping undecodable listing event", "offset", msg.Offset, "error", err)
		return nil
	}
	if !listings.IsDeleted(evt.Type) {
		return nil
	}
	var data listings.DeletedEvent
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		h.log().Warn("skipping listing.deleted without data", "event_id", evt.ID, "error", err)
		return nil
	}
	listingID := data.AggregateID()
	if listingID == "" {
		h.log().Warn("skipping listing.deleted without listing id", "event_id", evt.ID)
		return nil
	}

	if h.Inbox != nil && evt.ID != "" {
		seen, err := h.Inbox.Seen(ctx, evt.ID)
		if err != nil {
			return fmt.Errorf("inbox: %w", err)
		}
		if seen {
			return nil
		}
	}
	_, err := commands.Dispatch[chatapp.RemoveListingConversationsCommand, int](ctx, h.Commands, chatapp.RemoveListingConversationsCommand{ListingID: listingID})
	if err != nil {
		if h.Inbox != nil && evt.ID != "" {
			if ferr := h.Inbox.Forget(ctx, evt.ID); ferr != nil {
				h.log().Error("inbox forget failed", "event_id", evt.ID, "error", ferr)
			}
		}
		return err
	}
	return nil
}

func (h *ListingEventsHandler) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
