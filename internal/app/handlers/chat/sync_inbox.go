package chat

import (
	"context"
	"strings"

	"rentchat/internal/app/dto"
	appchat "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
)

const syncInboxKey = "chat.inbox.sync"

type SyncInboxQuery struct {
	UserID string
}

func (q SyncInboxQuery) Key() string { return syncInboxKey }

func (q SyncInboxQuery) Validate() error {
	if strings.TrimSpace(q.UserID) == "" {
		return domainchat.Invalid(syncInboxKey, "userId is required")
	}
	return nil
}

type SyncInboxHandler struct {
	Reconciler *appchat.Reconciler
}

func (h *SyncInboxHandler) Handle(ctx context.Context, q SyncInboxQuery) (dto.InboxSnapshot, error) {
	views, err := h.Reconciler.Sync(ctx, q.UserID)
	if err != nil {
		return dto.InboxSnapshot{}, err
	}
	return dto.MapInbox(views), nil
}
