package chat_test

import (
	"context"
	"errors"
	"testing"

	"rentchat/internal/app/commands"
	"rentchat/internal/app/dto"
	chathandlers "rentchat/internal/app/handlers/chat"
	"rentchat/internal/app/middleware"
	"rentchat/internal/app/queries"
	appchat "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/infra/storage/memory"
)

type buses struct {
	commands commands.Bus
	queries  queries.Bus
	store    *memory.ChatStore
	outbox   *memory.Outbox
}

func newBuses(t *testing.T) buses {
	t.Helper()
	store := memory.NewChatStore()
	dir := memory.NewDirectory()
	dir.PutListing(domainchat.ListingSummary{ID: "listing-1", OwnerID: "u2", Title: "Loft"})
	guard := &appchat.SchemaGuard{Provisioner: store}
	box := memory.NewOutbox()

	cmdBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	chathandlers.Register(cmdBus, queryBus, chathandlers.Deps{
		Dispatcher: &appchat.Dispatcher{
			Resolver: &appchat.Resolver{Store: store, Guard: guard},
			Store:    store,
			Guard:    guard,
			Outbox:   box,
		},
		Reconciler: &appchat.Reconciler{Store: store, Guard: guard, Directory: dir},
		Store:      store,
		Guard:      guard,
	})
	return buses{
		commands: middleware.ChainCommands(cmdBus,
			middleware.Validation(middleware.SelfValidator{}),
			middleware.Idempotency(memory.NewIdempotencyStore(), nil, 0),
			middleware.OutboxFlush(box, nil),
		),
		queries: middleware.ChainQueries(queryBus, middleware.QueryValidation(middleware.SelfValidator{})),
		store:   store,
		outbox:  box,
	}
}

func send(ctx context.Context, b buses, cmd chathandlers.SendMessageCommand) (dto.SendMessageResult, error) {
	return commands.Dispatch[chathandlers.SendMessageCommand, dto.SendMessageResult](ctx, b.commands, cmd)
}

func TestSendMessageThroughBus(t *testing.T) {
	ctx := context.Background()
	b := newBuses(t)
	res, err := send(ctx, b, chathandlers.SendMessageCommand{SenderID: "u1", Text: "hi", ListingID: "listing-1", RecipientID: "u2"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Success || res.ConversationID == "" || res.MessageID == "" {
		t.Fatalf("result = %+v", res)
	}
	if n := len(b.outbox.Pending()); n != 0 {
		t.Fatalf("%d events left after flush, want 0", n)
	}

	snap, err := queries.Ask[chathandlers.SyncInboxQuery, dto.InboxSnapshot](ctx, b.queries, chathandlers.SyncInboxQuery{UserID: "u2"})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(snap.Conversations) != 1 || snap.Conversations[0].ID != res.ConversationID {
		t.Fatalf("snapshot = %+v", snap)
	}
	msgs := snap.Conversations[0].Messages
	if len(msgs) != 1 || msgs[0].Text != "hi" || msgs[0].SenderID != "u1" {
		t.Fatalf("messages = %+v", msgs)
	}
	if snap.Conversations[0].Listing == nil || snap.Conversations[0].Listing.Images == nil {
		t.Fatalf("listing = %+v, want summary with non-nil images", snap.Conversations[0].Listing)
	}
}

func TestSendMessageIdempotencyKeyReplays(t *testing.T) {
	ctx := context.Background()
	b := newBuses(t)
	cmd := chathandlers.SendMessageCommand{SenderID: "u1", Text: "hi", ListingID: "listing-1", RecipientID: "u2", RequestKey: "retry-1"}
	first, err := send(ctx, b, cmd)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := send(ctx, b, cmd)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if second != first {
		t.Fatalf("retry returned %+v, want %+v", second, first)
	}
	msgs, _ := b.store.MessagesOf(ctx, []string{first.ConversationID})
	if len(msgs[first.ConversationID]) != 1 {
		t.Fatalf("stored %d messages, want 1", len(msgs[first.ConversationID]))
	}

	other := cmd
	other.SenderID = "u2"
	other.RecipientID = "u1"
	if _, err := send(ctx, b, other); err != nil {
		t.Fatalf("same key from another sender: %v", err)
	}
	msgs, _ = b.store.MessagesOf(ctx, []string{first.ConversationID})
	if len(msgs[first.ConversationID]) != 2 {
		t.Fatalf("keys must be scoped per sender: %d messages", len(msgs[first.ConversationID]))
	}
}

func TestSendMessageValidation(t *testing.T) {
	b := newBuses(t)
	_, err := send(context.Background(), b, chathandlers.SendMessageCommand{SenderID: "u1"})
	if !errors.Is(err, domainchat.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	_, err = queries.Ask[chathandlers.SyncInboxQuery, dto.InboxSnapshot](context.Background(), b.queries, chathandlers.SyncInboxQuery{})
	if !errors.Is(err, domainchat.ErrInvalidRequest) {
		t.Fatalf("sync err = %v, want ErrInvalidRequest", err)
	}
}

func TestRemoveListingConversations(t *testing.T) {
	ctx := context.Background()
	b := newBuses(t)
	if _, err := send(ctx, b, chathandlers.SendMessageCommand{SenderID: "u1", Text: "hi", ListingID: "listing-1", RecipientID: "u2"}); err != nil {
		t.Fatal(err)
	}
	removed, err := commands.Dispatch[chathandlers.RemoveListingConversationsCommand, int](ctx, b.commands, chathandlers.RemoveListingConversationsCommand{ListingID: "listing-1"})
	if err != nil || removed != 1 {
		t.Fatalf("removed %d, %v; want 1, nil", removed, err)
	}
	snap, _ := queries.Ask[chathandlers.SyncInboxQuery, dto.InboxSnapshot](ctx, b.queries, chathandlers.SyncInboxQuery{UserID: "u1"})
	if len(snap.Conversations) != 0 {
		t.Fatalf("inbox still has %d conversations", len(snap.Conversations))
	}
}

func TestResetChat(t *testing.T) {
	ctx := context.Background()
	b := newBuses(t)
	if _, err := send(ctx, b, chathandlers.SendMessageCommand{SenderID: "u1", Text: "hi", ListingID: "listing-1", RecipientID: "u2"}); err != nil {
		t.Fatal(err)
	}
	if _, err := commands.Dispatch[chathandlers.ResetChatCommand, struct{}](ctx, b.commands, chathandlers.ResetChatCommand{}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	snap, _ := queries.Ask[chathandlers.SyncInboxQuery, dto.InboxSnapshot](ctx, b.queries, chathandlers.SyncInboxQuery{UserID: "u1"})
	if len(snap.Conversations) != 0 {
		t.Fatalf("inbox after reset has %d conversations", len(snap.Conversations))
	}
}
