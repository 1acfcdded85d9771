package chat

import (
	"log/slog"

	"rentchat/internal/app/commands"
	"rentchat/internal/app/dto"
	"rentchat/internal/app/queries"
	appchat "rentchat/internal/app/services/chat"
)

// Deps are the chat core components the handlers delegate to.
type Deps struct {
	Dispatcher *appchat.Dispatcher
	Reconciler *appchat.Reconciler
	Store      appchat.Store
	Guard      *appchat.SchemaGuard
	Logger     *slog.Logger
}

// Register binds every chat command and query to the buses.
func Register(cmdBus *commands.InMemoryBus, queryBus *queries.InMemoryBus, deps Deps) {
	commands.Register[SendMessageCommand, dto.SendMessageResult](cmdBus, sendMessageKey, &SendMessageHandler{
		Dispatcher: deps.Dispatcher,
		Logger:     deps.Logger,
	})
	commands.Register[ResetChatCommand, struct{}](cmdBus, resetChatKey, &ResetChatHandler{
		Store:  deps.Store,
		Guard:  deps.Guard,
		Logger: deps.Logger,
	})
	commands.Register[RemoveListingConversationsCommand, int](cmdBus, removeListingChatsKey, &RemoveListingConversationsHandler{
		Store:  deps.Store,
		Guard:  deps.Guard,
		Logger: deps.Logger,
	})
	queries.Register[SyncInboxQuery, dto.InboxSnapshot](queryBus, syncInboxKey, &SyncInboxHandler{
		Reconciler: deps.Reconciler,
	})
}
