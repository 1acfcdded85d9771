package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"rentchat/internal/app/commands"
	"rentchat/internal/app/dto"
	chathandlers "rentchat/internal/app/handlers/chat"
	"rentchat/internal/app/queries"
	domainchat "rentchat/internal/domain/chat"
)

// ChatHandler serves the send, sync and debug reset endpoints.
type ChatHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

// Send stores one message. A retried Idempotency-Key replays the first result.
func (h ChatHandler) Send(c *gin.Context) {
	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	cmd := chathandlers.SendMessageCommand{
		SenderID:       req.SenderID,
		Text:           req.Text,
		ConversationID: req.ConversationID,
		ListingID:      req.ListingID,
		RecipientID:    req.RecipientID,
		RequestKey:     c.GetHeader("Idempotency-Key"),
	}
	result, err := commands.Dispatch[chathandlers.SendMessageCommand, dto.SendMessageResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.respondChatError(c, err, "send message", "sender_id", req.SenderID, "conversation_id", req.ConversationID)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Sync returns the caller's inbox snapshot.
func (h ChatHandler) Sync(c *gin.Context) {
	var req dto.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	snapshot, err := queries.Ask[chathandlers.SyncInboxQuery, dto.InboxSnapshot](c.Request.Context(), h.Queries, chathandlers.SyncInboxQuery{UserID: req.UserID})
	if err != nil {
		h.respondChatError(c, err, "sync inbox", "user_id", req.UserID)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h ChatHandler) Reset(c *gin.Context) {
	if _, err := commands.Dispatch[chathandlers.ResetChatCommand, struct{}](c.Request.Context(), h.Commands, chathandlers.ResetChatCommand{}); err != nil {
		h.respondChatError(c, err, "reset chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h ChatHandler) respondChatError(c *gin.Context, err error, action string, attrs ...any) {
	status, message := chatErrorStatus(err)
	if h.Logger != nil {
		args := append([]any{"action", action, "status", status, "error", err}, attrs...)
		if status >= http.StatusInternalServerError {
			h.Logger.Error("chat request failed", args...)
		} else {
			h.Logger.Warn("chat request rejected", args...)
		}
	}
	c.JSON(status, gin.H{"error": message})
}

func chatErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domainchat.ErrInvalidRequest):
		return http.StatusBadRequest, domainchat.Reason(err)
	case errors.Is(err, domainchat.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, "method not allowed"
	case errors.Is(err, domainchat.ErrNotFound):
		return http.StatusNotFound, domainchat.Reason(err)
	case errors.Is(err, domainchat.ErrUpstreamProvider):
		return http.StatusBadGateway, "upstream provider unavailable"
	case errors.Is(err, domainchat.ErrStorageUnavailable):
		return http.StatusInternalServerError, "storage unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
