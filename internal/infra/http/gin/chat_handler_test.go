package ginserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	gin "github.com/gin-gonic/gin"

	"rentchat/internal/app/commands"
	"rentchat/internal/app/dto"
	chathandlers "rentchat/internal/app/handlers/chat"
	"rentchat/internal/app/middleware"
	"rentchat/internal/app/queries"
	appchat "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/infra/config"
	"rentchat/internal/infra/obs"
	"rentchat/internal/infra/storage/memory"
)

func newTestRouter(t *testing.T, cfg config.Config, limiter gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memory.NewChatStore(memory.WithoutSchema())
	dir := memory.NewDirectory()
	dir.PutListing(domainchat.ListingSummary{ID: "listing-1", OwnerID: "u2", Title: "Loft", Images: []string{"loft.jpg"}})
	dir.PutProfile(domainchat.Profile{ID: "u1", Name: "Ann", AvatarURL: "ann.png", Email: "ann@example.com"})
	dir.PutProfile(domainchat.Profile{ID: "u2", Name: "Bo"})
	guard := &appchat.SchemaGuard{Provisioner: store}

	cmdBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	chathandlers.Register(cmdBus, queryBus, chathandlers.Deps{
		Dispatcher: &appchat.Dispatcher{Resolver: &appchat.Resolver{Store: store, Guard: guard}, Store: store, Guard: guard},
		Reconciler: &appchat.Reconciler{Store: store, Guard: guard, Directory: dir},
		Store:      store,
		Guard:      guard,
	})
	handler := ChatHandler{
		Commands: middleware.ChainCommands(cmdBus,
			middleware.Validation(middleware.SelfValidator{}),
			middleware.Idempotency(memory.NewIdempotencyStore(), nil, time.Hour),
		),
		Queries: middleware.ChainQueries(queryBus, middleware.QueryValidation(middleware.SelfValidator{})),
	}
	return NewRouter(cfg, obs.Middleware{}, obs.HealthHandlers{}, Handlers{Chat: handler, SendLimiter: limiter})
}

func do(r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func TestSendAndSyncEndpoints(t *testing.T) {
	r := newTestRouter(t, config.Config{}, nil)

	rec := do(r, http.MethodPost, "/api/chat/send", dto.SendMessageRequest{
		ConversationID: "draft", SenderID: "u1", Text: "hi", ListingID: "listing-1", RecipientID: "u2",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("send status = %d body=%s", rec.Code, rec.Body.String())
	}
	sent := decode[dto.SendMessageResult](t, rec)
	if !sent.Success || sent.ConversationID == "" || sent.MessageID == "" {
		t.Fatalf("send result = %+v", sent)
	}

	rec = do(r, http.MethodPost, "/api/chat/sync", dto.SyncRequest{UserID: "u2"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync status = %d body=%s", rec.Code, rec.Body.String())
	}
	type wireConversation struct {
		ID           string                    `json:"id"`
		Listing      *dto.ListingSummary       `json:"listing"`
		Participants map[string]map[string]any `json:"participants"`
		Messages     []map[string]any          `json:"messages"`
	}
	raw := decode[struct {
		Conversations []wireConversation `json:"conversations"`
	}](t, rec)
	if len(raw.Conversations) != 1 {
		t.Fatalf("conversations = %d, want 1", len(raw.Conversations))
	}
	conv := raw.Conversations[0]
	if conv.ID != sent.ConversationID || conv.Listing == nil || conv.Listing.Title != "Loft" {
		t.Fatalf("conversation = %+v", conv)
	}
	if conv.Participants["u1"]["avatarUrl"] != "ann.png" {
		t.Fatalf("participants = %v", conv.Participants)
	}
	if _, leaked := conv.Participants["u1"]["email"]; leaked {
		t.Fatal("email leaked into sync payload")
	}
	msg := conv.Messages[0]
	for _, key := range []string{"id", "senderId", "text", "timestamp"} {
		if _, ok := msg[key]; !ok {
			t.Fatalf("message missing %q: %v", key, msg)
		}
	}
}

func TestChatEndpointErrors(t *testing.T) {
	r := newTestRouter(t, config.Config{}, nil)
	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"get send", http.MethodGet, "/api/chat/send", nil, http.StatusMethodNotAllowed},
		{"put sync", http.MethodPut, "/api/chat/sync", dto.SyncRequest{UserID: "u1"}, http.StatusMethodNotAllowed},
		{"malformed json", http.MethodPost, "/api/chat/send", "{", http.StatusBadRequest},
		{"missing text", http.MethodPost, "/api/chat/send", dto.SendMessageRequest{SenderID: "u1"}, http.StatusBadRequest},
		{"draft without recipient", http.MethodPost, "/api/chat/send", dto.SendMessageRequest{SenderID: "u1", Text: "hi", ListingID: "listing-1"}, http.StatusBadRequest},
		{"unknown conversation", http.MethodPost, "/api/chat/send", dto.SendMessageRequest{SenderID: "u1", Text: "hi", ConversationID: "missing"}, http.StatusNotFound},
		{"missing user", http.MethodPost, "/api/chat/sync", dto.SyncRequest{}, http.StatusBadRequest},
		{"reset disabled", http.MethodPost, "/api/chat/debug/reset", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(r, tc.method, tc.path, tc.body, nil)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
			body := decode[map[string]any](t, rec)
			if msg, _ := body["error"].(string); msg == "" {
				t.Fatalf("body %v has no error message", body)
			}
		})
	}
}

func TestWrongMethodUsesChatErrorBody(t *testing.T) {
	r := newTestRouter(t, config.Config{}, nil)
	rec := do(r, http.MethodDelete, "/api/chat/sync", nil, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if msg := decode[map[string]any](t, rec)["error"]; msg != "method not allowed" {
		t.Fatalf("error = %v", msg)
	}
}

func TestSendIdempotencyHeader(t *testing.T) {
	r := newTestRouter(t, config.Config{}, nil)
	body := dto.SendMessageRequest{SenderID: "u1", Text: "hi", ListingID: "listing-1", RecipientID: "u2"}
	headers := map[string]string{"Idempotency-Key": "tap-1"}
	first := decode[dto.SendMessageResult](t, do(r, http.MethodPost, "/api/chat/send", body, headers))
	second := decode[dto.SendMessageResult](t, do(r, http.MethodPost, "/api/chat/send", body, headers))
	if first != second {
		t.Fatalf("replay = %+v, want %+v", second, first)
	}
	snap := decode[dto.InboxSnapshot](t, do(r, http.MethodPost, "/api/chat/sync", dto.SyncRequest{UserID: "u1"}, nil))
	if n := len(snap.Conversations[0].Messages); n != 1 {
		t.Fatalf("messages = %d, want 1", n)
	}
}

func TestDebugReset(t *testing.T) {
	r := newTestRouter(t, config.Config{DebugResetEnabled: true}, nil)
	body := dto.SendMessageRequest{SenderID: "u1", Text: "hi", ListingID: "listing-1", RecipientID: "u2"}
	if rec := do(r, http.MethodPost, "/api/chat/send", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("send = %d", rec.Code)
	}
	if rec := do(r, http.MethodPost, "/api/chat/debug/reset", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("reset = %d body=%s", rec.Code, rec.Body.String())
	}
	snap := decode[dto.InboxSnapshot](t, do(r, http.MethodPost, "/api/chat/sync", dto.SyncRequest{UserID: "u1"}, nil))
	if len(snap.Conversations) != 0 {
		t.Fatalf("conversations after reset = %d", len(snap.Conversations))
	}
}

func TestSendRateLimit(t *testing.T) {
	limiter := SendRateLimiter(ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{Rate: time.Minute, Limit: 1}))
	r := newTestRouter(t, config.Config{}, limiter)
	body := dto.SendMessageRequest{SenderID: "u1", Text: "hi", ListingID: "listing-1", RecipientID: "u2"}
	if rec := do(r, http.MethodPost, "/api/chat/send", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("first send = %d", rec.Code)
	}
	rec := do(r, http.MethodPost, "/api/chat/send", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second send = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After missing")
	}
}
