package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rentchat/internal/app/policies"
	appchat "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/infra/storage/memory"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	store      *memory.ChatStore
	directory  *memory.Directory
	outbox     *memory.Outbox
	dispatcher *appchat.Dispatcher
	reconciler *appchat.Reconciler
}

func newFixture(t *testing.T, store appchat.Store, provisioner appchat.SchemaProvisioner) fixture {
	t.Helper()
	mem, _ := store.(*memory.ChatStore)
	dir := memory.NewDirectory()
	dir.PutListing(domainchat.ListingSummary{ID: "listing-1", OwnerID: "u2", Title: "Loft by the river", Images: []string{"loft.jpg"}})
	dir.PutProfile(domainchat.Profile{ID: "u1", Name: "Ann", Email: "ann@example.com"})
	dir.PutProfile(domainchat.Profile{ID: "u2", Name: "Bo", Email: "bo@example.com"})

	clock := newStepClock()
	guard := &appchat.SchemaGuard{Provisioner: provisioner}
	box := memory.NewOutbox()
	return fixture{
		store:     mem,
		directory: dir,
		outbox:    box,
		dispatcher: &appchat.Dispatcher{
			Resolver:  &appchat.Resolver{Store: store, Guard: guard, Now: clock.Now},
			Store:     store,
			Guard:     guard,
			Directory: dir,
			Outbox:    box,
			Now:       clock.Now,
		},
		reconciler: &appchat.Reconciler{Store: store, Guard: guard, Directory: dir},
	}
}

func newMemoryFixture(t *testing.T, opts ...memory.ChatStoreOption) fixture {
	store := memory.NewChatStore(opts...)
	return newFixture(t, store, store)
}

func firstContact(text string) appchat.SendInput {
	return appchat.SendInput{SenderID: "u1", Text: text, ConversationID: "draft", ListingID: "listing-1", RecipientID: "u2"}
}

func TestSendFirstContactScenario(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)

	res, err := f.dispatcher.Send(ctx, firstContact("hi"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ConversationID == "" || res.MessageID == "" {
		t.Fatalf("empty ids in %+v", res)
	}
	if !res.Created {
		t.Fatal("first contact should create the conversation")
	}

	views, err := f.reconciler.Sync(ctx, "u2")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("u2 sees %d conversations, want 1", len(views))
	}
	view := views[0]
	if view.Conversation.ID != res.ConversationID {
		t.Fatalf("conversation id = %s, want %s", view.Conversation.ID, res.ConversationID)
	}
	if len(view.Messages) != 1 || view.Messages[0].Content != "hi" || view.Messages[0].SenderID != "u1" {
		t.Fatalf("messages = %+v", view.Messages)
	}
	if len(view.Participants) != 2 {
		t.Fatalf("participants = %v, want u1 and u2", view.Participants)
	}
	if view.Participants["u1"].Name != "Ann" || view.Participants["u1"].Email != "" {
		t.Fatalf("u1 profile = %+v, want name without email", view.Participants["u1"])
	}
	if view.Listing == nil || view.Listing.Title != "Loft by the river" {
		t.Fatalf("listing = %+v", view.Listing)
	}
}

func TestSendReusesConversation(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)

	first, err := f.dispatcher.Send(ctx, firstContact("hi"))
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	again, err := f.dispatcher.Send(ctx, firstContact("still there?"))
	if err != nil {
		t.Fatalf("second draft send: %v", err)
	}
	if again.ConversationID != first.ConversationID || again.Created {
		t.Fatalf("draft send opened %s (created=%v), want reuse of %s", again.ConversationID, again.Created, first.ConversationID)
	}
	reply, err := f.dispatcher.Send(ctx, appchat.SendInput{SenderID: "u2", Text: "yes", ConversationID: first.ConversationID})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.ConversationID != first.ConversationID {
		t.Fatalf("reply went to %s", reply.ConversationID)
	}

	views, err := f.reconciler.Sync(ctx, "u1")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("conversation count = %d, want 1", len(views))
	}
	if got := len(views[0].Messages); got != 3 {
		t.Fatalf("message count = %d, want 3", got)
	}
}

func TestSendValidation(t *testing.T) {
	f := newMemoryFixture(t)
	cases := []struct {
		name string
		in   appchat.SendInput
	}{
		{"blank sender", appchat.SendInput{Text: "hi", ConversationID: "c1"}},
		{"blank text", appchat.SendInput{SenderID: "u1", Text: "   ", ConversationID: "c1"}},
		{"draft without listing", appchat.SendInput{SenderID: "u1", Text: "hi", RecipientID: "u2"}},
		{"draft without recipient", appchat.SendInput{SenderID: "u1", Text: "hi", ListingID: "listing-1", ConversationID: "new"}},
		{"self chat", appchat.SendInput{SenderID: "u1", Text: "hi", ListingID: "listing-1", RecipientID: "u1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.dispatcher.Send(context.Background(), tc.in)
			if !errors.Is(err, domainchat.ErrInvalidRequest) {
				t.Fatalf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestSendUnknownConversation(t *testing.T) {
	f := newMemoryFixture(t)
	_, err := f.dispatcher.Send(context.Background(), appchat.SendInput{SenderID: "u1", Text: "hi", ConversationID: "nope"})
	if !errors.Is(err, domainchat.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSendColdStartProvisionsSchema(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t, memory.WithoutSchema())

	res, err := f.dispatcher.Send(ctx, firstContact("hi"))
	if err != nil {
		t.Fatalf("send on empty store: %v", err)
	}
	if f.store.Provisions() != 1 {
		t.Fatalf("provisions = %d, want 1", f.store.Provisions())
	}
	views, err := f.reconciler.Sync(ctx, "u1")
	if err != nil || len(views) != 1 || views[0].Conversation.ID != res.ConversationID {
		t.Fatalf("sync after cold start = %v, %v", views, err)
	}
}

func TestSyncColdStartReturnsEmptyInbox(t *testing.T) {
	f := newMemoryFixture(t, memory.WithoutSchema())
	views, err := f.reconciler.Sync(context.Background(), "u1")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if views == nil || len(views) != 0 {
		t.Fatalf("views = %#v, want empty non-nil slice", views)
	}
}

func TestSyncRepairsAuthoredConversation(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	if _, _, err := f.store.CreateConversation(ctx, domainchat.Conversation{ID: "orphan", ListingID: "listing-9", CreatedAt: at, UpdatedAt: at}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.AppendMessage(ctx, domainchat.Message{ID: "m1", ConversationID: "orphan", SenderID: "u1", Content: "hello", CreatedAt: at}); err != nil {
		t.Fatal(err)
	}

	views, err := f.reconciler.Sync(ctx, "u1")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(views) != 1 || views[0].Conversation.ID != "orphan" {
		t.Fatalf("views = %+v, want the authored conversation", views)
	}
	if views[0].Listing != nil {
		t.Fatalf("listing = %+v, want nil for an unknown listing", views[0].Listing)
	}
	members, _ := f.store.ParticipantsOf(ctx, []string{"orphan"})
	if len(members["orphan"]) != 1 || members["orphan"][0] != "u1" {
		t.Fatalf("participants after sync = %v, want [u1]", members["orphan"])
	}
}

func TestSyncDiscoversOwnedListing(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	if _, _, err := f.store.CreateConversation(ctx, domainchat.Conversation{ID: "c-owned", ListingID: "listing-1", CreatedAt: at}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.LinkParticipant(ctx, "c-owned", "u1"); err != nil {
		t.Fatal(err)
	}

	views, err := f.reconciler.Sync(ctx, "u2")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("owner sees %d conversations, want 1", len(views))
	}
	if _, ok := views[0].Participants["u2"]; !ok {
		t.Fatalf("owner not linked: %v", views[0].Participants)
	}
}

func TestSyncKeepsAppendOnlyOrder(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)
	res, err := f.dispatcher.Send(ctx, firstContact("m0"))
	if err != nil {
		t.Fatal(err)
	}
	var previous []domainchat.Message
	for i := 1; i <= 4; i++ {
		sender := "u1"
		if i%2 == 0 {
			sender = "u2"
		}
		if _, err := f.dispatcher.Send(ctx, appchat.SendInput{SenderID: sender, Text: fmt.Sprintf("m%d", i), ConversationID: res.ConversationID}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		views, err := f.reconciler.Sync(ctx, "u1")
		if err != nil {
			t.Fatalf("sync %d: %v", i, err)
		}
		current := views[0].Messages
		if len(current) != i+1 {
			t.Fatalf("sync %d: %d messages, want %d", i, len(current), i+1)
		}
		for j, m := range previous {
			if current[j].ID != m.ID {
				t.Fatalf("sync %d: message %d changed from %s to %s", i, j, m.ID, current[j].ID)
			}
		}
		for j := 1; j < len(current); j++ {
			if current[j].CreatedAt.Before(current[j-1].CreatedAt) {
				t.Fatalf("sync %d: messages out of order at %d", i, j)
			}
		}
		previous = current
	}
}

func TestSyncInboxOrder(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)
	f.directory.PutListing(domainchat.ListingSummary{ID: "listing-2", OwnerID: "u3"})

	older, err := f.dispatcher.Send(ctx, firstContact("first thread"))
	if err != nil {
		t.Fatal(err)
	}
	newer, err := f.dispatcher.Send(ctx, appchat.SendInput{SenderID: "u1", Text: "second thread", ListingID: "listing-2", RecipientID: "u3"})
	if err != nil {
		t.Fatal(err)
	}
	views, _ := f.reconciler.Sync(ctx, "u1")
	if len(views) != 2 || views[0].Conversation.ID != newer.ConversationID {
		t.Fatalf("inbox head = %v, want %s", views, newer.ConversationID)
	}

	if _, err := f.dispatcher.Send(ctx, appchat.SendInput{SenderID: "u2", Text: "bump", ConversationID: older.ConversationID}); err != nil {
		t.Fatal(err)
	}
	views, _ = f.reconciler.Sync(ctx, "u1")
	if views[0].Conversation.ID != older.ConversationID {
		t.Fatalf("inbox head after reply = %s, want %s", views[0].Conversation.ID, older.ConversationID)
	}
}

func TestSyncRequiresUser(t *testing.T) {
	f := newMemoryFixture(t)
	if _, err := f.reconciler.Sync(context.Background(), " "); !errors.Is(err, domainchat.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

type failingDirectory struct{ *memory.Directory }

func (failingDirectory) ListingsOwnedBy(context.Context, string) ([]string, error) {
	return nil, errors.New("directory down")
}

func TestSyncDirectoryFailureIsUpstream(t *testing.T) {
	f := newMemoryFixture(t)
	f.reconciler.Directory = failingDirectory{f.directory}
	if _, err := f.reconciler.Sync(context.Background(), "u1"); !errors.Is(err, domainchat.ErrUpstreamProvider) {
		t.Fatalf("err = %v, want ErrUpstreamProvider", err)
	}
}

type touchFailingStore struct{ *memory.ChatStore }

func (touchFailingStore) TouchConversation(context.Context, string, time.Time) error {
	return errors.New("write timeout")
}

func TestSendSurvivesActivityBumpFailure(t *testing.T) {
	store := memory.NewChatStore()
	f := newFixture(t, touchFailingStore{store}, store)
	res, err := f.dispatcher.Send(context.Background(), firstContact("hi"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs, _ := store.MessagesOf(context.Background(), []string{res.ConversationID})
	if len(msgs[res.ConversationID]) != 1 {
		t.Fatalf("stored %d messages, want 1", len(msgs[res.ConversationID]))
	}
}

func TestSendRecordsEvents(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)
	res, err := f.dispatcher.Send(ctx, firstContact("hi"))
	if err != nil {
		t.Fatal(err)
	}
	pending := f.outbox.Pending()
	if len(pending) != 2 {
		t.Fatalf("recorded %d events, want 2", len(pending))
	}
	if pending[0].Name != "chat.conversation_created" || pending[1].Name != "chat.message_sent" {
		t.Fatalf("event names = %s, %s", pending[0].Name, pending[1].Name)
	}
	if pending[1].Aggregate != res.ConversationID {
		t.Fatalf("aggregate = %s, want %s", pending[1].Aggregate, res.ConversationID)
	}
}

type notifyCall struct {
	to       string
	template string
	data     policies.NewMessageNotice
}

type recordingNotifier struct {
	calls chan notifyCall
	err   error
}

func (n *recordingNotifier) Send(_ context.Context, to, template string, data any) error {
	notice, _ := data.(policies.NewMessageNotice)
	n.calls <- notifyCall{to: to, template: template, data: notice}
	return n.err
}

func TestSendNotifiesRecipient(t *testing.T) {
	f := newMemoryFixture(t)
	notifier := &recordingNotifier{calls: make(chan notifyCall, 1), err: errors.New("provider down")}
	f.dispatcher.Notifier = notifier

	res, err := f.dispatcher.Send(context.Background(), firstContact("hi there"))
	if err != nil {
		t.Fatalf("send must not fail on notifier errors: %v", err)
	}
	select {
	case call := <-notifier.calls:
		if call.to != "bo@example.com" || call.template != policies.TemplateNewMessage {
			t.Fatalf("notified %q with %q", call.to, call.template)
		}
		if call.data.SenderName != "Ann" || call.data.ConversationID != res.ConversationID || call.data.Preview != "hi there" {
			t.Fatalf("notice = %+v", call.data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("recipient was not notified")
	}
}

func TestConcurrentFirstContactConverges(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)
	const senders = 8
	ids := make(chan string, senders)
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := firstContact(fmt.Sprintf("hello %d", i))
			if i%2 == 1 {
				in = appchat.SendInput{SenderID: "u2", Text: in.Text, ListingID: "listing-1", RecipientID: "u1"}
			}
			res, err := f.dispatcher.Send(ctx, in)
			if err != nil {
				t.Errorf("send %d: %v", i, err)
				return
			}
			ids <- res.ConversationID
		}(i)
	}
	wg.Wait()
	close(ids)
	var first string
	for id := range ids {
		if first == "" {
			first = id
		}
		if id != first {
			t.Fatalf("concurrent sends split across %s and %s", first, id)
		}
	}
}
