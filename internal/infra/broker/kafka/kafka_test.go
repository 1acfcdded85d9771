package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"

	"rentchat/internal/app/commands"
	chatapp "rentchat/internal/app/handlers/chat"
)

type recordingBus struct {
	cmds []commands.Command
	err  error
}

func (b *recordingBus) Dispatch(_ context.Context, cmd commands.Command) (any, error) {
	b.cmds = append(b.cmds, cmd)
	if b.err != nil {
		return nil, b.err
	}
	return 2, nil
}

type memoryInbox struct {
	seen      map[string]bool
	forgotten []string
}

func (i *memoryInbox) Seen(_ context.Context, id string) (bool, error) {
	if i.seen == nil {
		i.seen = map[string]bool{}
	}
	if i.seen[id] {
		return true, nil
	}
	i.seen[id] = true
	return false, nil
}

func (i *memoryInbox) Forget(_ context.Context, id string) error {
	delete(i.seen, id)
	i.forgotten = append(i.forgotten, id)
	return nil
}

func message(body string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "listings.events", Value: []byte(body)}
}

func TestListingDeletedRemovesConversationsOnce(t *testing.T) {
	bus := &recordingBus{}
	inbox := &memoryInbox{}
	h := &ListingEventsHandler{Commands: bus, Inbox: inbox}
	body := `{"id":"ev-1","type":"listing.deleted.v1","data":{"listing_id":"listing-1"}}`

	for i := 0; i < 2; i++ {
		if err := h.Handle(context.Background(), message(body)); err != nil {
			t.Fatalf("Handle #%d: %v", i, err)
		}
	}
	if len(bus.cmds) != 1 {
		t.Fatalf("dispatched %d commands, want 1", len(bus.cmds))
	}
	cmd, ok := bus.cmds[0].(chatapp.RemoveListingConversationsCommand)
	if !ok || cmd.ListingID != "listing-1" {
		t.Fatalf("command = %#v", bus.cmds[0])
	}
}

func TestListingEventsIgnoresOtherTypesAndJunk(t *testing.T) {
	bus := &recordingBus{}
	h := &ListingEventsHandler{Commands: bus}
	for _, body := range []string{
		`{"id":"ev-2","type":"listing.updated.v1","data":{"listing_id":"listing-1"}}`,
		`not json`,
		`{"id":"ev-3","type":"listing.deleted","data":{}}`,
	} {
		if err := h.Handle(context.Background(), message(body)); err != nil {
			t.Fatalf("Handle(%s): %v", body, err)
		}
	}
	if len(bus.cmds) != 0 {
		t.Fatalf("dispatched %d commands, want 0", len(bus.cmds))
	}
}

func TestListingDeletedFailureIsRetryable(t *testing.T) {
	bus := &recordingBus{err: errors.New("store down")}
	inbox := &memoryInbox{}
	h := &ListingEventsHandler{Commands: bus, Inbox: inbox}
	body := `{"id":"ev-4","type":"listing.deleted","data":{"id":"listing-9"}}`

	if err := h.Handle(context.Background(), message(body)); err == nil {
		t.Fatal("expected dispatch error")
	}
	if len(inbox.forgotten) != 1 || inbox.forgotten[0] != "ev-4" {
		t.Fatalf("forgotten = %v, want [ev-4]", inbox.forgotten)
	}

	bus.err = nil
	if err := h.Handle(context.Background(), message(body)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(bus.cmds) != 2 {
		t.Fatalf("dispatched %d commands, want 2", len(bus.cmds))
	}
}

func TestNewMessageCopiesHeaders(t *testing.T) {
	msg := newMessage("chat.events.v1", "conv-1", []byte(`{}`), map[string]string{"x-request-id": "r1"})
	if msg.Topic != "chat.events.v1" || len(msg.Headers) != 1 {
		t.Fatalf("message = %+v", msg)
	}
	if string(msg.Headers[0].Key) != "x-request-id" || string(msg.Headers[0].Value) != "r1" {
		t.Fatalf("header = %+v", msg.Headers[0])
	}
}
