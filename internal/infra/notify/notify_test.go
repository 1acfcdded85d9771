package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"rentchat/internal/app/policies"
)

func TestRenderNewMessage(t *testing.T) {
	subject, body, err := render(policies.TemplateNewMessage, policies.NewMessageNotice{
		RecipientName: "Bea",
		SenderName:    "Ann",
		Preview:       "is the flat free in May?",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if subject != "Ann sent you a message" {
		t.Fatalf("subject = %q", subject)
	}
	if !strings.HasPrefix(body, "Hi Bea,") || !strings.Contains(body, "is the flat free in May?") {
		t.Fatalf("body = %q", body)
	}
}

func TestRenderTruncatesPreview(t *testing.T) {
	_, body, err := render(policies.TemplateNewMessage, policies.NewMessageNotice{Preview: strings.Repeat("x", 500)})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Count(body, "x") != previewLimit-1 {
		t.Fatalf("preview not truncated: %d runes of x", strings.Count(body, "x"))
	}
}

func TestRenderRejectsUnknownTemplate(t *testing.T) {
	if _, _, err := render("booking.confirmed", nil); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("err = %v, want ErrUnknownTemplate", err)
	}
	if _, _, err := render(policies.TemplateNewMessage, "wrong"); err == nil {
		t.Fatal("expected type error")
	}
}

func TestLogNotifier(t *testing.T) {
	if err := (Log{}).Send(context.Background(), "a@example.com", policies.TemplateNewMessage, policies.NewMessageNotice{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}
