package chatclient

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"rentchat/internal/app/dto"
	domainchat "rentchat/internal/domain/chat"
)

const (
	// DefaultMatchWindow bounds content matching of sends whose acknowledgment was lost.
	DefaultMatchWindow = 5 * time.Second
	// clockSkew is how far a server timestamp may precede the local enqueue time.
	clockSkew = time.Second
)

// Pending is a message sent but not yet seen in a server snapshot.
type Pending struct {
	TempID         string
	ConversationID string
	ListingID      string
	RecipientID    string
	SenderID       string
	Text           string
	CreatedAt      time.Time

	// Set by Acknowledge.
	AckedMessageID      string
	AckedConversationID string
	AckedAt             time.Time

	// AckLost is set when the send failed in transport, so the server may
	// hold the message without the client knowing its id.
	AckLost bool
}

// Acknowledged reports whether the server confirmed the send.
func (p Pending) Acknowledged() bool {
	return p.AckedMessageID != ""
}

// TargetConversation is the conversation the entry belongs to, or "" for a draft
// the server has not resolved yet.
func (p Pending) TargetConversation() string {
	if p.AckedConversationID != "" {
		return p.AckedConversationID
	}
	if domainchat.IsDraftID(p.ConversationID) {
		return ""
	}
	return p.ConversationID
}

// DraftKey groups unresolved drafts by listing and counterpart.
func (p Pending) DraftKey() string {
	return domainchat.DraftConversationID + ":" + p.ListingID + ":" + p.RecipientID
}

// Outbox holds unconfirmed sends in enqueue order. It is safe for concurrent use.
type Outbox struct {
	mu      sync.Mutex
	entries []Pending
	window  time.Duration
	now     func() time.Time
}

func NewOutbox(window time.Duration) *Outbox {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	return &Outbox{window: window, now: time.Now}
}

// Enqueue records a send before it reaches the server.
func (o *Outbox) Enqueue(req dto.SendMessageRequest) Pending {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := Pending{
		TempID:         "tmp-" + uuid.NewString(),
		ConversationID: req.ConversationID,
		ListingID:      req.ListingID,
		RecipientID:    req.RecipientID,
		SenderID:       req.SenderID,
		Text:           req.Text,
		CreatedAt:      o.now().UTC(),
	}
	o.entries = append(o.entries, p)
	return p
}

// Acknowledge attaches the server-issued ids to tempID.
func (o *Outbox) Acknowledge(tempID string, res dto.SendMessageResult) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.entries {
		if o.entries[i].TempID == tempID {
			o.entries[i].AckedMessageID = res.MessageID
			o.entries[i].AckedConversationID = res.ConversationID
			o.entries[i].AckedAt = o.now().UTC()
			return true
		}
	}
	return false
}

// MarkAckLost flags tempID as possibly stored by the server.
func (o *Outbox) MarkAckLost(tempID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.entries {
		if o.entries[i].TempID == tempID {
			o.entries[i].AckLost = true
			return true
		}
	}
	return false
}

// Fail drops a send the server rejected.
func (o *Outbox) Fail(tempID string) (Pending, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, p := range o.entries {
		if p.TempID == tempID {
			o.entries = append(o.entries[:i], o.entries[i+1:]...)
			return p, true
		}
	}
	return Pending{}, false
}

// Entries returns a copy of the outstanding sends.
func (o *Outbox) Entries() []Pending {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Pending(nil), o.entries...)
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// Reconcile removes entries the snapshot confirms and returns them. An entry
// goes when its acknowledged id is in the snapshot, when it was acknowledged
// no later than forcedRefreshAt (zero for a regular poll), or, if its
// acknowledgment was lost, when an unclaimed server message by the same sender
// with the same text was stored no earlier than the enqueue time (less clock
// skew) and within the match window after it. In-flight sends are never
// content matched. Each server message confirms at most one entry.
func (o *Outbox) Reconcile(snap dto.InboxSnapshot, forcedRefreshAt time.Time) []Pending {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.entries) == 0 {
		return nil
	}

	type located struct {
		conversationID string
		msg            dto.ChatMessage
	}
	byID := make(map[string]located)
	var all []located
	for _, conv := range snap.Conversations {
		for _, m := range conv.Messages {
			l := located{conversationID: conv.ID, msg: m}
			byID[m.ID] = l
			all = append(all, l)
		}
	}

	claimed := make(map[string]bool)
	confirmed := make([]bool, len(o.entries))

	for i, p := range o.entries {
		if !p.Acknowledged() {
			continue
		}
		if _, ok := byID[p.AckedMessageID]; ok {
			claimed[p.AckedMessageID] = true
			confirmed[i] = true
			continue
		}
		if !forcedRefreshAt.IsZero() && !p.AckedAt.After(forcedRefreshAt) {
			confirmed[i] = true
		}
	}

	for i, p := range o.entries {
		if confirmed[i] || p.Acknowledged() || !p.AckLost {
			continue
		}
		earliest := p.CreatedAt.Add(-clockSkew)
		latest := p.CreatedAt.Add(o.window)
		target := p.TargetConversation()
		for _, l := range all {
			if claimed[l.msg.ID] {
				continue
			}
			if target != "" && l.conversationID != target {
				continue
			}
			if l.msg.SenderID != p.SenderID || l.msg.Text != p.Text {
				continue
			}
			if l.msg.Timestamp.Before(earliest) || l.msg.Timestamp.After(latest) {
				continue
			}
			claimed[l.msg.ID] = true
			confirmed[i] = true
			break
		}
	}

	var removed []Pending
	kept := o.entries[:0]
	for i, p := range o.entries {
		if confirmed[i] {
			removed = append(removed, p)
			continue
		}
		kept = append(kept, p)
	}
	o.entries = kept
	return removed
}
