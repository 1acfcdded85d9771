package chatclient

import (
	"sort"
	"time"

	"rentchat/internal/app/dto"
)

// View is one inbox entry as the user sees it: server state with local sends on top.
type View struct {
	ID           string
	Draft        bool
	Listing      *dto.ListingSummary
	ListingID    string
	Participants map[string]dto.Participant
	Messages     []ViewMessage
	LastActivity time.Time
}

type ViewMessage struct {
	ID        string
	SenderID  string
	Text      string
	Timestamp time.Time
	// Pending is set for sends not yet in a snapshot.
	Pending bool
}

// Merge overlays the pending entries that target conv on its server messages.
// Server messages keep their order; pending ones follow in enqueue order.
func Merge(conv dto.Conversation, pending []Pending) []ViewMessage {
	out := make([]ViewMessage, 0, len(conv.Messages)+len(pending))
	seen := make(map[string]bool, len(conv.Messages))
	for _, m := range conv.Messages {
		seen[m.ID] = true
		out = append(out, ViewMessage{ID: m.ID, SenderID: m.SenderID, Text: m.Text, Timestamp: m.Timestamp})
	}
	for _, p := range pending {
		if p.TargetConversation() != conv.ID {
			continue
		}
		if p.Acknowledged() && seen[p.AckedMessageID] {
			continue
		}
		out = append(out, pendingMessage(p))
	}
	return out
}

func pendingMessage(p Pending) ViewMessage {
	id := p.TempID
	if p.AckedMessageID != "" {
		id = p.AckedMessageID
	}
	return ViewMessage{ID: id, SenderID: p.SenderID, Text: p.Text, Timestamp: p.CreatedAt, Pending: true}
}

// Inbox merges pending sends into every snapshot conversation and adds draft
// entries for sends whose conversation the server has not reported yet. The
// result is ordered by last activity, newest first, then by id.
func Inbox(snap dto.InboxSnapshot, pending []Pending) []View {
	views := make([]View, 0, len(snap.Conversations))
	known := make(map[string]bool, len(snap.Conversations))
	for _, conv := range snap.Conversations {
		known[conv.ID] = true
		v := View{
			ID:           conv.ID,
			Listing:      conv.Listing,
			Participants: conv.Participants,
			Messages:     Merge(conv, pending),
			LastActivity: conv.UpdatedAt,
		}
		if conv.Listing != nil {
			v.ListingID = conv.Listing.ID
		}
		views = append(views, withActivity(v))
	}

	drafts := make(map[string]int)
	for _, p := range pending {
		target := p.TargetConversation()
		if target != "" && known[target] {
			continue
		}
		key := target
		if key == "" {
			key = p.DraftKey()
		}
		idx, ok := drafts[key]
		if !ok {
			idx = len(views)
			drafts[key] = idx
			views = append(views, View{
				ID:        key,
				Draft:     target == "",
				ListingID: p.ListingID,
				Participants: map[string]dto.Participant{
					p.SenderID: {ID: p.SenderID},
				},
			})
			if p.RecipientID != "" {
				views[idx].Participants[p.RecipientID] = dto.Participant{ID: p.RecipientID}
			}
		}
		views[idx].Messages = append(views[idx].Messages, pendingMessage(p))
		views[idx] = withActivity(views[idx])
	}

	sort.SliceStable(views, func(i, j int) bool {
		if !views[i].LastActivity.Equal(views[j].LastActivity) {
			return views[i].LastActivity.After(views[j].LastActivity)
		}
		return views[i].ID < views[j].ID
	})
	return views
}

func withActivity(v View) View {
	for _, m := range v.Messages {
		if m.Timestamp.After(v.LastActivity) {
			v.LastActivity = m.Timestamp
		}
	}
	return v
}
