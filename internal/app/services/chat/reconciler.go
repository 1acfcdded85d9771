package chat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	domainchat "rentchat/internal/domain/chat"
)

// Reconciler builds a user's inbox snapshot. Membership is inferred as well as
// declared: conversations the user authored in or whose listing they own are
// discovered even without a participant row, and the missing row is linked.
type Reconciler struct {
	Store     Store
	Guard     *SchemaGuard
	Directory Directory
	Logger    *slog.Logger
	Metrics   Metrics
}

// Sync discovers, repairs and assembles every conversation visible to userID,
// newest activity first.
func (r *Reconciler) Sync(ctx context.Context, userID string) ([]domainchat.ConversationView, error) {
	const op = "chat.Sync"
	if r == nil || r.Store == nil {
		return nil, domainchat.Unavailable(op, errors.New("store not configured"))
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domainchat.Invalid(op, "userId is required")
	}

	var owned []string
	if r.Directory != nil {
		ids, err := r.Directory.ListingsOwnedBy(ctx, userID)
		if err != nil {
			return nil, domainchat.Upstream("chat.ListingsOwnedBy", err)
		}
		owned = ids
	}

	convs, err := Guarded(ctx, r.Guard, "chat.DiscoverConversations", func(ctx context.Context) ([]domainchat.Conversation, error) {
		return r.Store.DiscoverConversations(ctx, userID, owned)
	})
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		metricsOrNop(r.Metrics).SyncCompleted(0, 0)
		return []domainchat.ConversationView{}, nil
	}
	domainchat.SortInbox(convs)
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}

	members, err := Guarded(ctx, r.Guard, "chat.ParticipantsOf", func(ctx context.Context) (map[string][]string, error) {
		return r.Store.ParticipantsOf(ctx, ids)
	})
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = make(map[string][]string, len(ids))
	}

	repaired := 0
	for _, id := range ids {
		if contains(members[id], userID) {
			continue
		}
		if err := r.Guard.Do(ctx, "chat.LinkParticipant", func(ctx context.Context) error {
			return r.Store.LinkParticipant(ctx, id, userID)
		}); err != nil {
			return nil, err
		}
		members[id] = append(members[id], userID)
		repaired++
	}
	if repaired > 0 && r.Logger != nil {
		r.Logger.Info("participant links repaired", "user_id", userID, "count", repaired)
	}

	messages, err := Guarded(ctx, r.Guard, "chat.MessagesOf", func(ctx context.Context) (map[string][]domainchat.Message, error) {
		return r.Store.MessagesOf(ctx, ids)
	})
	if err != nil {
		return nil, err
	}

	profiles, listings, err := r.lookupDisplay(ctx, convs, members)
	if err != nil {
		return nil, err
	}

	views := make([]domainchat.ConversationView, 0, len(convs))
	for _, conv := range convs {
		view := domainchat.ConversationView{
			Conversation: conv,
			Participants: make(map[string]domainchat.Profile, len(members[conv.ID])),
			Messages:     append([]domainchat.Message(nil), messages[conv.ID]...),
		}
		domainchat.SortMessages(view.Messages)
		for _, uid := range members[conv.ID] {
			profile, ok := profiles[uid]
			if !ok {
				profile = domainchat.Profile{ID: uid}
			}
			profile.Email = ""
			view.Participants[uid] = profile
		}
		if summary, ok := listings[conv.ListingID]; ok && conv.HasListing() {
			s := summary
			view.Listing = &s
		}
		views = append(views, view)
	}
	metricsOrNop(r.Metrics).SyncCompleted(len(views), repaired)
	return views, nil
}

func (r *Reconciler) lookupDisplay(ctx context.Context, convs []domainchat.Conversation, members map[string][]string) (map[string]domainchat.Profile, map[string]domainchat.ListingSummary, error) {
	if r.Directory == nil {
		return nil, nil, nil
	}
	userSet := make(map[string]struct{})
	listingSet := make(map[string]struct{})
	for _, c := range convs {
		for _, uid := range members[c.ID] {
			userSet[uid] = struct{}{}
		}
		if c.HasListing() {
			listingSet[c.ListingID] = struct{}{}
		}
	}
	profiles, err := r.Directory.Profiles(ctx, keys(userSet))
	if err != nil {
		return nil, nil, domainchat.Upstream("chat.Profiles", err)
	}
	listings, err := r.Directory.Listings(ctx, keys(listingSet))
	if err != nil {
		return nil, nil, domainchat.Upstream("chat.Listings", err)
	}
	return profiles, listings, nil
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
