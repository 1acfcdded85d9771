package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	appchat "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
)

// ErrRelationMissing is returned by a ChatStore whose schema has not been provisioned.
var ErrRelationMissing = fmt.Errorf("memory: relation does not exist: %w", domainchat.ErrSchemaMissing)

// ChatStore keeps conversations, participant links and messages in memory. It
// enforces the same keys as the SQL schema: one conversation per
// (listing, pair key) and one link per (conversation, user).
type ChatStore struct {
	mu          sync.RWMutex
	provisioned bool
	provisions  int

	conversations map[string]domainchat.Conversation
	byPair        map[string]string
	participants  map[string]map[string]struct{}
	messages      map[string][]domainchat.Message
}

type ChatStoreOption func(*ChatStore)

// WithoutSchema starts the store unprovisioned: every call fails with
// ErrRelationMissing until EnsureSchema runs.
func WithoutSchema() ChatStoreOption {
	return func(s *ChatStore) { s.provisioned = false }
}

func NewChatStore(opts ...ChatStoreOption) *ChatStore {
	s := &ChatStore{provisioned: true}
	s.clear()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ChatStore) clear() {
	s.conversations = make(map[string]domainchat.Conversation)
	s.byPair = make(map[string]string)
	s.participants = make(map[string]map[string]struct{})
	s.messages = make(map[string][]domainchat.Message)
}

func pairIndex(listingID, pairKey string) string {
	return listingID + "#" + pairKey
}

func (s *ChatStore) EnsureSchema(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provisioned = true
	s.provisions++
	return nil
}

func (s *ChatStore) IsSchemaMissing(err error) bool {
	return errors.Is(err, domainchat.ErrSchemaMissing)
}

// Provisions counts EnsureSchema calls.
func (s *ChatStore) Provisions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provisions
}

func (s *ChatStore) ready() error {
	if !s.provisioned {
		return ErrRelationMissing
	}
	return nil
}

func (s *ChatStore) FindConversation(_ context.Context, listingID, userA, userB string) (domainchat.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return domainchat.Conversation{}, false, err
	}
	if id, ok := s.byPair[pairIndex(listingID, domainchat.PairKey(userA, userB))]; ok {
		return s.conversations[id], true, nil
	}
	// Threads created before pair keys existed are matched through their links.
	var matches []domainchat.Conversation
	for id, conv := range s.conversations {
		if conv.ListingID != listingID {
			continue
		}
		members := s.participants[id]
		_, a := members[userA]
		_, b := members[userB]
		if a && b {
			matches = append(matches, conv)
		}
	}
	if len(matches) == 0 {
		return domainchat.Conversation{}, false, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.Before(matches[j].CreatedAt)
		}
		return matches[i].ID < matches[j].ID
	})
	return matches[0], true, nil
}

func (s *ChatStore) CreateConversation(_ context.Context, conv domainchat.Conversation) (domainchat.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return domainchat.Conversation{}, false, err
	}
	if conv.PairKey != "" {
		if id, ok := s.byPair[pairIndex(conv.ListingID, conv.PairKey)]; ok {
			return s.conversations[id], false, nil
		}
	}
	if existing, ok := s.conversations[conv.ID]; ok {
		return existing, false, nil
	}
	s.conversations[conv.ID] = conv
	if conv.PairKey != "" {
		s.byPair[pairIndex(conv.ListingID, conv.PairKey)] = conv.ID
	}
	return conv, true, nil
}

func (s *ChatStore) LinkParticipant(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	if _, ok := s.conversations[conversationID]; !ok {
		return domainchat.NotFound("memory.LinkParticipant", "conversation "+conversationID)
	}
	members, ok := s.participants[conversationID]
	if !ok {
		members = make(map[string]struct{})
		s.participants[conversationID] = members
	}
	members[userID] = struct{}{}
	return nil
}

func (s *ChatStore) AppendMessage(_ context.Context, msg domainchat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return domainchat.NotFound("memory.AppendMessage", "conversation "+msg.ConversationID)
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

func (s *ChatStore) TouchConversation(_ context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	if at.After(conv.UpdatedAt) {
		conv.UpdatedAt = at
		s.conversations[conversationID] = conv
	}
	return nil
}

func (s *ChatStore) DiscoverConversations(_ context.Context, userID string, ownedListingIDs []string) ([]domainchat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	owned := make(map[string]struct{}, len(ownedListingIDs))
	for _, id := range ownedListingIDs {
		owned[id] = struct{}{}
	}
	var out []domainchat.Conversation
	for id, conv := range s.conversations {
		if _, ok := s.participants[id][userID]; ok {
			out = append(out, conv)
			continue
		}
		if _, ok := owned[conv.ListingID]; ok && conv.HasListing() {
			out = append(out, conv)
			continue
		}
		for _, m := range s.messages[id] {
			if m.SenderID == userID {
				out = append(out, conv)
				break
			}
		}
	}
	domainchat.SortInbox(out)
	return out, nil
}

func (s *ChatStore) ParticipantsOf(_ context.Context, conversationIDs []string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(conversationIDs))
	for _, id := range conversationIDs {
		members := make([]string, 0, len(s.participants[id]))
		for uid := range s.participants[id] {
			members = append(members, uid)
		}
		sort.Strings(members)
		out[id] = members
	}
	return out, nil
}

func (s *ChatStore) MessagesOf(_ context.Context, conversationIDs []string) (map[string][]domainchat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	out := make(map[string][]domainchat.Message, len(conversationIDs))
	for _, id := range conversationIDs {
		msgs := append([]domainchat.Message(nil), s.messages[id]...)
		domainchat.SortMessages(msgs)
		out[id] = msgs
	}
	return out, nil
}

func (s *ChatStore) DeleteConversationsByListing(_ context.Context, listingID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return 0, err
	}
	removed := 0
	for id, conv := range s.conversations {
		if conv.ListingID != listingID {
			continue
		}
		delete(s.conversations, id)
		delete(s.participants, id)
		delete(s.messages, id)
		if conv.PairKey != "" {
			delete(s.byPair, pairIndex(conv.ListingID, conv.PairKey))
		}
		removed++
	}
	return removed, nil
}

func (s *ChatStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
	return nil
}

func (s *ChatStore) Ping(context.Context) error { return nil }

var (
	_ appchat.Store             = (*ChatStore)(nil)
	_ appchat.SchemaProvisioner = (*ChatStore)(nil)
)
