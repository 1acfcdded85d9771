// Package scylla is the Scylla/Cassandra chat store. Lookups that SQL answers
// with joins are served from denormalised tables kept alongside conversations.
package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/gocql/gocql"

	appchat "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type Store struct {
	session     *gocql.Session
	keyspace    string
	replication int
	logger      *slog.Logger
}

func NewStore(session *gocql.Session, keyspace string, replication int, logger *slog.Logger) (*Store, error) {
	if session == nil {
		return nil, errors.New("scylla: nil session")
	}
	if !keyspacePattern.MatchString(keyspace) {
		return nil, fmt.Errorf("scylla: invalid keyspace name %q", keyspace)
	}
	if replication < 1 {
		replication = 1
	}
	return &Store{session: session, keyspace: keyspace, replication: replication, logger: logger}, nil
}

func (s *Store) t(table string) string {
	return s.keyspace + "." + table
}

func (s *Store) loadConversation(ctx context.Context, id string) (domainchat.Conversation, bool, error) {
	var c domainchat.Conversation
	err := s.session.Query(
		`SELECT id, listing_id, pair_key, created_at, updated_at FROM `+s.t("conversations")+` WHERE id = ?`, id).
		WithContext(ctx).
		Scan(&c.ID, &c.ListingID, &c.PairKey, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return domainchat.Conversation{}, false, nil
	}
	if err != nil {
		return domainchat.Conversation{}, false, err
	}
	return c, true, nil
}

func (s *Store) loadConversations(ctx context.Context, ids []string) ([]domainchat.Conversation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	iter := s.session.Query(
		`SELECT id, listing_id, pair_key, created_at, updated_at FROM `+s.t("conversations")+` WHERE id IN ?`, ids).
		WithContext(ctx).
		Iter()
	var (
		out []domainchat.Conversation
		c   domainchat.Conversation
	)
	for iter.Scan(&c.ID, &c.ListingID, &c.PairKey, &c.CreatedAt, &c.UpdatedAt) {
		out = append(out, c)
	}
	return out, iter.Close()
}

func (s *Store) FindConversation(ctx context.Context, listingID, userA, userB string) (domainchat.Conversation, bool, error) {
	var convID string
	err := s.session.Query(
		`SELECT conversation_id FROM `+s.t("conversations_by_pair")+` WHERE listing_id = ? AND pair_key = ?`,
		listingID, domainchat.PairKey(userA, userB)).
		WithContext(ctx).
		Scan(&convID)
	switch {
	case err == nil:
		conv, ok, err := s.loadConversation(ctx, convID)
		if err != nil || ok {
			return conv, ok, err
		}
	case !errors.Is(err, gocql.ErrNotFound):
		return domainchat.Conversation{}, false, err
	}

	// Threads without a pair row are matched through participant links.
	ids, err := s.listingConversationIDs(ctx, listingID)
	if err != nil {
		return domainchat.Conversation{}, false, err
	}
	members, err := s.ParticipantsOf(ctx, ids)
	if err != nil {
		return domainchat.Conversation{}, false, err
	}
	var matches []domainchat.Conversation
	for _, id := range ids {
		if containsAll(members[id], userA, userB) {
			conv, ok, err := s.loadConversation(ctx, id)
			if err != nil {
				return domainchat.Conversation{}, false, err
			}
			if ok {
				matches = append(matches, conv)
			}
		}
	}
	if len(matches) == 0 {
		return domainchat.Conversation{}, false, nil
	}
	oldest := matches[0]
	for _, c := range matches[1:] {
		if c.CreatedAt.Before(oldest.CreatedAt) || (c.CreatedAt.Equal(oldest.CreatedAt) && c.ID < oldest.ID) {
			oldest = c
		}
	}
	return oldest, true, nil
}

// claimGrace is how long a pair claim may point at a conversation row that
// has not been written yet before another writer may take it over.
const claimGrace = 30 * time.Second

type claimState int

const (
	claimLive    claimState = iota // winner row exists
	claimPending                   // winner row missing, claim still within grace
	claimStale                     // winner row missing, claim abandoned
)

func classifyClaim(winnerExists bool, claimedAt, now time.Time) claimState {
	switch {
	case winnerExists:
		return claimLive
	case !claimedAt.IsZero() && now.Sub(claimedAt) < claimGrace:
		return claimPending
	default:
		return claimStale
	}
}

// CreateConversation claims (listing, pair key) with a lightweight transaction.
// The loser of a concurrent claim gets the winner's conversation back. A claim
// whose row write failed is released; one left behind by a crashed writer is
// taken over once claimGrace has passed.
func (s *Store) CreateConversation(ctx context.Context, conv domainchat.Conversation) (domainchat.Conversation, bool, error) {
	claimed := conv.ListingID != "" && conv.PairKey != ""
	if claimed {
		winner, won, err := s.claimPair(ctx, conv)
		if err != nil || !won {
			return winner, false, err
		}
	}

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO `+s.t("conversations")+` (id, listing_id, pair_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.ListingID, conv.PairKey, conv.CreatedAt, conv.UpdatedAt)
	if conv.ListingID != "" {
		batch.Query(`INSERT INTO `+s.t("conversations_by_listing")+` (listing_id, conversation_id) VALUES (?, ?)`,
			conv.ListingID, conv.ID)
	}
	if err := s.session.ExecuteBatch(batch); err != nil {
		if claimed {
			s.releaseClaim(conv)
		}
		return domainchat.Conversation{}, false, err
	}
	return conv, true, nil
}

// claimPair reports won=true when conv now owns the pair row. Otherwise it
// returns the conversation that does.
func (s *Store) claimPair(ctx context.Context, conv domainchat.Conversation) (domainchat.Conversation, bool, error) {
	now := time.Now().UTC()
	existing := map[string]interface{}{}
	applied, err := s.session.Query(
		`INSERT INTO `+s.t("conversations_by_pair")+` (listing_id, pair_key, conversation_id, claimed_at) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		conv.ListingID, conv.PairKey, conv.ID, now).
		WithContext(ctx).
		SerialConsistency(gocql.LocalSerial).
		MapScanCAS(existing)
	if err != nil {
		return domainchat.Conversation{}, false, err
	}
	if applied {
		return conv, true, nil
	}

	winnerID, _ := existing["conversation_id"].(string)
	claimedAt, _ := existing["claimed_at"].(time.Time)
	winner, ok, err := s.loadConversation(ctx, winnerID)
	if err != nil {
		return domainchat.Conversation{}, false, err
	}
	switch classifyClaim(ok, claimedAt, now) {
	case claimLive:
		return winner, false, nil
	case claimPending:
		return stubConversation(winnerID, conv), false, nil
	}

	current := map[string]interface{}{}
	applied, err = s.session.Query(
		`UPDATE `+s.t("conversations_by_pair")+` SET conversation_id = ?, claimed_at = ? WHERE listing_id = ? AND pair_key = ? IF conversation_id = ?`,
		conv.ID, now, conv.ListingID, conv.PairKey, winnerID).
		WithContext(ctx).
		SerialConsistency(gocql.LocalSerial).
		MapScanCAS(current)
	if err != nil {
		return domainchat.Conversation{}, false, err
	}
	if applied {
		if s.logger != nil {
			s.logger.Warn("stale conversation claim taken over", "listing_id", conv.ListingID, "stale_id", winnerID, "conversation_id", conv.ID)
		}
		return conv, true, nil
	}
	// Another writer took it over first.
	otherID, _ := current["conversation_id"].(string)
	other, ok, err := s.loadConversation(ctx, otherID)
	if err != nil {
		return domainchat.Conversation{}, false, err
	}
	if !ok {
		other = stubConversation(otherID, conv)
	}
	return other, false, nil
}

// releaseClaim drops conv's pair claim if it still holds it. It runs on a
// fresh context because the caller's may be what failed the batch.
func (s *Store) releaseClaim(conv domainchat.Conversation) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.session.Query(
		`DELETE FROM `+s.t("conversations_by_pair")+` WHERE listing_id = ? AND pair_key = ? IF conversation_id = ?`,
		conv.ListingID, conv.PairKey, conv.ID).
		WithContext(ctx).
		SerialConsistency(gocql.LocalSerial).
		MapScanCAS(map[string]interface{}{})
	if err != nil && s.logger != nil {
		s.logger.Warn("conversation claim not released", "listing_id", conv.ListingID, "conversation_id", conv.ID, "error", err)
	}
}

// stubConversation stands in for a winner whose row is not readable yet.
func stubConversation(id string, conv domainchat.Conversation) domainchat.Conversation {
	return domainchat.Conversation{ID: id, ListingID: conv.ListingID, PairKey: conv.PairKey, CreatedAt: conv.CreatedAt, UpdatedAt: conv.UpdatedAt}
}

func (s *Store) requireConversation(ctx context.Context, op, id string) error {
	_, ok, err := s.loadConversation(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return domainchat.NotFound(op, "conversation "+id)
	}
	return nil
}

func (s *Store) LinkParticipant(ctx context.Context, conversationID, userID string) error {
	if err := s.requireConversation(ctx, "scylla.LinkParticipant", conversationID); err != nil {
		return err
	}
	if _, err := s.session.Query(
		`INSERT INTO `+s.t("participants")+` (conversation_id, user_id, joined_at) VALUES (?, ?, ?) IF NOT EXISTS`,
		conversationID, userID, time.Now().UTC()).
		WithContext(ctx).
		SerialConsistency(gocql.LocalSerial).
		MapScanCAS(map[string]interface{}{}); err != nil {
		return err
	}
	return s.session.Query(`INSERT INTO `+s.t("conversations_by_user")+` (user_id, conversation_id) VALUES (?, ?)`,
		userID, conversationID).WithContext(ctx).Exec()
}

func (s *Store) AppendMessage(ctx context.Context, msg domainchat.Message) error {
	if err := s.requireConversation(ctx, "scylla.AppendMessage", msg.ConversationID); err != nil {
		return err
	}
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO `+s.t("messages")+` (conversation_id, created_at, id, sender_id, content, is_read) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.CreatedAt, msg.ID, msg.SenderID, msg.Content, msg.IsRead)
	batch.Query(`INSERT INTO `+s.t("conversations_by_sender")+` (sender_id, conversation_id) VALUES (?, ?)`,
		msg.SenderID, msg.ConversationID)
	return s.session.ExecuteBatch(batch)
}

func (s *Store) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	conv, ok, err := s.loadConversation(ctx, conversationID)
	if err != nil || !ok || !at.After(conv.UpdatedAt) {
		return err
	}
	return s.session.Query(`UPDATE `+s.t("conversations")+` SET updated_at = ? WHERE id = ?`, at, conversationID).
		WithContext(ctx).
		Exec()
}

func (s *Store) DiscoverConversations(ctx context.Context, userID string, ownedListingIDs []string) ([]domainchat.Conversation, error) {
	seen := make(map[string]struct{})
	var ids []string
	add := func(found []string) {
		for _, id := range found {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	linked, err := s.column(ctx, `SELECT conversation_id FROM `+s.t("conversations_by_user")+` WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	add(linked)
	authored, err := s.column(ctx, `SELECT conversation_id FROM `+s.t("conversations_by_sender")+` WHERE sender_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	add(authored)
	for _, listingID := range ownedListingIDs {
		owned, err := s.listingConversationIDs(ctx, listingID)
		if err != nil {
			return nil, err
		}
		add(owned)
	}
	convs, err := s.loadConversations(ctx, ids)
	if err != nil {
		return nil, err
	}
	domainchat.SortInbox(convs)
	return convs, nil
}

func (s *Store) listingConversationIDs(ctx context.Context, listingID string) ([]string, error) {
	return s.column(ctx, `SELECT conversation_id FROM `+s.t("conversations_by_listing")+` WHERE listing_id = ?`, listingID)
}

func (s *Store) column(ctx context.Context, cql string, args ...interface{}) ([]string, error) {
	iter := s.session.Query(cql, args...).WithContext(ctx).Iter()
	var (
		out []string
		v   string
	)
	for iter.Scan(&v) {
		out = append(out, v)
	}
	return out, iter.Close()
}

func (s *Store) ParticipantsOf(ctx context.Context, conversationIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	iter := s.session.Query(
		`SELECT conversation_id, user_id FROM `+s.t("participants")+` WHERE conversation_id IN ?`, conversationIDs).
		WithContext(ctx).
		Iter()
	var convID, userID string
	for iter.Scan(&convID, &userID) {
		out[convID] = append(out[convID], userID)
	}
	return out, iter.Close()
}

func (s *Store) MessagesOf(ctx context.Context, conversationIDs []string) (map[string][]domainchat.Message, error) {
	out := make(map[string][]domainchat.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	iter := s.session.Query(
		`SELECT conversation_id, created_at, id, sender_id, content, is_read FROM `+s.t("messages")+` WHERE conversation_id IN ?`,
		conversationIDs).
		WithContext(ctx).
		Iter()
	var m domainchat.Message
	for iter.Scan(&m.ConversationID, &m.CreatedAt, &m.ID, &m.SenderID, &m.Content, &m.IsRead) {
		out[m.ConversationID] = append(out[m.ConversationID], m)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	for id := range out {
		domainchat.SortMessages(out[id])
	}
	return out, nil
}

// DeleteConversationsByListing removes each conversation with its links,
// messages and lookup rows.
func (s *Store) DeleteConversationsByListing(ctx context.Context, listingID string) (int, error) {
	ids, err := s.listingConversationIDs(ctx, listingID)
	if err != nil {
		return 0, err
	}
	convs, err := s.loadConversations(ctx, ids)
	if err != nil {
		return 0, err
	}
	members, err := s.ParticipantsOf(ctx, ids)
	if err != nil {
		return 0, err
	}
	msgs, err := s.MessagesOf(ctx, ids)
	if err != nil {
		return 0, err
	}
	for _, conv := range convs {
		batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
		batch.Query(`DELETE FROM `+s.t("conversations")+` WHERE id = ?`, conv.ID)
		batch.Query(`DELETE FROM `+s.t("participants")+` WHERE conversation_id = ?`, conv.ID)
		batch.Query(`DELETE FROM `+s.t("messages")+` WHERE conversation_id = ?`, conv.ID)
		batch.Query(`DELETE FROM `+s.t("conversations_by_listing")+` WHERE listing_id = ? AND conversation_id = ?`, listingID, conv.ID)
		if conv.PairKey != "" {
			batch.Query(`DELETE FROM `+s.t("conversations_by_pair")+` WHERE listing_id = ? AND pair_key = ?`, listingID, conv.PairKey)
		}
		for _, uid := range members[conv.ID] {
			batch.Query(`DELETE FROM `+s.t("conversations_by_user")+` WHERE user_id = ? AND conversation_id = ?`, uid, conv.ID)
		}
		senders := make(map[string]struct{})
		for _, m := range msgs[conv.ID] {
			senders[m.SenderID] = struct{}{}
		}
		for sender := range senders {
			batch.Query(`DELETE FROM `+s.t("conversations_by_sender")+` WHERE sender_id = ? AND conversation_id = ?`, sender, conv.ID)
		}
		if err := s.session.ExecuteBatch(batch); err != nil {
			return 0, err
		}
	}
	return len(convs), nil
}

func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{
		"messages", "participants", "conversations_by_user", "conversations_by_sender",
		"conversations_by_listing", "conversations_by_pair", "conversations",
	} {
		if err := s.session.Query(`TRUNCATE ` + s.t(table)).WithContext(ctx).Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	var version string
	return s.session.Query(`SELECT release_version FROM system.local`).WithContext(ctx).Scan(&version)
}

func containsAll(values []string, targets ...string) bool {
	for _, target := range targets {
		found := false
		for _, v := range values {
			if v == target {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

var (
	_ appchat.Store             = (*Store)(nil)
	_ appchat.SchemaProvisioner = (*Store)(nil)
)
