// Package postgres is the PostgreSQL chat store.
package postgres

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	appchat "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
)

// Store does not own the pool; the caller closes it.
type Store struct {
	pool   *pgxpool.Pool
	schema string
}

type Option func(*Store) error

// WithSchema sets the schema holding the chat tables (default "chat").
func WithSchema(schema string) Option {
	return func(s *Store) error {
		schema = strings.TrimSpace(schema)
		if !identRE.MatchString(schema) {
			return errors.New("postgres: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewStore(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	s := &Store{pool: pool, schema: "chat"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.pool == nil {
		return nil, errors.New("postgres: nil pool")
	}
	return s, nil
}

var identRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func (s *Store) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

const conversationColumns = `c.id, COALESCE(c.listing_id, ''), COALESCE(c.pair_key, ''), c.created_at, c.updated_at`

func scanConversation(row pgx.Row) (domainchat.Conversation, error) {
	var c domainchat.Conversation
	err := row.Scan(&c.ID, &c.ListingID, &c.PairKey, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// FindConversation matches on the pair key, or on participant links for
// threads stored without one. The oldest match wins.
func (s *Store) FindConversation(ctx context.Context, listingID, userA, userB string) (domainchat.Conversation, bool, error) {
	parts := s.table("conversation_participants")
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+`
		   FROM `+s.table("conversations")+` c
		  WHERE c.listing_id = $1
		    AND (c.pair_key = $4
		         OR (EXISTS (SELECT 1 FROM `+parts+` p WHERE p.conversation_id = c.id AND p.user_id = $2)
		             AND EXISTS (SELECT 1 FROM `+parts+` p WHERE p.conversation_id = c.id AND p.user_id = $3)))
		  ORDER BY c.created_at, c.id
		  LIMIT 1`,
		listingID, userA, userB, domainchat.PairKey(userA, userB),
	)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domainchat.Conversation{}, false, nil
	}
	if err != nil {
		return domainchat.Conversation{}, false, err
	}
	return conv, true, nil
}

// CreateConversation inserts conv or returns the row already holding its
// (listing_id, pair_key).
func (s *Store) CreateConversation(ctx context.Context, conv domainchat.Conversation) (domainchat.Conversation, bool, error) {
	conversations := s.table("conversations")
	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+conversations+` AS c (id, listing_id, pair_key, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5)
		 ON CONFLICT DO NOTHING
		 RETURNING `+conversationColumns,
		conv.ID, conv.ListingID, conv.PairKey, conv.CreatedAt, conv.UpdatedAt,
	)
	stored, err := scanConversation(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domainchat.Conversation{}, false, err
	}
	row = s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+`
		   FROM `+conversations+` c
		  WHERE (c.listing_id = NULLIF($2, '') AND c.pair_key = NULLIF($3, ''))
		     OR c.id = $1
		  ORDER BY c.created_at, c.id
		  LIMIT 1`,
		conv.ID, conv.ListingID, conv.PairKey,
	)
	winner, err := scanConversation(row)
	if err != nil {
		return domainchat.Conversation{}, false, err
	}
	return winner, false, nil
}

func (s *Store) LinkParticipant(ctx context.Context, conversationID, userID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("conversation_participants")+` (conversation_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
		conversationID, userID,
	)
	if pgErrorCode(err) == sqlstateForeignKey {
		return domainchat.NotFound("postgres.LinkParticipant", "conversation "+conversationID)
	}
	return err
}

func (s *Store) AppendMessage(ctx context.Context, msg domainchat.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("messages")+` (id, conversation_id, sender_id, content, created_at, is_read)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.CreatedAt, msg.IsRead,
	)
	if pgErrorCode(err) == sqlstateForeignKey {
		return domainchat.NotFound("postgres.AppendMessage", "conversation "+msg.ConversationID)
	}
	return err
}

func (s *Store) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("conversations")+`
		    SET updated_at = GREATEST(updated_at, $2)
		  WHERE id = $1`,
		conversationID, at,
	)
	return err
}

func (s *Store) DiscoverConversations(ctx context.Context, userID string, ownedListingIDs []string) ([]domainchat.Conversation, error) {
	if ownedListingIDs == nil {
		ownedListingIDs = []string{}
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+`
		   FROM `+s.table("conversations")+` c
		  WHERE EXISTS (SELECT 1 FROM `+s.table("conversation_participants")+` p
		                 WHERE p.conversation_id = c.id AND p.user_id = $1)
		     OR c.listing_id = ANY($2)
		     OR EXISTS (SELECT 1 FROM `+s.table("messages")+` m
		                 WHERE m.conversation_id = c.id AND m.sender_id = $1)
		  ORDER BY c.updated_at DESC, c.id`,
		userID, ownedListingIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domainchat.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *Store) ParticipantsOf(ctx context.Context, conversationIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id, user_id
		   FROM `+s.table("conversation_participants")+`
		  WHERE conversation_id = ANY($1)
		  ORDER BY conversation_id, user_id`,
		conversationIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var convID, userID string
		if err := rows.Scan(&convID, &userID); err != nil {
			return nil, err
		}
		out[convID] = append(out[convID], userID)
	}
	return out, rows.Err()
}

func (s *Store) MessagesOf(ctx context.Context, conversationIDs []string) (map[string][]domainchat.Message, error) {
	out := make(map[string][]domainchat.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender_id, content, created_at, is_read
		   FROM `+s.table("messages")+`
		  WHERE conversation_id = ANY($1)
		  ORDER BY conversation_id, created_at, id`,
		conversationIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m domainchat.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt, &m.IsRead); err != nil {
			return nil, err
		}
		out[m.ConversationID] = append(out[m.ConversationID], m)
	}
	return out, rows.Err()
}

// DeleteConversationsByListing removes the listing's conversations; links and
// messages go with them through ON DELETE CASCADE.
func (s *Store) DeleteConversationsByListing(ctx context.Context, listingID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("conversations")+` WHERE listing_id = $1`, listingID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE `+s.table("messages")+`, `+s.table("conversation_participants")+`, `+s.table("conversations"))
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var (
	_ appchat.Store             = (*Store)(nil)
	_ appchat.SchemaProvisioner = (*Store)(nil)
)
