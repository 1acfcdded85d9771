package scylla

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domainchat "rentchat/internal/domain/chat"
)

func (s *Store) schemaStatements() []string {
	ks := s.keyspace
	return []string{
		fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`, ks, s.replication),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.conversations (
	id text PRIMARY KEY,
	listing_id text,
	pair_key text,
	created_at timestamp,
	updated_at timestamp
)`, ks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.conversations_by_pair (
	listing_id text,
	pair_key text,
	conversation_id text,
	claimed_at timestamp,
	PRIMARY KEY ((listing_id, pair_key))
)`, ks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.conversations_by_listing (
	listing_id text,
	conversation_id text,
	PRIMARY KEY (listing_id, conversation_id)
)`, ks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.participants (
	conversation_id text,
	user_id text,
	joined_at timestamp,
	PRIMARY KEY (conversation_id, user_id)
)`, ks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.conversations_by_user (
	user_id text,
	conversation_id text,
	PRIMARY KEY (user_id, conversation_id)
)`, ks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.conversations_by_sender (
	sender_id text,
	conversation_id text,
	PRIMARY KEY (sender_id, conversation_id)
)`, ks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.messages (
	conversation_id text,
	created_at timestamp,
	id text,
	sender_id text,
	content text,
	is_read boolean,
	PRIMARY KEY (conversation_id, created_at, id)
) WITH CLUSTERING ORDER BY (created_at ASC, id ASC)`, ks),
	}
}

// EnsureSchema creates the keyspace and tables. Every statement is IF NOT
// EXISTS, so concurrent callers converge.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.schemaStatements() {
		if err := s.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("provision chat schema: %w", err)
		}
	}
	if s.logger != nil {
		s.logger.Info("scylla chat schema ensured", "keyspace", s.keyspace)
	}
	return nil
}

// IsSchemaMissing matches the server messages for an unknown table or keyspace.
func (s *Store) IsSchemaMissing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domainchat.ErrSchemaMissing) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unconfigured table") || strings.Contains(msg, "unconfigured columnfamily") {
		return true
	}
	return strings.Contains(msg, "keyspace") && strings.Contains(msg, "does not exist")
}
