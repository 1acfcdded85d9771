package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	domainchat "rentchat/internal/domain/chat"
)

const (
	sqlstateUndefinedTable    = "42P01"
	sqlstateInvalidSchemaName = "3F000"
	sqlstateForeignKey        = "23503"
)

func (s *Store) schemaStatements() []string {
	conv := s.table("conversations")
	parts := s.table("conversation_participants")
	msgs := s.table("messages")
	return []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + conv + ` (
		   id         text PRIMARY KEY,
		   listing_id text,
		   pair_key   text,
		   created_at timestamptz NOT NULL DEFAULT now(),
		   updated_at timestamptz NOT NULL DEFAULT now()
		 )`,
		`CREATE UNIQUE INDEX IF NOT EXISTS conversations_listing_pair_uq
		   ON ` + conv + ` (listing_id, pair_key)
		   WHERE listing_id IS NOT NULL AND pair_key IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS conversations_listing_idx ON ` + conv + ` (listing_id)`,
		`CREATE TABLE IF NOT EXISTS ` + parts + ` (
		   conversation_id text NOT NULL REFERENCES ` + conv + ` (id) ON DELETE CASCADE,
		   user_id         text NOT NULL,
		   joined_at       timestamptz NOT NULL DEFAULT now(),
		   PRIMARY KEY (conversation_id, user_id)
		 )`,
		`CREATE INDEX IF NOT EXISTS conversation_participants_user_idx ON ` + parts + ` (user_id)`,
		`CREATE TABLE IF NOT EXISTS ` + msgs + ` (
		   id              text PRIMARY KEY,
		   conversation_id text NOT NULL REFERENCES ` + conv + ` (id) ON DELETE CASCADE,
		   sender_id       text NOT NULL,
		   content         text NOT NULL,
		   created_at      timestamptz NOT NULL DEFAULT now(),
		   is_read         boolean NOT NULL DEFAULT false
		 )`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_created_idx ON ` + msgs + ` (conversation_id, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS messages_sender_idx ON ` + msgs + ` (sender_id)`,
	}
}

// EnsureSchema creates the chat schema and tables. Concurrent callers are
// serialised with a transactional advisory lock keyed on the schema name.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "rentchat.schema."+s.schema); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	for _, stmt := range s.schemaStatements() {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("provision chat schema: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// IsSchemaMissing matches undefined table and undefined schema errors, raw or
// already wrapped as ErrSchemaMissing.
func (s *Store) IsSchemaMissing(err error) bool {
	if errors.Is(err, domainchat.ErrSchemaMissing) {
		return true
	}
	code := pgErrorCode(err)
	return code == sqlstateUndefinedTable || code == sqlstateInvalidSchemaName
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
