package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsSchemaMissing(t *testing.T) {
	s := &Store{schema: "chat"}
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"undefined table", &pgconn.PgError{Code: "42P01", Message: `relation "chat.messages" does not exist`}, true},
		{"undefined schema", &pgconn.PgError{Code: "3F000"}, true},
		{"wrapped", fmt.Errorf("query: %w", &pgconn.PgError{Code: "42P01"}), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", errors.New("relation does not exist"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.IsSchemaMissing(tc.err); got != tc.want {
				t.Fatalf("IsSchemaMissing = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestWithSchemaRejectsBadIdentifiers(t *testing.T) {
	for _, schema := range []string{"", "chat;drop", "1chat", "chat-x"} {
		s := &Store{}
		if err := WithSchema(schema)(s); err == nil {
			t.Fatalf("WithSchema(%q) accepted", schema)
		}
	}
	s := &Store{}
	if err := WithSchema(" chat_it ")(s); err != nil || s.schema != "chat_it" {
		t.Fatalf("schema = %q, err = %v", s.schema, err)
	}
}

func TestSchemaStatementsAreQualified(t *testing.T) {
	s := &Store{schema: "chat_x"}
	for _, stmt := range s.schemaStatements()[1:] {
		if !strings.Contains(stmt, `"chat_x".`) {
			t.Fatalf("statement not schema-qualified: %s", stmt)
		}
	}
}
