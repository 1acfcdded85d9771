package scylla

import (
	"errors"
	"strings"
	"testing"
	"time"

	domainchat "rentchat/internal/domain/chat"
)

func TestIsSchemaMissing(t *testing.T) {
	s := &Store{keyspace: "rentchat"}
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unconfigured table", errors.New("unconfigured table conversations"), true},
		{"missing keyspace", errors.New("Keyspace 'rentchat' does not exist"), true},
		{"timeout", errors.New("gocql: no response received from cassandra within timeout period"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.IsSchemaMissing(tc.err); got != tc.want {
				t.Fatalf("IsSchemaMissing(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestNewStoreRequiresSession(t *testing.T) {
	if _, err := NewStore(nil, "rentchat", 1, nil); err == nil {
		t.Fatal("expected error for nil session")
	}
}

func TestSchemaStatementsQualifyKeyspace(t *testing.T) {
	s := &Store{keyspace: "chat_test", replication: 3}
	stmts := s.schemaStatements()
	if !strings.Contains(stmts[0], "'replication_factor': 3") {
		t.Fatalf("keyspace statement = %q", stmts[0])
	}
	for _, stmt := range stmts[1:] {
		if !strings.Contains(stmt, "IF NOT EXISTS chat_test.") {
			t.Fatalf("table statement not qualified: %q", stmt)
		}
	}
}

func TestKeyspacePattern(t *testing.T) {
	for _, name := range []string{"rentchat", "chat_v2", "_x"} {
		if !keyspacePattern.MatchString(name) {
			t.Fatalf("%q should be accepted", name)
		}
	}
	for _, name := range []string{"", "1chat", "chat;drop", "a.b"} {
		if keyspacePattern.MatchString(name) {
			t.Fatalf("%q should be rejected", name)
		}
	}
}

func TestClassifyClaim(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name      string
		exists    bool
		claimedAt time.Time
		want      claimState
	}{
		{"winner row present", true, now.Add(-time.Hour), claimLive},
		{"winner row in flight", false, now.Add(-time.Second), claimPending},
		{"abandoned after failed row write", false, now.Add(-claimGrace), claimStale},
		{"claim without timestamp", false, time.Time{}, claimStale},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyClaim(tc.exists, tc.claimedAt, now); got != tc.want {
				t.Fatalf("classifyClaim = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStubConversationKeepsPair(t *testing.T) {
	conv := domainchat.Conversation{ID: "mine", ListingID: "listing-1", PairKey: "u1|u2"}
	got := stubConversation("winner", conv)
	if got.ID != "winner" || got.ListingID != "listing-1" || got.PairKey != "u1|u2" {
		t.Fatalf("stub = %+v", got)
	}
}

func TestPairTableRecordsClaimTime(t *testing.T) {
	s := &Store{keyspace: "rentchat", replication: 1}
	for _, stmt := range s.schemaStatements() {
		if strings.Contains(stmt, "conversations_by_pair") && !strings.Contains(stmt, "claimed_at timestamp") {
			t.Fatalf("pair table lacks claimed_at: %q", stmt)
		}
	}
}
