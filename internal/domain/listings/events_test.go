package listings

import "testing"

func TestIsDeleted(t *testing.T) {
	cases := map[string]bool{
		"listing.deleted":    true,
		"listing.deleted.v1": true,
		"listing.deleted.v2": true,
		"listing.updated.v1": false,
		"listing":            false,
	}
	for in, want := range cases {
		if got := IsDeleted(in); got != want {
			t.Fatalf("IsDeleted(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDeletedEventAggregateIDFallsBack(t *testing.T) {
	if got := (DeletedEvent{LegacyID: " l-7 "}).AggregateID(); got != "l-7" {
		t.Fatalf("AggregateID = %q, want l-7", got)
	}
	if got := (DeletedEvent{ListingID: "l-1", LegacyID: "l-7"}).AggregateID(); got != "l-1" {
		t.Fatalf("AggregateID = %q, want l-1", got)
	}
}
