// Package listings holds the listing events chat consumes. Listings themselves
// belong to the marketplace service.
package listings

import (
	"strings"
	"time"
)

const DeletedEventName = "listing.deleted"

// DeletedEvent is the data of a listing.deleted event. Older producers send
// the listing id as "id".
type DeletedEvent struct {
	ListingID string    `json:"listing_id"`
	LegacyID  string    `json:"id"`
	At        time.Time `json:"deleted_at"`
}

func (e DeletedEvent) EventName() string { return DeletedEventName }

func (e DeletedEvent) AggregateID() string {
	if id := strings.TrimSpace(e.ListingID); id != "" {
		return id
	}
	return strings.TrimSpace(e.LegacyID)
}

func (e DeletedEvent) OccurredAt() time.Time { return e.At }

// IsDeleted reports whether a versioned event type such as "listing.deleted.v1"
// names a listing deletion.
func IsDeleted(eventType string) bool {
	base := eventType
	if i := strings.LastIndex(eventType, ".v"); i > 0 {
		base = eventType[:i]
	}
	return base == DeletedEventName
}
