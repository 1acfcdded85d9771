package inbox

import (
	"context"
	"testing"
	"time"
)

func TestNewStoreRequiresConsumer(t *testing.T) {
	if _, err := NewStore(context.Background(), nil, ""); err == nil {
		t.Fatal("expected error for empty consumer")
	}
}

func TestRetentionCoversBrokerRedelivery(t *testing.T) {
	if DefaultRetention < 24*time.Hour {
		t.Fatalf("retention too short: %s", DefaultRetention)
	}
}
