// Package inbox de-duplicates consumed broker events per consumer.
package inbox

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionName = "chat_inbox"
	// Redeliveries older than this are no longer expected from the broker.
	DefaultRetention = 7 * 24 * time.Hour
)

type Store struct {
	col      *mongo.Collection
	consumer string
	now      func() time.Time
}

type record struct {
	EventID    string    `bson:"event_id"`
	Consumer   string    `bson:"consumer"`
	ReceivedAt time.Time `bson:"received_at"`
}

func NewStore(ctx context.Context, db *mongo.Database, consumer string) (*Store, error) {
	if consumer == "" {
		return nil, errors.New("inbox: consumer name required")
	}
	col := db.Collection(collectionName)
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "consumer", Value: 1}, {Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "received_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(DefaultRetention / time.Second)),
		},
	})
	if err != nil {
		return nil, err
	}
	return &Store{col: col, consumer: consumer, now: time.Now}, nil
}

// Seen records eventID and reports whether it had already been recorded.
func (s *Store) Seen(ctx context.Context, eventID string) (bool, error) {
	_, err := s.col.InsertOne(ctx, record{EventID: eventID, Consumer: s.consumer, ReceivedAt: s.now().UTC()})
	switch {
	case err == nil:
		return false, nil
	case mongo.IsDuplicateKeyError(err):
		return true, nil
	default:
		return false, err
	}
}

// Forget removes eventID so a redelivery is processed again.
func (s *Store) Forget(ctx context.Context, eventID string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"consumer": s.consumer, "event_id": eventID})
	return err
}
