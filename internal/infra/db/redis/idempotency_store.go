package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"rentchat/internal/app/middleware"
)

const keyPrefix = "rentchat:idemp:"

// IdempotencyStore writes each key once with SET NX; Redis expiry enforces the TTL.
type IdempotencyStore struct {
	rdb goredis.Cmdable
	now func() time.Time
}

func NewIdempotencyStore(rdb goredis.Cmdable) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, now: time.Now}
}

type storedRecord struct {
	Payload    []byte    `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return middleware.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return middleware.IdempotencyRecord{}, false, err
	}
	rec, err := decodeRecord(key, raw)
	if err != nil {
		return middleware.IdempotencyRecord{}, false, err
	}
	if rec.Expired(s.now()) {
		return middleware.IdempotencyRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	raw, ttl, err := encodeRecord(rec, s.now())
	if err != nil {
		return err
	}
	if ttl < 0 {
		return nil
	}
	return s.rdb.SetNX(ctx, keyPrefix+rec.Key, raw, ttl).Err()
}

// encodeRecord returns the stored form and its TTL. Zero means no expiry and a
// negative TTL means the record is already expired.
func encodeRecord(rec middleware.IdempotencyRecord, now time.Time) ([]byte, time.Duration, error) {
	raw, err := json.Marshal(storedRecord{Payload: rec.Payload, OccurredAt: rec.OccurredAt, ExpiresAt: rec.ExpiresAt})
	if err != nil {
		return nil, 0, err
	}
	if rec.ExpiresAt.IsZero() {
		return raw, 0, nil
	}
	ttl := rec.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return raw, -1, nil
	}
	return raw, ttl, nil
}

func decodeRecord(key string, raw []byte) (middleware.IdempotencyRecord, error) {
	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return middleware.IdempotencyRecord{}, err
	}
	return middleware.IdempotencyRecord{
		Key:        key,
		Payload:    stored.Payload,
		OccurredAt: stored.OccurredAt,
		ExpiresAt:  stored.ExpiresAt,
	}, nil
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
