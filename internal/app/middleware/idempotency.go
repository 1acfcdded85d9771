package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"rentchat/internal/app/commands"
)

// IdempotentCommand is a command that can be replayed by key.
type IdempotentCommand interface {
	commands.Command
	IdempotencyKey() string
	// ResultPrototype returns a pointer to a zero value of the handler's result type.
	ResultPrototype() any
}

type IdempotencyRecord struct {
	Key        string
	Payload    []byte
	OccurredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the record should be ignored at now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	Save(ctx context.Context, rec IdempotencyRecord) error
}

type ResultCodec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

type JSONResultCodec struct{}

func (JSONResultCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONResultCodec) Decode(data []byte, out any) error {
	return json.Unmarshal(data, out)
}

var errMissingPrototype = errors.New("middleware: idempotent command requires a pointer result prototype")

// Idempotency replays the stored result of a previously successful command with
// the same key. Failed attempts are not recorded so the caller may retry them.
// ttl of zero keeps records until the store evicts them.
func Idempotency(store IdempotencyStore, codec ResultCodec, ttl time.Duration) CommandMiddleware {
	if store == nil {
		panic("middleware: idempotency store required")
	}
	if codec == nil {
		codec = JSONResultCodec{}
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			idCmd, ok := cmd.(IdempotentCommand)
			if !ok || idCmd.IdempotencyKey() == "" {
				return next.Dispatch(ctx, cmd)
			}
			key := idCmd.IdempotencyKey()
			now := time.Now().UTC()

			rec, found, err := store.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			if found && !rec.Expired(now) {
				return replay(codec, idCmd.ResultPrototype(), rec.Payload)
			}

			result, err := next.Dispatch(ctx, cmd)
			if err != nil {
				return nil, err
			}
			record := IdempotencyRecord{Key: key, OccurredAt: now}
			if ttl > 0 {
				record.ExpiresAt = now.Add(ttl)
			}
			if result != nil {
				if record.Payload, err = codec.Encode(result); err != nil {
					return nil, err
				}
			}
			if err := store.Save(ctx, record); err != nil {
				return nil, err
			}
			return result, nil
		})
	}
}

// replay decodes payload into proto and returns the pointed-to value, matching
// what the handler originally returned.
func replay(codec ResultCodec, proto any, payload []byte) (any, error) {
	rv := reflect.ValueOf(proto)
	if proto == nil || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, errMissingPrototype
	}
	if len(payload) == 0 {
		return rv.Elem().Interface(), nil
	}
	if err := codec.Decode(payload, proto); err != nil {
		return nil, err
	}
	return rv.Elem().Interface(), nil
}
