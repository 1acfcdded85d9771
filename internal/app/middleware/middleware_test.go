package middleware_test

import (
	"context"
	"errors"
	"testing"

	"rentchat/internal/app/commands"
	"rentchat/internal/app/middleware"
)

type counterResult struct {
	N int `json:"n"`
}

type bumpCommand struct {
	key string
}

func (bumpCommand) Key() string              { return "test.bump" }
func (c bumpCommand) IdempotencyKey() string { return c.key }
func (bumpCommand) ResultPrototype() any     { return &counterResult{} }

type mapStore struct {
	items map[string]middleware.IdempotencyRecord
}

func (s *mapStore) Get(_ context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	rec, ok := s.items[key]
	return rec, ok, nil
}

func (s *mapStore) Save(_ context.Context, rec middleware.IdempotencyRecord) error {
	s.items[rec.Key] = rec
	return nil
}

func newCountingBus(fail *bool) (*commands.InMemoryBus, *int) {
	calls := 0
	bus := commands.NewInMemoryBus()
	commands.Register[bumpCommand, counterResult](bus, "test.bump", commands.HandlerFunc[bumpCommand, counterResult](
		func(context.Context, bumpCommand) (counterResult, error) {
			calls++
			if fail != nil && *fail {
				return counterResult{}, errors.New("boom")
			}
			return counterResult{N: calls}, nil
		}))
	return bus, &calls
}

func TestIdempotencyReplaysTypedResult(t *testing.T) {
	ctx := context.Background()
	base, calls := newCountingBus(nil)
	bus := middleware.ChainCommands(base, middleware.Idempotency(&mapStore{items: map[string]middleware.IdempotencyRecord{}}, nil, 0))

	first, err := commands.Dispatch[bumpCommand, counterResult](ctx, bus, bumpCommand{key: "k1"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	replayed, err := commands.Dispatch[bumpCommand, counterResult](ctx, bus, bumpCommand{key: "k1"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed != first || *calls != 1 {
		t.Fatalf("replayed %+v after %d calls, want %+v after 1", replayed, *calls, first)
	}
	if _, err := commands.Dispatch[bumpCommand, counterResult](ctx, bus, bumpCommand{}); err != nil || *calls != 2 {
		t.Fatalf("unkeyed command should run: calls=%d err=%v", *calls, err)
	}
}

func TestIdempotencyDoesNotCacheFailures(t *testing.T) {
	ctx := context.Background()
	fail := true
	base, calls := newCountingBus(&fail)
	bus := middleware.ChainCommands(base, middleware.Idempotency(&mapStore{items: map[string]middleware.IdempotencyRecord{}}, nil, 0))

	if _, err := commands.Dispatch[bumpCommand, counterResult](ctx, bus, bumpCommand{key: "k"}); err == nil {
		t.Fatal("expected failure")
	}
	fail = false
	got, err := commands.Dispatch[bumpCommand, counterResult](ctx, bus, bumpCommand{key: "k"})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if *calls != 2 || got.N != 2 {
		t.Fatalf("retry result %+v after %d calls", got, *calls)
	}
}

func TestChainCommandsOrder(t *testing.T) {
	var trace []string
	tag := func(name string) middleware.CommandMiddleware {
		return func(next commands.Bus) commands.Bus {
			return tracingBus{name: name, next: next, trace: &trace}
		}
	}
	base, _ := newCountingBus(nil)
	bus := middleware.ChainCommands(base, tag("outer"), nil, tag("inner"))
	if _, err := bus.Dispatch(context.Background(), bumpCommand{}); err != nil {
		t.Fatal(err)
	}
	if len(trace) != 2 || trace[0] != "outer" || trace[1] != "inner" {
		t.Fatalf("trace = %v, want [outer inner]", trace)
	}
}

type tracingBus struct {
	name  string
	next  commands.Bus
	trace *[]string
}

func (b tracingBus) Dispatch(ctx context.Context, cmd commands.Command) (any, error) {
	*b.trace = append(*b.trace, b.name)
	return b.next.Dispatch(ctx, cmd)
}

type checked struct{ ok bool }

func (checked) Key() string { return "test.checked" }

func (c checked) Validate() error {
	if !c.ok {
		return errors.New("invalid")
	}
	return nil
}

func TestValidationRejectsBeforeHandler(t *testing.T) {
	called := false
	base := commands.NewInMemoryBus()
	commands.Register[checked, struct{}](base, "test.checked", commands.HandlerFunc[checked, struct{}](
		func(context.Context, checked) (struct{}, error) {
			called = true
			return struct{}{}, nil
		}))
	bus := middleware.ChainCommands(base, middleware.Validation(middleware.SelfValidator{}))
	if _, err := bus.Dispatch(context.Background(), checked{ok: false}); err == nil || called {
		t.Fatalf("err=%v called=%v, want rejection before handler", err, called)
	}
	if _, err := bus.Dispatch(context.Background(), checked{ok: true}); err != nil || !called {
		t.Fatalf("err=%v called=%v, want handler to run", err, called)
	}
}
