package chat

import (
	"context"
	"log/slog"

	domainchat "rentchat/internal/domain/chat"
)

const (
	repairRecovered = "recovered"
	repairFailed    = "failed"
	repairExhausted = "exhausted"
	// The schema was repaired but the retried call failed for another reason.
	repairRetryFailed = "retry_failed"
)

// SchemaGuard provisions the chat schema when a store call fails on a missing
// relation, then retries that call exactly once.
type SchemaGuard struct {
	Provisioner SchemaProvisioner
	Logger      *slog.Logger
	Metrics     Metrics
}

// Do runs fn under the guard. A second missing-relation failure, or a failure to
// provision, is reported as ErrStorageUnavailable. Other errors pass through.
func (g *SchemaGuard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || g == nil || g.Provisioner == nil || !g.Provisioner.IsSchemaMissing(err) {
		return err
	}
	metrics := metricsOrNop(g.Metrics)
	g.logWarn("chat schema missing, provisioning", "op", op, "error", err)

	if perr := g.Provisioner.EnsureSchema(ctx); perr != nil {
		metrics.SchemaRepair(repairFailed)
		g.logError("chat schema provisioning failed", "op", op, "error", perr)
		return domainchat.Unavailable(op, perr)
	}
	err = fn(ctx)
	if err == nil {
		metrics.SchemaRepair(repairRecovered)
		return nil
	}
	if g.Provisioner.IsSchemaMissing(err) {
		metrics.SchemaRepair(repairExhausted)
		g.logError("chat schema still missing after provisioning", "op", op, "error", err)
		return domainchat.Unavailable(op, domainchat.SchemaMissing(op, err))
	}
	metrics.SchemaRepair(repairRetryFailed)
	return err
}

// Guarded is Do for calls that return a value.
func Guarded[T any](ctx context.Context, g *SchemaGuard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (g *SchemaGuard) logWarn(msg string, args ...any) {
	if g.Logger != nil {
		g.Logger.Warn(msg, args...)
	}
}

func (g *SchemaGuard) logError(msg string, args ...any) {
	if g.Logger != nil {
		g.Logger.Error(msg, args...)
	}
}
