package middleware

import (
	"context"
	"log/slog"

	"rentchat/internal/app/commands"
	"rentchat/internal/app/outbox"
)

// OutboxFlush flushes box after every successful command. The command already
// committed its writes, so a flush failure is logged and the result returned.
func OutboxFlush(box outbox.Outbox, logger *slog.Logger) CommandMiddleware {
	if box == nil {
		panic("middleware: outbox required")
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			res, err := next.Dispatch(ctx, cmd)
			if err != nil {
				return nil, err
			}
			if ferr := box.Flush(ctx); ferr != nil && logger != nil {
				logger.Warn("outbox flush failed", "command", cmd.Key(), "error", ferr)
			}
			return res, nil
		})
	}
}
