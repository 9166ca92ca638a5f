package ipguard

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper calls Sweep every interval until ctx is done. It is meant to
// run in its own goroutine, off the request path.
func (b *Blocker) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := b.Sweep(ctx)
			if err != nil {
				b.logger.Error("ipguard: sweep failed", slog.Any("error", err))
				continue
			}
			if res.BlocksRemoved > 0 || res.RequestLogsDeleted > 0 {
				b.logger.Debug("ipguard: sweep completed",
					slog.Int("blocks_removed", res.BlocksRemoved),
					slog.Int64("request_logs_pruned", res.RequestLogsPruned),
					slog.Int("request_logs_deleted", res.RequestLogsDeleted),
				)
			}
		}
	}
}
