package kv

import (
	"context"
	"log/slog"
	"time"

	"github.com/foxseedlab/pokerbot/internal/kv"
)

// RunPurger deletes expired items every interval until ctx is done.
func RunPurger(ctx context.Context, p kv.Purger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				slog.Error("failed to purge expired items", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("purged expired items", "count", n)
			}
		}
	}
}
