package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/voyagen/streamvault/internal/cache"
)

// DequeueTimeout bounds each blocking pop so the worker notices shutdown.
const DequeueTimeout = 5 * time.Second

// RunWorker consumes sync jobs from the Redis queue until ctx is cancelled.
// Jobs run one at a time; the per-source lock makes several workers safe.
func RunWorker(ctx context.Context, rds *cache.Redis, queue string, runner SyncRunner) {
	slog.Info("sync worker started", "queue", queue)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sync worker stopping")
			return
		default:
		}

		job, err := cache.Dequeue(ctx, rds, queue, DequeueTimeout)
		if err != nil {
			slog.Error("sync worker dequeue failed", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
			continue
		}
		if job == nil {
			continue // timeout, loop back to check ctx
		}
		Run(ctx, runner, *job)
	}
}
