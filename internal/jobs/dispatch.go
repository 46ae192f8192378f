package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/voyagen/streamvault/internal/apperr"
	"github.com/voyagen/streamvault/internal/cache"
)

// Dispatcher starts syncs requested through the API. With a Redis queue the
// job is enqueued for whichever worker picks it up first; without one it runs
// in a goroutine of this process.
type Dispatcher struct {
	runner SyncRunner
	queue  *cache.Redis
	// QueueName defaults to cache.SyncQueue.
	QueueName string
}

func NewDispatcher(runner SyncRunner, queue *cache.Redis) *Dispatcher {
	return &Dispatcher{runner: runner, queue: queue, QueueName: cache.SyncQueue}
}

// Dispatch requests a sync of sourceID, or of every enabled source when
// sourceID is 0, and returns the job id.
func (d *Dispatcher) Dispatch(ctx context.Context, sourceID int64) (string, error) {
	job := cache.NewSyncJob(sourceID)
	if d.queue != nil {
		if err := cache.Enqueue(ctx, d.queue, d.QueueName, job); err != nil {
			return "", apperr.Storage("Enqueue", err)
		}
		slog.Info("sync job queued", "job_id", job.ID, "source_id", sourceID)
		return job.ID, nil
	}
	go Run(context.WithoutCancel(ctx), d.runner, job)
	return job.ID, nil
}

// Run executes one job. Sync failures are already recorded in the source's
// status, so they are only logged here.
func Run(ctx context.Context, runner SyncRunner, job cache.SyncJob) {
	log := slog.With("job_id", job.ID, "source_id", job.SourceID)
	log.Info("sync job started", "waited", time.Since(job.RequestedAt).Round(time.Millisecond))
	if job.SourceID == 0 {
		if _, err := runner.SyncAll(ctx); err != nil {
			log.Error("sync job failed", "err", err)
		}
		return
	}
	started, err := runner.SyncSource(ctx, job.SourceID)
	switch {
	case err != nil:
		log.Error("sync job failed", "kind", apperr.KindOf(err).String(), "err", err)
	case !started:
		log.Info("sync job skipped, source already syncing")
	}
}
