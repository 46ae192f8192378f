// Package jobs runs background work: scheduled syncs, cache sweeps and the
// Redis sync-queue worker.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/voyagen/streamvault/internal/service"
)

// SweepInterval is how often expired in-memory cache entries are dropped.
const SweepInterval = 10 * time.Minute

// SyncRunner is implemented by *service.Syncer.
type SyncRunner interface {
	SyncAll(ctx context.Context) (service.SyncSummary, error)
	SyncSource(ctx context.Context, sourceID int64) (bool, error)
}

// Sweeper is implemented by *cache.Memory.
type Sweeper interface {
	Sweep() int
}

// Schedule configures the periodic jobs. A zero SyncInterval disables
// scheduled syncs; a nil Sweeper disables sweeping.
type Schedule struct {
	SyncInterval  time.Duration
	SweepInterval time.Duration
	Sweeper       Sweeper
}

// Start launches the scheduler in singleton mode, so a slow sync pass is
// never overlapped by the next tick. Stop the returned scheduler on shutdown.
func Start(ctx context.Context, runner SyncRunner, sched Schedule) (*gocron.Scheduler, error) {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	if sched.SyncInterval > 0 {
		slog.Info("scheduling sync", "every", sched.SyncInterval)
		_, err := s.Every(sched.SyncInterval).Tag("sync-all").Do(func() {
			if _, err := runner.SyncAll(ctx); err != nil {
				slog.Error("scheduled sync failed", "err", err)
			}
		})
		if err != nil {
			return nil, err
		}
	} else {
		slog.Info("sync interval is 0, scheduled sync is disabled")
	}

	if sched.Sweeper != nil {
		every := sched.SweepInterval
		if every <= 0 {
			every = SweepInterval
		}
		_, err := s.Every(every).Tag("cache-sweep").WaitForSchedule().Do(func() {
			if n := sched.Sweeper.Sweep(); n > 0 {
				slog.Debug("cache swept", "expired", n)
			}
		})
		if err != nil {
			return nil, err
		}
	}

	s.StartAsync()
	return s, nil
}
