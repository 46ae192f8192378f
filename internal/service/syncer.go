// Package service holds the sync orchestrator and the catalog read service.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/voyagen/streamvault/internal/apperr"
	"github.com/voyagen/streamvault/internal/cache"
	"github.com/voyagen/streamvault/internal/fetcher"
	"github.com/voyagen/streamvault/internal/ingest"
	"github.com/voyagen/streamvault/internal/metrics"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

// DefaultLockTTL bounds how long a crashed process can hold a source's sync lock.
const DefaultLockTTL = 2 * time.Hour

// SyncOptions tunes a Syncer. The zero value syncs sequentially with no
// cross-process lock and unpaced Xtream calls.
type SyncOptions struct {
	Fetch fetcher.Options
	// XtreamRPS paces calls to a single panel; 0 disables pacing.
	XtreamRPS float64
	// Concurrency is how many sources SyncAll runs at once (default 1).
	Concurrency int
	// Locker, when set, also guards each sync across processes.
	Locker  Locker
	LockTTL time.Duration
}

// Syncer pulls sources into the store. At most one sync per source runs at a time.
type Syncer struct {
	store  store.Store
	writer *ingest.Writer
	cache  cache.Cache
	opts   SyncOptions
	guard  *MemoryGuard
	now    func() time.Time
}

func NewSyncer(s store.Store, w *ingest.Writer, c cache.Cache, opts SyncOptions) *Syncer {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	return &Syncer{store: s, writer: w, cache: c, opts: opts, guard: NewMemoryGuard(), now: time.Now}
}

// Active returns the ids of sources syncing in this process.
func (s *Syncer) Active() []int64 { return s.guard.Active() }

// SyncSummary counts the outcome of a SyncAll pass.
type SyncSummary struct {
	OK      int `json:"ok"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// SyncAll syncs every enabled source. Failures are recorded per source and do
// not stop the pass; the returned error only reports that sources could not be listed.
func (s *Syncer) SyncAll(ctx context.Context) (SyncSummary, error) {
	var sum SyncSummary
	sources, err := s.store.ListEnabledSources(ctx)
	if err != nil {
		return sum, apperr.Storage("SyncAll", err)
	}
	start := s.now()

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Concurrency)
	for _, src := range sources {
		g.Go(func() error {
			started, err := s.SyncSource(ctx, src.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case !started:
				sum.Skipped++
			case err != nil:
				sum.Failed++
			default:
				sum.OK++
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("sync pass finished",
		"sources", len(sources), "ok", sum.OK, "failed", sum.Failed, "skipped", sum.Skipped,
		"duration", s.now().Sub(start).Round(time.Millisecond))
	return sum, nil
}

// SyncSource syncs one source. If the source is already syncing it returns
// (false, nil) without touching its status. Otherwise the outcome is recorded
// in the source's SyncStatus and the sync error, if any, is returned.
// The sync is not cancelled when ctx is.
func (s *Syncer) SyncSource(ctx context.Context, sourceID int64) (started bool, err error) {
	if !s.guard.TryAcquire(sourceID) {
		slog.Info("sync already running", "source_id", sourceID)
		return false, nil
	}
	defer s.guard.Release(sourceID)

	ctx = context.WithoutCancel(ctx)
	if s.opts.Locker != nil {
		unlock, err := s.opts.Locker.TryLock(ctx, cache.SyncLockKey(sourceID), s.opts.LockTTL)
		switch {
		case errors.Is(err, cache.ErrLocked):
			slog.Info("sync running in another process", "source_id", sourceID)
			return false, nil
		case err != nil:
			slog.Warn("sync lock unavailable, using local guard only", "source_id", sourceID, "err", err)
		default:
			defer unlock()
		}
	}

	src, err := s.store.GetSource(ctx, sourceID)
	if errors.Is(err, store.ErrNotFound) {
		return true, apperr.NotFound("source %d not found", sourceID)
	}
	if err != nil {
		return true, apperr.Storage("GetSource", err)
	}

	log := slog.With("run_id", uuid.NewString(), "source_id", src.ID, "source", src.Name, "type", src.Type)
	log.Info("sync started")
	s.setStatus(ctx, log, models.SyncStatus{SourceID: src.ID, Status: models.SyncStatusSyncing})
	start := s.now()

	switch src.Type {
	case models.SourceTypeXtream:
		err = s.syncXtream(ctx, log, src)
	case models.SourceTypeM3U:
		err = s.syncM3U(ctx, log, src)
	case models.SourceTypeEPG:
		err = s.syncEPG(ctx, log, src.ID, src.URL, s.fetchOptions(src))
	default:
		err = apperr.BadRequest("unsupported source type %q", src.Type)
	}

	done := s.now().UTC()
	metrics.SyncDuration.WithLabelValues(string(src.Type)).Observe(done.Sub(start).Seconds())
	if err != nil {
		metrics.SyncRuns.WithLabelValues(string(src.Type), "error").Inc()
		log.Error("sync failed", "kind", apperr.KindOf(err).String(), "err", err)
		s.setStatus(ctx, log, models.SyncStatus{SourceID: src.ID, Status: models.SyncStatusError, ErrorMessage: err.Error(), LastSyncAt: &done})
		return true, err
	}
	metrics.SyncRuns.WithLabelValues(string(src.Type), "success").Inc()
	s.setStatus(ctx, log, models.SyncStatus{SourceID: src.ID, Status: models.SyncStatusSuccess, LastSyncAt: &done})
	if err := s.cache.ClearSource(ctx, src.ID); err != nil {
		log.Warn("cache clear failed", "err", err)
	}
	log.Info("sync finished", "duration", done.Sub(start).Round(time.Millisecond))
	return true, nil
}

func (s *Syncer) setStatus(ctx context.Context, log *slog.Logger, st models.SyncStatus) {
	st.Scope = models.SyncScopeAll
	if err := s.store.SetSyncStatus(ctx, st); err != nil {
		log.Error("recording sync status failed", "status", st.Status, "err", err)
	}
}

func (s *Syncer) fetchOptions(src *models.Source) fetcher.Options {
	opts := s.opts.Fetch
	if src.UserAgent != "" {
		opts.UserAgent = src.UserAgent
	}
	return opts
}

// xtreamStep pairs a category call with its stream call.
type xtreamStep struct {
	kind  models.ItemType
	cats  func(context.Context) ([]models.UpstreamCategory, error)
	items func(context.Context) ([]models.UpstreamItem, error)
}

func (s *Syncer) syncXtream(ctx context.Context, log *slog.Logger, src *models.Source) error {
	opts := s.fetchOptions(src)
	if s.opts.XtreamRPS > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(s.opts.XtreamRPS), 1)
	}
	client := fetcher.NewXtreamClient(*src, opts)

	steps := []xtreamStep{
		{models.ItemTypeLive, client.GetLiveCategories, client.GetLiveStreams},
		{models.ItemTypeMovie, client.GetVodCategories, client.GetVodStreams},
		{models.ItemTypeSeries, client.GetSeriesCategories, client.GetSeries},
	}
	for _, step := range steps {
		cats, err := step.cats(ctx)
		if err != nil {
			return err
		}
		nc, err := s.writer.SaveCategories(ctx, src.ID, step.kind, cats)
		if err != nil {
			return err
		}
		items, err := step.items(ctx)
		if err != nil {
			return err
		}
		ni, err := s.writer.SaveStreams(ctx, src.ID, step.kind, items)
		if err != nil {
			return err
		}
		log.Info("xtream catalog stored", "kind", step.kind, "categories", nc, "items", ni)
	}

	// The panel guide is best effort; only a local storage failure fails the sync.
	if err := s.syncEPG(ctx, log, src.ID, client.XMLTVURL(), opts); err != nil {
		if apperr.Is(err, apperr.KindStorage) {
			return err
		}
		log.Warn("xtream epg skipped", "kind", apperr.KindOf(err).String(), "err", err)
	}
	return nil
}

func (s *Syncer) syncM3U(ctx context.Context, log *slog.Logger, src *models.Source) error {
	batch := s.writer.NewM3UBatch(ctx, src.ID)
	if err := fetcher.FetchM3U(ctx, s.fetchOptions(src), src.URL, batch.Add); err != nil {
		return err
	}
	if err := batch.Flush(); err != nil {
		return err
	}
	log.Info("m3u stored", "channels", batch.Channels, "groups", batch.Groups)
	return nil
}

func (s *Syncer) syncEPG(ctx context.Context, log *slog.Logger, sourceID int64, url string, opts fetcher.Options) error {
	guide, err := fetcher.FetchAndParseEPG(ctx, opts, url)
	if err != nil {
		return err
	}
	if err := s.writer.IngestEpg(ctx, sourceID, guide.Channels, guide.Programmes); err != nil {
		return err
	}
	log.Info("epg stored", "channels", len(guide.Channels), "programmes", len(guide.Programmes), "skipped", guide.Skipped)
	return nil
}
