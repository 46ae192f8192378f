package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/voyagen/streamvault/internal/apperr"
	"github.com/voyagen/streamvault/internal/cache"
	"github.com/voyagen/streamvault/internal/fetcher"
	"github.com/voyagen/streamvault/internal/metrics"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

// Cache TTLs for upstream lookups served by the catalog.
const (
	TTLAuth   = 5 * time.Minute
	TTLDetail = time.Hour
)

// LookupTimeout bounds a shared upstream lookup, which no single caller can cancel.
const LookupTimeout = 30 * time.Second

// EPGWindow is how far the guide reaches on each side of now.
const EPGWindow = 24 * time.Hour

// Catalog serves stored catalogs and cached upstream lookups.
type Catalog struct {
	store     store.Store
	cache     cache.Cache
	fetch     fetcher.Options
	epgMaxAge time.Duration
	now       func() time.Time
	flight    singleflight.Group
}

// NewCatalog builds a read service. epgMaxAge is the default EPG cache age.
func NewCatalog(s store.Store, c cache.Cache, fetch fetcher.Options, epgMaxAge time.Duration) *Catalog {
	if epgMaxAge <= 0 {
		epgMaxAge = time.Hour
	}
	return &Catalog{store: s, cache: c, fetch: fetch, epgMaxAge: epgMaxAge, now: time.Now}
}

// Source returns the source or a NotFound error.
func (c *Catalog) Source(ctx context.Context, sourceID int64) (*models.Source, error) {
	src, err := c.store.GetSource(ctx, sourceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("source %d not found", sourceID)
	}
	if err != nil {
		return nil, apperr.Storage("GetSource", err)
	}
	return src, nil
}

func (c *Catalog) xtreamClient(ctx context.Context, sourceID int64) (*fetcher.XtreamClient, error) {
	src, err := c.Source(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src.Type != models.SourceTypeXtream {
		return nil, apperr.BadRequest("source %d is not an xtream source", sourceID)
	}
	opts := c.fetch
	if src.UserAgent != "" {
		opts.UserAgent = src.UserAgent
	}
	return fetcher.NewXtreamClient(*src, opts), nil
}

// Authenticate returns the panel's authenticate payload, cached for TTLAuth.
func (c *Catalog) Authenticate(ctx context.Context, sourceID int64) (json.RawMessage, error) {
	client, err := c.xtreamClient(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return c.cachedRaw(ctx, cache.SourceKey(sourceID, "auth"), TTLAuth, func(ctx context.Context) (json.RawMessage, error) {
		return client.Authenticate(ctx)
	})
}

// SeriesInfo returns get_series_info for seriesID, cached for TTLDetail.
func (c *Catalog) SeriesInfo(ctx context.Context, sourceID int64, seriesID string) (json.RawMessage, error) {
	if seriesID == "" {
		return nil, apperr.BadRequest("series_id is required")
	}
	client, err := c.xtreamClient(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return c.cachedRaw(ctx, cache.SourceKey(sourceID, "series_info", seriesID), TTLDetail, func(ctx context.Context) (json.RawMessage, error) {
		return client.GetSeriesInfo(ctx, seriesID)
	})
}

// VodInfo returns get_vod_info for vodID, cached for TTLDetail.
func (c *Catalog) VodInfo(ctx context.Context, sourceID int64, vodID string) (json.RawMessage, error) {
	if vodID == "" {
		return nil, apperr.BadRequest("vod_id is required")
	}
	client, err := c.xtreamClient(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return c.cachedRaw(ctx, cache.SourceKey(sourceID, "vod_info", vodID), TTLDetail, func(ctx context.Context) (json.RawMessage, error) {
		return client.GetVodInfo(ctx, vodID)
	})
}

// StreamURL builds the playable panel URL for an item. An empty container
// falls back to the type's default.
func (c *Catalog) StreamURL(ctx context.Context, sourceID int64, streamID string, t models.ItemType, container string) (string, error) {
	if streamID == "" {
		return "", apperr.BadRequest("stream id is required")
	}
	client, err := c.xtreamClient(ctx, sourceID)
	if err != nil {
		return "", err
	}
	return client.StreamURL(t, streamID, container), nil
}

// cachedRaw serves key from the cache or calls fetch once for all concurrent misses.
// The shared fetch runs detached from every caller; each caller stops waiting
// when its own ctx is done.
func (c *Catalog) cachedRaw(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if v, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return v, nil
	} else if err != nil {
		slog.Warn("cache get failed", "key", key, "err", err)
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	ch := c.flight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LookupTimeout)
		defer cancel()
		raw, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(fctx, key, raw, ttl); err != nil {
			slog.Warn("cache set failed", "key", key, "err", err)
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(json.RawMessage), nil
	}
}

// Categories returns the stored categories of one type as upstream-shaped objects.
func (c *Catalog) Categories(ctx context.Context, sourceID int64, t models.ItemType, includeHidden bool) ([]json.RawMessage, error) {
	if _, err := c.Source(ctx, sourceID); err != nil {
		return nil, err
	}
	cats, err := c.store.ListCategories(ctx, store.CategoryFilter{SourceID: sourceID, Type: t, IncludeHidden: includeHidden})
	if err != nil {
		return nil, apperr.Storage("ListCategories", err)
	}
	out := make([]json.RawMessage, 0, len(cats))
	for _, cat := range cats {
		if len(cat.RawPayload) == 0 {
			out = append(out, mustMarshal(map[string]any{
				"category_id": cat.CategoryID, "category_name": cat.Name, "parent_id": cat.ParentID, "hidden": cat.Hidden,
			}))
			continue
		}
		out = append(out, withHidden(cat.RawPayload, cat.Hidden))
	}
	return out, nil
}

// Items returns the stored items of one type, optionally of one category, as
// upstream-shaped objects.
func (c *Catalog) Items(ctx context.Context, sourceID int64, t models.ItemType, categoryID string, includeHidden bool) ([]json.RawMessage, error) {
	if _, err := c.Source(ctx, sourceID); err != nil {
		return nil, err
	}
	items, err := c.store.ListItems(ctx, store.ItemFilter{SourceID: sourceID, Type: t, CategoryID: categoryID, IncludeHidden: includeHidden})
	if err != nil {
		return nil, apperr.Storage("ListItems", err)
	}
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		if len(it.RawPayload) == 0 {
			out = append(out, mustMarshal(it))
			continue
		}
		out = append(out, withHidden(it.RawPayload, it.Hidden))
	}
	return out, nil
}

// M3U rebuilds a playlist from the stored live items and categories of a source.
// Xtream sources get panel stream URLs; group titles are category names.
func (c *Catalog) M3U(ctx context.Context, sourceID int64, includeHidden bool) (*fetcher.M3UResult, error) {
	src, err := c.Source(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	cats, err := c.store.ListCategories(ctx, store.CategoryFilter{SourceID: sourceID, Type: models.ItemTypeLive, IncludeHidden: includeHidden})
	if err != nil {
		return nil, apperr.Storage("ListCategories", err)
	}
	items, err := c.store.ListItems(ctx, store.ItemFilter{SourceID: sourceID, Type: models.ItemTypeLive, IncludeHidden: includeHidden})
	if err != nil {
		return nil, apperr.Storage("ListItems", err)
	}

	res := &fetcher.M3UResult{Channels: make([]fetcher.M3UChannel, 0, len(items)), Groups: make([]string, 0, len(cats))}
	names := make(map[string]string, len(cats))
	for _, cat := range cats {
		names[cat.CategoryID] = cat.Name
		res.Groups = append(res.Groups, cat.Name)
	}
	var client *fetcher.XtreamClient
	if src.Type == models.SourceTypeXtream {
		client = fetcher.NewXtreamClient(*src, c.fetch)
	}
	for _, it := range items {
		ch := fetcher.M3UChannel{ID: it.ItemID, Name: it.Name, Logo: it.Icon}
		if src.Type == models.SourceTypeM3U && len(it.RawPayload) > 0 {
			_ = json.Unmarshal(it.RawPayload, &ch)
		}
		ch.Group = it.CategoryID
		if name, ok := names[it.CategoryID]; ok {
			ch.Group = name
		}
		switch {
		case it.StreamURL != nil:
			ch.URL = *it.StreamURL
		case client != nil:
			ch.URL = client.StreamURL(models.ItemTypeLive, it.ItemID, "")
		}
		res.Channels = append(res.Channels, ch)
	}
	return res, nil
}

// EPGResult is the guide window served to clients.
type EPGResult struct {
	Channels   []fetcher.EPGChannel   `json:"channels"`
	Programmes []fetcher.EPGProgramme `json:"programmes"`
}

type cachedEPG struct {
	GeneratedAt time.Time `json:"generated_at"`
	EPGResult
}

// EPG returns channels and programmes within EPGWindow of now. A cached window
// younger than maxAge (default: the configured EPG max age) is reused unless refresh is set.
func (c *Catalog) EPG(ctx context.Context, sourceID int64, maxAge time.Duration, refresh bool) (*EPGResult, error) {
	if _, err := c.Source(ctx, sourceID); err != nil {
		return nil, err
	}
	if maxAge <= 0 {
		maxAge = c.epgMaxAge
	}
	key := cache.SourceKey(sourceID, "epg")
	if !refresh {
		hit, ok, err := cache.GetJSON[cachedEPG](ctx, c.cache, key)
		if err != nil {
			slog.Warn("cache get failed", "key", key, "err", err)
		}
		if ok && c.now().Sub(hit.GeneratedAt) <= maxAge {
			return &hit.EPGResult, nil
		}
	}

	now := c.now()
	res, err := c.buildEPG(ctx, sourceID, now)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, c.cache, key, cachedEPG{GeneratedAt: now, EPGResult: *res}, max(maxAge, c.epgMaxAge)); err != nil {
		slog.Warn("cache set failed", "key", key, "err", err)
	}
	return res, nil
}

func (c *Catalog) buildEPG(ctx context.Context, sourceID int64, now time.Time) (*EPGResult, error) {
	from, to := now.Add(-EPGWindow).UnixMilli(), now.Add(EPGWindow).UnixMilli()
	progs, err := c.store.ListPrograms(ctx, sourceID, from, to)
	if err != nil {
		return nil, apperr.Storage("ListPrograms", err)
	}
	items, err := c.store.ListItems(ctx, store.ItemFilter{SourceID: sourceID, Type: models.ItemTypeEPGChannel, IncludeHidden: true})
	if err != nil {
		return nil, apperr.Storage("ListItems", err)
	}

	res := &EPGResult{Channels: make([]fetcher.EPGChannel, 0, len(items)), Programmes: make([]fetcher.EPGProgramme, 0, len(progs))}
	for _, it := range items {
		res.Channels = append(res.Channels, fetcher.EPGChannel{ID: it.ItemID, Name: it.Name, Icon: it.Icon})
	}
	seen := make(map[string]bool)
	for _, p := range progs {
		res.Programmes = append(res.Programmes, fetcher.EPGProgramme{
			ChannelID:   p.ChannelID,
			Start:       p.Start(),
			Stop:        p.Stop(),
			Title:       p.Title,
			Description: p.Description,
		})
		// Without stored channels, the guide's channels are its programme channel ids.
		if len(items) == 0 && !seen[p.ChannelID] {
			seen[p.ChannelID] = true
			res.Channels = append(res.Channels, fetcher.EPGChannel{ID: p.ChannelID, Name: p.ChannelID})
		}
	}
	return res, nil
}

// ClearCache drops every cached entry of a source.
func (c *Catalog) ClearCache(ctx context.Context, sourceID int64) error {
	if err := c.cache.ClearSource(ctx, sourceID); err != nil {
		return apperr.Storage("ClearCache", err)
	}
	return nil
}

// SyncStatus returns the last recorded sync of a source.
func (c *Catalog) SyncStatus(ctx context.Context, sourceID int64) (*models.SyncStatus, error) {
	if _, err := c.Source(ctx, sourceID); err != nil {
		return nil, err
	}
	st, err := c.store.GetSyncStatus(ctx, sourceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("source %d has not been synced", sourceID)
	}
	if err != nil {
		return nil, apperr.Storage("GetSyncStatus", err)
	}
	return st, nil
}

// SetCategoryHidden sets the operator hide flag of a category.
func (c *Catalog) SetCategoryHidden(ctx context.Context, sourceID int64, t models.ItemType, categoryID string, hidden bool) error {
	err := c.store.SetCategoryHidden(ctx, sourceID, t, categoryID, hidden)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("category %s/%s of source %d not found", t, categoryID, sourceID)
	}
	if err != nil {
		return apperr.Storage("SetCategoryHidden", err)
	}
	return nil
}

// SetItemHidden sets the operator hide flag of an item.
func (c *Catalog) SetItemHidden(ctx context.Context, sourceID int64, t models.ItemType, itemID string, hidden bool) error {
	err := c.store.SetItemHidden(ctx, sourceID, t, itemID, hidden)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("item %s/%s of source %d not found", t, itemID, sourceID)
	}
	if err != nil {
		return apperr.Storage("SetItemHidden", err)
	}
	return nil
}

// withHidden marks a hidden row by setting "hidden":true on its JSON object.
// Non-object payloads are returned unchanged.
func withHidden(raw json.RawMessage, hidden bool) json.RawMessage {
	if !hidden {
		return raw
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return raw
	}
	obj["hidden"] = json.RawMessage("true")
	return mustMarshal(obj)
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
