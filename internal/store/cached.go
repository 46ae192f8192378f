package store

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/voyagen/streamvault/internal/cache"
	"github.com/voyagen/streamvault/internal/models"
)

// Cache TTLs for list reads.
const (
	ttlCategories = 1 * time.Minute
	ttlItems      = 1 * time.Minute
)

// CachedStore wraps a Store with a read-through cache for category and item lists.
// Writes for a source drop only that source's list keys; upstream lookups
// cached under the same namespace are left alone. Everything else passes through.
type CachedStore struct {
	Store
	cache cache.Cache
}

// NewCachedStore creates a CachedStore that wraps inner with c.
func NewCachedStore(inner Store, c cache.Cache) *CachedStore {
	return &CachedStore{Store: inner, cache: c}
}

// --- cached read operations ---

func (c *CachedStore) ListCategories(ctx context.Context, f CategoryFilter) ([]models.Category, error) {
	key := cache.SourceKey(f.SourceID, "categories", typeKey(f.Type), strconv.FormatBool(f.IncludeHidden))
	if v, ok, err := cache.GetJSON[[]models.Category](ctx, c.cache, key); err == nil && ok {
		return v, nil
	}
	cats, err := c.Store.ListCategories(ctx, f)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, c.cache, key, cats, ttlCategories); err != nil {
		slog.Warn("cache set failed", "key", key, "err", err)
	}
	return cats, nil
}

func (c *CachedStore) ListItems(ctx context.Context, f ItemFilter) ([]models.PlaylistItem, error) {
	key := cache.SourceKey(f.SourceID, "items", typeKey(f.Type), f.CategoryID, strconv.FormatBool(f.IncludeHidden))
	if v, ok, err := cache.GetJSON[[]models.PlaylistItem](ctx, c.cache, key); err == nil && ok {
		return v, nil
	}
	items, err := c.Store.ListItems(ctx, f)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, c.cache, key, items, ttlItems); err != nil {
		slog.Warn("cache set failed", "key", key, "err", err)
	}
	return items, nil
}

// --- write operations with cache invalidation ---

func (c *CachedStore) UpsertCategories(ctx context.Context, cats []models.Category) error {
	if err := c.Store.UpsertCategories(ctx, cats); err != nil {
		return err
	}
	seen := make(map[int64]bool)
	for _, cat := range cats {
		if !seen[cat.SourceID] {
			seen[cat.SourceID] = true
			c.invalidate(ctx, cat.SourceID)
		}
	}
	return nil
}

func (c *CachedStore) UpsertItems(ctx context.Context, items []models.PlaylistItem) error {
	if err := c.Store.UpsertItems(ctx, items); err != nil {
		return err
	}
	seen := make(map[int64]bool)
	for _, it := range items {
		if !seen[it.SourceID] {
			seen[it.SourceID] = true
			c.invalidate(ctx, it.SourceID)
		}
	}
	return nil
}

func (c *CachedStore) ReplacePrograms(ctx context.Context, sourceID int64, progs []models.EpgProgram) error {
	if err := c.Store.ReplacePrograms(ctx, sourceID, progs); err != nil {
		return err
	}
	c.invalidate(ctx, sourceID)
	return nil
}

func (c *CachedStore) SetCategoryHidden(ctx context.Context, sourceID int64, t models.ItemType, categoryID string, hidden bool) error {
	if err := c.Store.SetCategoryHidden(ctx, sourceID, t, categoryID, hidden); err != nil {
		return err
	}
	c.invalidate(ctx, sourceID)
	return nil
}

func (c *CachedStore) SetItemHidden(ctx context.Context, sourceID int64, t models.ItemType, itemID string, hidden bool) error {
	if err := c.Store.SetItemHidden(ctx, sourceID, t, itemID, hidden); err != nil {
		return err
	}
	c.invalidate(ctx, sourceID)
	return nil
}

// --- helpers ---

// invalidate drops the cached category and item lists of sourceID, logging any errors.
func (c *CachedStore) invalidate(ctx context.Context, sourceID int64) {
	for _, kind := range []string{"categories", "items"} {
		if err := c.cache.ClearPrefix(ctx, cache.SourceKey(sourceID, kind, "")); err != nil {
			slog.Warn("cache clear failed", "source_id", sourceID, "keys", kind, "err", err)
		}
	}
}

func typeKey(t models.ItemType) string {
	if t == "" {
		return "all"
	}
	return string(t)
}
