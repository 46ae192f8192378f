// Package ingest persists adapter output in fixed-size batches. Each batch is
// one store call, and so one transaction; the writer yields between batches so
// a large sync does not starve concurrent API and proxy requests.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/voyagen/streamvault/internal/apperr"
	"github.com/voyagen/streamvault/internal/fetcher"
	"github.com/voyagen/streamvault/internal/metrics"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

// DefaultBatchSize is the number of rows per transaction.
const DefaultBatchSize = 500

// Writer is the batch persistence writer.
type Writer struct {
	store     store.Store
	batchSize int
}

// NewWriter returns a Writer over s. batchSize <= 0 uses DefaultBatchSize.
func NewWriter(s store.Store, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{store: s, batchSize: batchSize}
}

// BatchSize returns the configured chunk size.
func (w *Writer) BatchSize() int { return w.batchSize }

// SaveCategories upserts upstream categories of type t, keeping their upstream order.
func (w *Writer) SaveCategories(ctx context.Context, sourceID int64, t models.ItemType, cats []models.UpstreamCategory) (int, error) {
	rows := make([]models.Category, 0, len(cats))
	for i, c := range cats {
		cat := c.ToCategory(sourceID, t)
		if cat.CategoryID == "" {
			slog.Warn("skipping category without id", "source_id", sourceID, "type", t, "name", cat.Name)
			continue
		}
		cat.Position = i
		rows = append(rows, cat)
	}
	return w.SaveCategoryRows(ctx, rows)
}

// SaveCategoryRows upserts already mapped categories.
func (w *Writer) SaveCategoryRows(ctx context.Context, rows []models.Category) (int, error) {
	n, err := inChunks(ctx, rows, w.batchSize, func(chunk []models.Category) error {
		return w.store.UpsertCategories(ctx, chunk)
	})
	metrics.PersistedRows.WithLabelValues("categories").Add(float64(n))
	if err != nil {
		return n, apperr.Storage("SaveCategories", err)
	}
	return n, nil
}

// SaveStreams maps each tagged upstream record and upserts the result.
// Records that cannot be mapped (no id) are logged and skipped.
func (w *Writer) SaveStreams(ctx context.Context, sourceID int64, t models.ItemType, items []models.UpstreamItem) (int, error) {
	rows := make([]models.PlaylistItem, 0, len(items))
	skipped := 0
	for i, u := range items {
		it, err := u.ToPlaylistItem(sourceID)
		if err != nil {
			skipped++
			continue
		}
		it.Position = i
		rows = append(rows, it)
	}
	if skipped > 0 {
		slog.Warn("skipped unmappable items", "source_id", sourceID, "type", t, "count", skipped)
	}
	return w.SaveItems(ctx, rows)
}

// SaveItems upserts already mapped items.
func (w *Writer) SaveItems(ctx context.Context, items []models.PlaylistItem) (int, error) {
	n, err := inChunks(ctx, items, w.batchSize, func(chunk []models.PlaylistItem) error {
		return w.store.UpsertItems(ctx, chunk)
	})
	metrics.PersistedRows.WithLabelValues("playlist_items").Add(float64(n))
	if err != nil {
		return n, apperr.Storage("SaveItems", err)
	}
	return n, nil
}

// IngestEpg upserts the guide's channels as epg_channel items, then swaps the
// source's programme set in a single transaction.
func (w *Writer) IngestEpg(ctx context.Context, sourceID int64, channels []fetcher.EPGChannel, programmes []fetcher.EPGProgramme) error {
	items := make([]models.PlaylistItem, 0, len(channels))
	for i, ch := range channels {
		items = append(items, EPGChannelItem(sourceID, ch, i))
	}
	if _, err := w.SaveItems(ctx, items); err != nil {
		return err
	}

	progs := make([]models.EpgProgram, 0, len(programmes))
	for _, p := range programmes {
		progs = append(progs, models.EpgProgram{
			ChannelID:   p.ChannelID,
			SourceID:    sourceID,
			StartTime:   p.Start.UnixMilli(),
			EndTime:     p.Stop.UnixMilli(),
			Title:       p.Title,
			Description: p.Description,
		})
	}
	if err := w.store.ReplacePrograms(ctx, sourceID, progs); err != nil {
		return apperr.Storage("IngestEpg", err)
	}
	metrics.PersistedRows.WithLabelValues("epg_programs").Add(float64(len(progs)))
	slog.Debug("epg stored", "source_id", sourceID, "channels", len(items), "programmes", len(progs))
	return nil
}

// EPGChannelItem maps an XMLTV channel onto a stored epg_channel item.
func EPGChannelItem(sourceID int64, ch fetcher.EPGChannel, pos int) models.PlaylistItem {
	return models.PlaylistItem{
		ID:         models.CompositeID(sourceID, ch.ID),
		SourceID:   sourceID,
		Type:       models.ItemTypeEPGChannel,
		ItemID:     ch.ID,
		Name:       ch.Name,
		Icon:       ch.Icon,
		Position:   pos,
		RawPayload: mustJSON(ch),
	}
}

// M3UItem maps a playlist entry onto a live item. The full entry, headers
// included, is kept as the raw payload.
func M3UItem(sourceID int64, ch fetcher.M3UChannel, pos int) models.PlaylistItem {
	streamURL := ch.URL
	return models.PlaylistItem{
		ID:         models.CompositeID(sourceID, ch.ID),
		SourceID:   sourceID,
		Type:       models.ItemTypeLive,
		ItemID:     ch.ID,
		Name:       ch.Name,
		CategoryID: ch.Group,
		Icon:       ch.Logo,
		StreamURL:  &streamURL,
		Position:   pos,
		RawPayload: mustJSON(ch),
	}
}

// GroupCategory synthesizes a live category from an M3U group title.
// The title is both the category id and its name.
func GroupCategory(sourceID int64, group string, pos int) models.Category {
	return models.Category{
		ID:         models.CompositeID(sourceID, group),
		SourceID:   sourceID,
		Type:       models.ItemTypeLive,
		CategoryID: group,
		Name:       group,
		Position:   pos,
	}
}

// inChunks calls fn for consecutive slices of at most size rows and returns
// the number of rows written before the first error.
func inChunks[T any](ctx context.Context, rows []T, size int, fn func([]T) error) (int, error) {
	written := 0
	for start := 0; start < len(rows); start += size {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("ingest cancelled: %w", err)
		}
		end := min(start+size, len(rows))
		if err := fn(rows[start:end]); err != nil {
			return written, err
		}
		written += end - start
		runtime.Gosched()
	}
	return written, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
