package ingest

import (
	"context"

	"github.com/voyagen/streamvault/internal/fetcher"
	"github.com/voyagen/streamvault/internal/models"
)

// M3UBatch persists a playlist while it is being parsed. Add is shaped to be
// the fetcher.ParseM3U callback; entries are written every BatchSize channels,
// so only one batch and the set of seen group titles are held in memory.
type M3UBatch struct {
	w        *Writer
	ctx      context.Context
	sourceID int64

	seen  map[string]struct{}
	cats  []models.Category
	items []models.PlaylistItem

	Channels int
	Groups   int
}

// NewM3UBatch starts a streaming write for sourceID. Call Flush after the parse.
func (w *Writer) NewM3UBatch(ctx context.Context, sourceID int64) *M3UBatch {
	return &M3UBatch{
		w:        w,
		ctx:      ctx,
		sourceID: sourceID,
		seen:     make(map[string]struct{}),
	}
}

// Add queues ch, and its group on first sight, flushing when the batch is full.
func (b *M3UBatch) Add(ch fetcher.M3UChannel) error {
	if ch.Group != "" {
		if _, ok := b.seen[ch.Group]; !ok {
			b.seen[ch.Group] = struct{}{}
			b.cats = append(b.cats, GroupCategory(b.sourceID, ch.Group, b.Groups))
			b.Groups++
		}
	}
	b.items = append(b.items, M3UItem(b.sourceID, ch, b.Channels))
	b.Channels++
	if len(b.items) >= b.w.batchSize {
		return b.Flush()
	}
	return nil
}

// Flush writes queued categories, then queued items.
func (b *M3UBatch) Flush() error {
	if len(b.cats) > 0 {
		if _, err := b.w.SaveCategoryRows(b.ctx, b.cats); err != nil {
			return err
		}
		b.cats = b.cats[:0]
	}
	if len(b.items) > 0 {
		if _, err := b.w.SaveItems(b.ctx, b.items); err != nil {
			return err
		}
		b.items = b.items[:0]
	}
	return nil
}
