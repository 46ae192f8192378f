package store

import (
	"context"

	"github.com/voyagen/streamvault/internal/apperr"
	"github.com/voyagen/streamvault/internal/models"
)

// ErrNotFound is returned when a source or row does not exist.
var ErrNotFound = apperr.New(apperr.KindNotFound, "not found")

// Store is the persistence contract of the sync engine and read API.
// Each Upsert*/Replace* call is one transaction; callers chunk large inputs.
type Store interface {
	// ListSources returns all sources ordered by id.
	ListSources(ctx context.Context) ([]models.Source, error)
	// ListEnabledSources returns sources with enabled = true, ordered by id.
	ListEnabledSources(ctx context.Context) ([]models.Source, error)
	// GetSource returns a single source or ErrNotFound.
	GetSource(ctx context.Context, sourceID int64) (*models.Source, error)
	// UpsertSource creates or updates a source by name and returns its id.
	UpsertSource(ctx context.Context, src models.Source) (int64, error)

	// UpsertCategories inserts or updates categories keyed by (source_id, type, category_id).
	// The hidden flag of existing rows is preserved.
	UpsertCategories(ctx context.Context, cats []models.Category) error
	// UpsertItems inserts or updates items keyed by (source_id, type, item_id).
	// The hidden flag of existing rows is preserved.
	UpsertItems(ctx context.Context, items []models.PlaylistItem) error
	// ReplacePrograms deletes every programme of sourceID and inserts progs, in one transaction.
	ReplacePrograms(ctx context.Context, sourceID int64, progs []models.EpgProgram) error

	// SetSyncStatus upserts the status row of (SourceID, Scope).
	SetSyncStatus(ctx context.Context, st models.SyncStatus) error
	// GetSyncStatus returns the "all" scope status or ErrNotFound before the first sync.
	GetSyncStatus(ctx context.Context, sourceID int64) (*models.SyncStatus, error)
	ListSyncStatuses(ctx context.Context) ([]models.SyncStatus, error)

	ListCategories(ctx context.Context, f CategoryFilter) ([]models.Category, error)
	ListItems(ctx context.Context, f ItemFilter) ([]models.PlaylistItem, error)
	// ListPrograms returns programmes overlapping [from, to) (epoch millis), ordered by channel and start.
	ListPrograms(ctx context.Context, sourceID int64, from, to int64) ([]models.EpgProgram, error)

	// SetCategoryHidden flags a category; returns ErrNotFound if it does not exist.
	SetCategoryHidden(ctx context.Context, sourceID int64, t models.ItemType, categoryID string, hidden bool) error
	// SetItemHidden flags an item; returns ErrNotFound if it does not exist.
	SetItemHidden(ctx context.Context, sourceID int64, t models.ItemType, itemID string, hidden bool) error

	Close()
}

// CategoryFilter selects categories of one source. Empty Type means all types.
type CategoryFilter struct {
	SourceID      int64
	Type          models.ItemType
	IncludeHidden bool
}

// ItemFilter selects items of one source. Empty Type/CategoryID mean no filter.
// Without IncludeHidden, hidden items and items of hidden categories are left out.
type ItemFilter struct {
	SourceID      int64
	Type          models.ItemType
	CategoryID    string
	IncludeHidden bool
}
