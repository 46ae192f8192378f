package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/streamvault/internal/apperr"
	"github.com/voyagen/streamvault/internal/fetcher"
	"github.com/voyagen/streamvault/internal/ingest"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
	"github.com/voyagen/streamvault/internal/store/storetest"
)

// countingStore records the size of every batched write.
type countingStore struct {
	store.Store
	itemBatches []int
	catBatches  []int
	failItems   bool
}

func (c *countingStore) UpsertItems(ctx context.Context, items []models.PlaylistItem) error {
	if c.failItems {
		return errors.New("disk full")
	}
	c.itemBatches = append(c.itemBatches, len(items))
	return c.Store.UpsertItems(ctx, items)
}

func (c *countingStore) UpsertCategories(ctx context.Context, cats []models.Category) error {
	c.catBatches = append(c.catBatches, len(cats))
	return c.Store.UpsertCategories(ctx, cats)
}

func liveItems(t *testing.T, n int) []models.UpstreamItem {
	t.Helper()
	out := make([]models.UpstreamItem, 0, n)
	for i := 1; i <= n; i++ {
		raw := json.RawMessage(fmt.Sprintf(`{"stream_id":%d,"name":"Channel %d","category_id":"1"}`, i, i))
		it, err := models.DecodeUpstreamItem(models.ItemTypeLive, raw)
		require.NoError(t, err)
		out = append(out, it)
	}
	return out
}

func TestSaveStreamsChunks(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	src := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeXtream, URL: "http://p", Enabled: true})
	cs := &countingStore{Store: db}
	w := ingest.NewWriter(cs, 0)

	n, err := w.SaveStreams(ctx, src.ID, models.ItemTypeLive, liveItems(t, 1200))
	require.NoError(t, err)
	assert.Equal(t, 1200, n)
	assert.Equal(t, []int{500, 500, 200}, cs.itemBatches)

	rows, err := db.ListItems(ctx, store.ItemFilter{SourceID: src.ID, IncludeHidden: true})
	require.NoError(t, err)
	assert.Len(t, rows, 1200)

	// Same input again: still 1200 rows.
	_, err = w.SaveStreams(ctx, src.ID, models.ItemTypeLive, liveItems(t, 1200))
	require.NoError(t, err)
	rows, err = db.ListItems(ctx, store.ItemFilter{SourceID: src.ID, IncludeHidden: true})
	require.NoError(t, err)
	assert.Len(t, rows, 1200)
	assert.Equal(t, models.CompositeID(src.ID, "1"), rows[0].ID)
}

func TestSaveStreamsSkipsRecordsWithoutID(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	src := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeXtream, URL: "http://p", Enabled: true})
	w := ingest.NewWriter(db, 10)

	noID, err := models.DecodeUpstreamItem(models.ItemTypeSeries, json.RawMessage(`{"name":"Orphan"}`))
	require.NoError(t, err)
	ok, err := models.DecodeUpstreamItem(models.ItemTypeSeries, json.RawMessage(`{"series_id":"7","name":"Show","cover":"http://c/7.jpg","releaseDate":"2019-05-01"}`))
	require.NoError(t, err)

	n, err := w.SaveStreams(ctx, src.ID, models.ItemTypeSeries, []models.UpstreamItem{noID, ok})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := db.ListItems(ctx, store.ItemFilter{SourceID: src.ID, Type: models.ItemTypeSeries})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "http://c/7.jpg", rows[0].Icon)
	require.NotNil(t, rows[0].Year)
	assert.Equal(t, "2019", *rows[0].Year)
}

func TestSaveStorageErrorKind(t *testing.T) {
	db := storetest.New(t)
	w := ingest.NewWriter(&countingStore{Store: db, failItems: true}, 0)
	_, err := w.SaveItems(context.Background(), []models.PlaylistItem{{ID: "1:x", SourceID: 1, Type: models.ItemTypeLive, ItemID: "x"}})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStorage))
}

func TestSaveCategoriesKeepsOrder(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	src := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeXtream, URL: "http://p", Enabled: true})
	w := ingest.NewWriter(db, 0)

	var cats []models.UpstreamCategory
	require.NoError(t, json.Unmarshal([]byte(`[
		{"category_id":"9","category_name":"Zed"},
		{"category_id":"1","category_name":"Alpha","parent_id":"9"}
	]`), &cats))
	n, err := w.SaveCategories(ctx, src.ID, models.ItemTypeMovie, cats)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := db.ListCategories(ctx, store.CategoryFilter{SourceID: src.ID, Type: models.ItemTypeMovie})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Zed", got[0].Name)
	require.NotNil(t, got[1].ParentID)
	assert.Equal(t, "9", *got[1].ParentID)
	assert.JSONEq(t, `{"category_id":"1","category_name":"Alpha","parent_id":"9"}`, string(got[1].RawPayload))
}

func TestIngestEpgIdempotent(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	src := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeEPG, URL: "http://g", Enabled: true})
	w := ingest.NewWriter(db, 0)

	now := time.Now().UTC().Truncate(time.Second)
	channels := []fetcher.EPGChannel{{ID: "cnn.us", Name: "CNN", Icon: "http://i/cnn.png"}}
	progs := []fetcher.EPGProgramme{
		{ChannelID: "cnn.us", Start: now.Add(-time.Hour), Stop: now, Title: "Morning"},
		{ChannelID: "cnn.us", Start: now, Stop: now.Add(time.Hour), Title: "Noon"},
	}
	stale := []fetcher.EPGProgramme{{ChannelID: "old", Start: now, Stop: now.Add(time.Hour), Title: "Gone"}}

	require.NoError(t, w.IngestEpg(ctx, src.ID, nil, stale))
	require.NoError(t, w.IngestEpg(ctx, src.ID, channels, progs))
	window := func() []models.EpgProgram {
		out, err := db.ListPrograms(ctx, src.ID, now.Add(-24*time.Hour).UnixMilli(), now.Add(24*time.Hour).UnixMilli())
		require.NoError(t, err)
		return out
	}
	first := window()
	require.NoError(t, w.IngestEpg(ctx, src.ID, channels, progs))
	second := window()

	require.Len(t, first, 2)
	assert.Equal(t, first, second)
	assert.Equal(t, "Morning", first[0].Title)
	assert.Equal(t, now.Add(-time.Hour).UnixMilli(), first[0].StartTime)

	items, err := db.ListItems(ctx, store.ItemFilter{SourceID: src.ID, Type: models.ItemTypeEPGChannel})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "CNN", items[0].Name)
	assert.Equal(t, "http://i/cnn.png", items[0].Icon)
}

func TestM3UBatchStreamsIntoStore(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	src := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeM3U, URL: "http://m", Enabled: true})
	cs := &countingStore{Store: db}
	w := ingest.NewWriter(cs, 2)

	playlist := strings.Join([]string{
		"#EXTM3U",
		`#EXTINF:-1 tvg-id="a" group-title="News",Alpha`,
		"http://s/a",
		`#EXTINF:-1 group-title="Sports",Beta`,
		"http://s/b",
		`#EXTINF:-1 group-title="News",Gamma`,
		"http://s/c",
	}, "\n")
	b := w.NewM3UBatch(ctx, src.ID)
	require.NoError(t, fetcher.ParseM3U(strings.NewReader(playlist), b.Add))
	require.NoError(t, b.Flush())

	assert.Equal(t, 3, b.Channels)
	assert.Equal(t, 2, b.Groups)
	assert.Equal(t, []int{2, 1}, cs.itemBatches)

	cats, err := db.ListCategories(ctx, store.CategoryFilter{SourceID: src.ID, Type: models.ItemTypeLive})
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "News", cats[0].CategoryID)
	assert.Equal(t, "News", cats[0].Name)

	items, err := db.ListItems(ctx, store.ItemFilter{SourceID: src.ID, CategoryID: "News"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, models.ItemTypeLive, it.Type)
		require.NotNil(t, it.StreamURL)
	}
	assert.Equal(t, "http://s/a", *items[0].StreamURL)
}
