package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/streamvault/internal/apperr"
	"github.com/voyagen/streamvault/internal/cache"
	"github.com/voyagen/streamvault/internal/fetcher"
	"github.com/voyagen/streamvault/internal/ingest"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/service"
	"github.com/voyagen/streamvault/internal/store/storetest"
)

func TestCatalogAuthenticateIsCached(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"user_info":{"auth":1}}`))
	}))
	t.Cleanup(srv.Close)
	src := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeXtream, URL: srv.URL, Enabled: true})
	cat := service.NewCatalog(db, cache.NewMemory(), fetcher.Options{}, time.Hour)

	for range 3 {
		raw, err := cat.Authenticate(ctx, src.ID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"user_info":{"auth":1}}`, string(raw))
	}
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, cat.ClearCache(ctx, src.ID))
	_, err := cat.Authenticate(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCatalogXtreamErrors(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	m3u := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeM3U, URL: "http://m", Enabled: true})
	cat := service.NewCatalog(db, cache.NewMemory(), fetcher.Options{}, time.Hour)

	_, err := cat.Authenticate(ctx, 404)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = cat.Authenticate(ctx, m3u.ID)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	_, err = cat.SeriesInfo(ctx, m3u.ID, "")
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestCatalogSeriesInfoUpstreamError(t *testing.T) {
	db := storetest.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	src := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeXtream, URL: srv.URL, Enabled: true})
	cat := service.NewCatalog(db, cache.NewMemory(), fetcher.Options{}, time.Hour)

	_, err := cat.SeriesInfo(context.Background(), src.ID, "7")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, apperr.HTTPStatus(err))
}

func TestCatalogStreamURL(t *testing.T) {
	db := storetest.New(t)
	src := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeXtream, URL: "http://panel:8080/", Username: "u", Password: "p", Enabled: true})
	cat := service.NewCatalog(db, cache.NewMemory(), fetcher.Options{}, time.Hour)

	u, err := cat.StreamURL(context.Background(), src.ID, "10", models.ItemTypeLive, "")
	require.NoError(t, err)
	assert.Equal(t, "http://panel:8080/live/u/p/10.ts", u)

	u, err = cat.StreamURL(context.Background(), src.ID, "5", models.ItemTypeMovie, "mkv")
	require.NoError(t, err)
	assert.Equal(t, "http://panel:8080/movie/u/p/5.mkv", u)
}

func TestCatalogItemsAfterSync(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	panel := newPanel(t, http.StatusNotFound)
	src := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeXtream, URL: panel.URL, Enabled: true})
	_, err := newSyncer(t, db, cache.NewMemory()).SyncSource(ctx, src.ID)
	require.NoError(t, err)

	cat := service.NewCatalog(db, cache.NewMemory(), fetcher.Options{}, time.Hour)
	items, err := cat.Items(ctx, src.ID, models.ItemTypeLive, "", false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.JSONEq(t, `{"stream_id":10,"name":"CNN","category_id":"1"}`, string(items[0]))

	require.NoError(t, cat.SetItemHidden(ctx, src.ID, models.ItemTypeLive, "10", true))
	items, err = cat.Items(ctx, src.ID, models.ItemTypeLive, "", false)
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = cat.Items(ctx, src.ID, models.ItemTypeLive, "1", true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.JSONEq(t, `{"hidden":true,"stream_id":10,"name":"CNN","category_id":"1"}`, string(items[0]))

	cats, err := cat.Categories(ctx, src.ID, models.ItemTypeLive, false)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.JSONEq(t, `{"category_id":"1","category_name":"News"}`, string(cats[0]))

	err = cat.SetCategoryHidden(ctx, src.ID, models.ItemTypeLive, "missing", true)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCatalogM3UReconstruction(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	src := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeM3U, URL: "http://m", Enabled: true})
	w := ingest.NewWriter(db, 0)
	b := w.NewM3UBatch(ctx, src.ID)
	playlist := "#EXTM3U\n" +
		"#EXTINF:-1 tvg-id=\"cnn.us\" tvg-logo=\"http://i/cnn.png\" group-title=\"News\",CNN\n" +
		"#EXTVLCOPT:http-referrer=http://ref/\n" +
		"http://s/cnn.m3u8\n" +
		"#EXTINF:-1 group-title=\"Sports\",ESPN\n" +
		"http://s/espn\n"
	require.NoError(t, fetcher.ParseM3U(strings.NewReader(playlist), b.Add))
	require.NoError(t, b.Flush())

	cat := service.NewCatalog(db, cache.NewMemory(), fetcher.Options{}, time.Hour)
	require.NoError(t, cat.SetCategoryHidden(ctx, src.ID, models.ItemTypeLive, "Sports", true))

	res, err := cat.M3U(ctx, src.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"News"}, res.Groups)
	require.Len(t, res.Channels, 1)
	ch := res.Channels[0]
	assert.Equal(t, "CNN", ch.Name)
	assert.Equal(t, "News", ch.Group)
	assert.Equal(t, "http://i/cnn.png", ch.Logo)
	assert.Equal(t, "http://s/cnn.m3u8", ch.URL)
	assert.Equal(t, "cnn.us", ch.TvgID)
	require.NotNil(t, ch.Headers)
	assert.Equal(t, "http://ref/", ch.Headers.Referrer)

	res, err = cat.M3U(ctx, src.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"News", "Sports"}, res.Groups)
	assert.Len(t, res.Channels, 2)
}

func TestCatalogEPGWindowAndFallback(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	src := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeEPG, URL: "http://g", Enabled: true})
	w := ingest.NewWriter(db, 0)

	now := time.Now().UTC().Truncate(time.Second)
	progs := []fetcher.EPGProgramme{
		{ChannelID: "bbc.uk", Start: now, Stop: now.Add(time.Hour), Title: "News at One"},
		{ChannelID: "bbc.uk", Start: now.Add(-72 * time.Hour), Stop: now.Add(-71 * time.Hour), Title: "Ancient"},
	}
	require.NoError(t, w.IngestEpg(ctx, src.ID, nil, progs))

	mem := cache.NewMemory()
	cat := service.NewCatalog(db, mem, fetcher.Options{}, time.Hour)
	res, err := cat.EPG(ctx, src.ID, 0, false)
	require.NoError(t, err)
	require.Len(t, res.Programmes, 1)
	assert.Equal(t, "News at One", res.Programmes[0].Title)
	assert.True(t, now.Equal(res.Programmes[0].Start))
	assert.Equal(t, []fetcher.EPGChannel{{ID: "bbc.uk", Name: "bbc.uk"}}, res.Channels)

	body, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"start":"`+now.Format(time.RFC3339)+`"`)

	// A new guide is not visible until the cached window is refreshed.
	require.NoError(t, w.IngestEpg(ctx, src.ID, []fetcher.EPGChannel{{ID: "bbc.uk", Name: "BBC One"}}, progs[:1]))
	res, err = cat.EPG(ctx, src.ID, 0, false)
	require.NoError(t, err)
	assert.Equal(t, "bbc.uk", res.Channels[0].Name)

	res, err = cat.EPG(ctx, src.ID, 0, true)
	require.NoError(t, err)
	assert.Equal(t, "BBC One", res.Channels[0].Name)
}

func TestCatalogSyncStatus(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	src := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeM3U, URL: "http://m", Enabled: true})
	cat := service.NewCatalog(db, cache.NewMemory(), fetcher.Options{}, time.Hour)

	_, err := cat.SyncStatus(ctx, src.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	require.NoError(t, db.SetSyncStatus(ctx, models.SyncStatus{SourceID: src.ID, Status: models.SyncStatusError, ErrorMessage: "boom"}))
	st, err := cat.SyncStatus(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "boom", st.ErrorMessage)
}

func TestCatalogSharedLookupOutlivesCancelledCaller(t *testing.T) {
	db := storetest.New(t)
	hit := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case hit <- struct{}{}:
		default:
		}
		<-release
		_, _ = w.Write([]byte(`{"info":{"name":"Show"}}`))
	}))
	t.Cleanup(srv.Close)
	src := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeXtream, URL: srv.URL, Enabled: true})
	cat := service.NewCatalog(db, cache.NewMemory(), fetcher.Options{}, time.Hour)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := cat.SeriesInfo(ctxA, src.ID, "7")
		errA <- err
	}()
	select {
	case <-hit:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream never called")
	}

	type result struct {
		raw json.RawMessage
		err error
	}
	resB := make(chan result, 1)
	go func() {
		raw, err := cat.SeriesInfo(context.Background(), src.ID, "7")
		resB <- result{raw, err}
	}()
	time.Sleep(100 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller still waiting")
	}

	close(release)
	select {
	case res := <-resB:
		require.NoError(t, res.err)
		assert.JSONEq(t, `{"info":{"name":"Show"}}`, string(res.raw))
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never answered")
	}
}

func TestCatalogHiddenReplacesUpstreamHiddenKey(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	src := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeM3U, URL: "http://m", Enabled: true})
	require.NoError(t, db.UpsertCategories(ctx, []models.Category{{
		ID:         models.CompositeID(src.ID, "1"),
		SourceID:   src.ID,
		Type:       models.ItemTypeLive,
		CategoryID: "1",
		Name:       "News",
		RawPayload: json.RawMessage(`{"category_id":"1","category_name":"News","hidden":false}`),
	}}))
	cat := service.NewCatalog(db, cache.NewMemory(), fetcher.Options{}, time.Hour)
	require.NoError(t, cat.SetCategoryHidden(ctx, src.ID, models.ItemTypeLive, "1", true))

	cats, err := cat.Categories(ctx, src.ID, models.ItemTypeLive, true)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, 1, strings.Count(string(cats[0]), `"hidden"`))
	assert.JSONEq(t, `{"category_id":"1","category_name":"News","hidden":true}`, string(cats[0]))
}
