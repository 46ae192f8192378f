package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/streamvault/internal/cache"
	"github.com/voyagen/streamvault/internal/config"
	"github.com/voyagen/streamvault/internal/fetcher"
	"github.com/voyagen/streamvault/internal/ingest"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/proxy"
	"github.com/voyagen/streamvault/internal/server"
	"github.com/voyagen/streamvault/internal/service"
	"github.com/voyagen/streamvault/internal/store"
	"github.com/voyagen/streamvault/internal/store/storetest"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	sources []int64
}

func (f *fakeDispatcher) Dispatch(_ context.Context, sourceID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, sourceID)
	return "job-" + strconv.Itoa(len(f.sources)), nil
}

type env struct {
	srv      *httptest.Server
	db       store.Store
	dispatch *fakeDispatcher
	source   models.Source
}

// newEnv syncs a fake Xtream panel carrying one live channel (CNN in News)
// and serves the API over it.
func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	panel := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/player_api.php" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("action") {
		case "":
			_, _ = io.WriteString(w, `{"user_info":{"auth":1}}`)
		case "get_live_categories":
			_, _ = io.WriteString(w, `[{"category_id":"1","category_name":"News"}]`)
		case "get_live_streams":
			_, _ = io.WriteString(w, `[{"stream_id":10,"name":"CNN","category_id":"1"}]`)
		case "get_series_info":
			_, _ = io.WriteString(w, `{"info":{"name":"Show"}}`)
		default:
			_, _ = io.WriteString(w, `[]`)
		}
	}))
	t.Cleanup(panel.Close)

	db := storetest.New(t)
	src := storetest.AddSource(t, db, models.Source{Type: models.SourceTypeXtream, URL: panel.URL, Username: "u", Password: "p", Enabled: true})
	mem := cache.NewMemory()
	syncer := service.NewSyncer(db, ingest.NewWriter(db, 0), mem, service.SyncOptions{})
	_, err := syncer.SyncSource(ctx, src.ID)
	require.NoError(t, err)

	dispatch := &fakeDispatcher{}
	catalog := service.NewCatalog(db, mem, fetcher.Options{}, 0)
	api := server.New(catalog, proxy.New("", ""), dispatch, config.Default())
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return &env{srv: srv, db: db, dispatch: dispatch, source: src}
}

// path resolves p against the test server, substituting {id} with the source id.
func (e *env) path(p string) string {
	return e.srv.URL + strings.ReplaceAll(p, "{id}", strconv.FormatInt(e.source.ID, 10))
}

func do(t *testing.T, method, u, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, u, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func assertAPIError(t *testing.T, resp *http.Response, body []byte, status int) {
	t.Helper()
	assert.Equal(t, status, resp.StatusCode, string(body))
	var e server.APIError
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, status, e.Status)
	assert.Equal(t, http.StatusText(status), e.Error)
	assert.NotEmpty(t, e.Detail)
}

func TestXtreamRoutes(t *testing.T) {
	e := newEnv(t)

	resp, body := do(t, http.MethodGet, e.path("/xtream/{id}/live_streams"), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `[{"stream_id":10,"name":"CNN","category_id":"1"}]`, string(body))

	_, body = do(t, http.MethodGet, e.path("/xtream/{id}/live_streams?category_id=2"), "")
	assert.JSONEq(t, `[]`, string(body))

	_, body = do(t, http.MethodGet, e.path("/xtream/{id}/live_categories"), "")
	assert.JSONEq(t, `[{"category_id":"1","category_name":"News"}]`, string(body))

	_, body = do(t, http.MethodGet, e.path("/xtream/{id}/vod_streams"), "")
	assert.JSONEq(t, `[]`, string(body))

	resp, body = do(t, http.MethodGet, e.path("/xtream/{id}"), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"user_info":{"auth":1}}`, string(body))

	_, body = do(t, http.MethodGet, e.path("/xtream/{id}/series_info?series_id=4"), "")
	assert.JSONEq(t, `{"info":{"name":"Show"}}`, string(body))

	resp, body = do(t, http.MethodGet, e.path("/xtream/{id}/stream/10/live"), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, strings.HasSuffix(out.URL, "/live/u/p/10.ts"), out.URL)
}

func TestErrorMapping(t *testing.T) {
	e := newEnv(t)
	cases := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/xtream/abc/live_streams", http.StatusBadRequest},
		{http.MethodGet, "/xtream/999/live_streams", http.StatusNotFound},
		{http.MethodGet, "/xtream/{id}/live_streams?includeHidden=maybe", http.StatusBadRequest},
		{http.MethodGet, "/xtream/{id}/series_info", http.StatusBadRequest},
		{http.MethodGet, "/xtream/{id}/vod_info", http.StatusBadRequest},
		{http.MethodGet, "/xtream/{id}/stream/10/radio", http.StatusBadRequest},
		{http.MethodGet, "/epg/{id}?maxAge=soon", http.StatusBadRequest},
		{http.MethodGet, "/epg/999", http.StatusNotFound},
		{http.MethodGet, "/m3u/999", http.StatusNotFound},
		{http.MethodGet, "/stream", http.StatusBadRequest},
		{http.MethodGet, "/no/such/route", http.StatusNotFound},
		{http.MethodPost, "/sync/999", http.StatusNotFound},
		{http.MethodGet, "/sync/999", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			resp, body := do(t, tc.method, e.path(tc.path), "")
			assertAPIError(t, resp, body, tc.status)
		})
	}
}

func TestUpstreamFailureIs502(t *testing.T) {
	e := newEnv(t)
	broken := storetest.AddSource(t, e.db, models.Source{Name: "dead", Type: models.SourceTypeXtream, URL: "http://127.0.0.1:1", Enabled: true})

	resp, body := do(t, http.MethodGet, e.srv.URL+"/xtream/"+strconv.FormatInt(broken.ID, 10), "")
	assertAPIError(t, resp, body, http.StatusBadGateway)
}

func TestM3UAndEPGRoutes(t *testing.T) {
	e := newEnv(t)

	resp, body := do(t, http.MethodGet, e.path("/m3u/{id}"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var m3u fetcher.M3UResult
	require.NoError(t, json.Unmarshal(body, &m3u))
	assert.Equal(t, []string{"News"}, m3u.Groups)
	require.Len(t, m3u.Channels, 1)
	assert.Equal(t, "CNN", m3u.Channels[0].Name)
	assert.Equal(t, "News", m3u.Channels[0].Group)

	resp, body = do(t, http.MethodGet, e.path("/epg/{id}?maxAge=60&refresh=1"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"channels":[],"programmes":[]}`, string(body))
}

func TestHiddenRoutes(t *testing.T) {
	e := newEnv(t)

	resp, body := do(t, http.MethodPut, e.path("/items/{id}/live/10/hidden"), `{"hidden":true}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, string(body))

	_, body = do(t, http.MethodGet, e.path("/xtream/{id}/live_streams"), "")
	assert.JSONEq(t, `[]`, string(body))
	_, body = do(t, http.MethodGet, e.path("/xtream/{id}/live_streams?includeHidden=true"), "")
	assert.JSONEq(t, `[{"hidden":true,"stream_id":10,"name":"CNN","category_id":"1"}]`, string(body))

	resp, _ = do(t, http.MethodPut, e.path("/items/{id}/live/10/hidden"), `{"hidden":false}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodPut, e.path("/categories/{id}/live/1/hidden"), `{"hidden":true}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, body = do(t, http.MethodGet, e.path("/xtream/{id}/live_streams"), "")
	assert.JSONEq(t, `[]`, string(body), "items of a hidden category are hidden")

	resp, body = do(t, http.MethodPut, e.path("/items/{id}/live/10/hidden"), `{}`)
	assertAPIError(t, resp, body, http.StatusBadRequest)
	resp, body = do(t, http.MethodPut, e.path("/items/{id}/live/10/hidden"), `not json`)
	assertAPIError(t, resp, body, http.StatusBadRequest)
	resp, body = do(t, http.MethodPut, e.path("/items/{id}/live/404/hidden"), `{"hidden":true}`)
	assertAPIError(t, resp, body, http.StatusNotFound)
	resp, body = do(t, http.MethodPut, e.path("/items/{id}/epg_channel/10/hidden"), `{"hidden":true}`)
	assertAPIError(t, resp, body, http.StatusBadRequest)
}

func TestSyncRoutes(t *testing.T) {
	e := newEnv(t)

	resp, body := do(t, http.MethodPost, e.path("/sync/{id}"), "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"job_id":"job-1","source_id":`+strconv.FormatInt(e.source.ID, 10)+`}`, string(body))

	resp, body = do(t, http.MethodPost, e.path("/sync"), "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"job_id":"job-2"}`, string(body))
	assert.Equal(t, []int64{e.source.ID, 0}, e.dispatch.sources)

	resp, body = do(t, http.MethodGet, e.path("/sync/{id}"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st models.SyncStatus
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, models.SyncStatusSuccess, st.Status)
	assert.Equal(t, models.SyncScopeAll, st.Scope)
	assert.NotNil(t, st.LastSyncAt)
}

func TestClearCacheRoute(t *testing.T) {
	e := newEnv(t)
	resp, _ := do(t, http.MethodDelete, e.path("/cache/{id}"), "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestStreamRouteRewritesManifest(t *testing.T) {
	e := newEnv(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "#EXTM3U\n#EXTINF:5,\nchunk1.ts\n")
	}))
	t.Cleanup(upstream.Close)

	resp, body := do(t, http.MethodGet, e.srv.URL+"/stream?url="+url.QueryEscape(upstream.URL+"/live.m3u8"), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), e.srv.URL+"/stream?url="+url.QueryEscape(upstream.URL+"/chunk1.ts"))
}

func TestStreamRouteSendsSingleAllowOrigin(t *testing.T) {
	e := newEnv(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write([]byte("segment"))
	}))
	t.Cleanup(upstream.Close)

	resp, body := do(t, http.MethodGet, e.srv.URL+"/stream?url="+url.QueryEscape(upstream.URL+"/a.ts"), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"*"}, resp.Header.Values("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "video/mp2t", resp.Header.Get("Content-Type"))
	assert.Equal(t, "segment", string(body))
}

func TestOpsRoutes(t *testing.T) {
	e := newEnv(t)

	resp, body := do(t, http.MethodGet, e.srv.URL+"/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = do(t, http.MethodGet, e.srv.URL+"/api/docs/openapi.yaml", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "openapi:")

	resp, body = do(t, http.MethodGet, e.srv.URL+"/api/docs", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "swagger-ui")

	resp, body = do(t, http.MethodGet, e.srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "streamvault_sync_runs_total")

	resp, _ = do(t, http.MethodOptions, e.path("/xtream/{id}/live_streams"), "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
