package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/voyagen/streamvault/internal/config"
	"github.com/voyagen/streamvault/internal/metrics"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/proxy"
	"github.com/voyagen/streamvault/internal/service"
)

// SyncDispatcher starts syncs in the background. Source 0 means every enabled source.
type SyncDispatcher interface {
	Dispatch(ctx context.Context, sourceID int64) (jobID string, err error)
}

// Server holds dependencies for the HTTP API.
type Server struct {
	catalog  *service.Catalog
	proxy    *proxy.Proxy
	dispatch SyncDispatcher
	cfg      *config.Config
	router   chi.Router
}

// New creates a Server and registers routes.
func New(catalog *service.Catalog, px *proxy.Proxy, dispatch SyncDispatcher, cfg *config.Config) *Server {
	srv := &Server{catalog: catalog, proxy: px, dispatch: dispatch, cfg: cfg, router: chi.NewRouter()}
	px.OnError = writeErr
	srv.routes()
	return srv
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(withLogging)
	r.Use(middleware.Recoverer)
	r.Use(withCORS)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, r, errNotFound(r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, r, http.StatusMethodNotAllowed, fmt.Errorf("%s not allowed on %s", r.Method, r.URL.Path))
	})

	r.Get("/api/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Xtream-compatible catalog
	r.Get("/xtream/{sourceId}", s.handleXtreamAuth)
	r.Get("/xtream/{sourceId}/live_categories", s.handleCategories(models.ItemTypeLive))
	r.Get("/xtream/{sourceId}/vod_categories", s.handleCategories(models.ItemTypeMovie))
	r.Get("/xtream/{sourceId}/series_categories", s.handleCategories(models.ItemTypeSeries))
	r.Get("/xtream/{sourceId}/live_streams", s.handleItems(models.ItemTypeLive))
	r.Get("/xtream/{sourceId}/vod_streams", s.handleItems(models.ItemTypeMovie))
	r.Get("/xtream/{sourceId}/series", s.handleItems(models.ItemTypeSeries))
	r.Get("/xtream/{sourceId}/series_info", s.handleSeriesInfo)
	r.Get("/xtream/{sourceId}/vod_info", s.handleVodInfo)
	r.Get("/xtream/{sourceId}/stream/{streamId}/{type}", s.handleStreamURL)

	// Playlists and guides
	r.Get("/m3u/{sourceId}", s.handleM3U)
	r.Get("/epg/{sourceId}", s.handleEPG)
	r.Delete("/cache/{sourceId}", s.handleClearCache)

	// Proxy
	r.Get("/stream", s.proxy.Stream)
	r.Get("/image", s.proxy.Image)

	// Sync
	r.Post("/sync", s.handleSyncAll)
	r.Post("/sync/{sourceId}", s.handleSyncSource)
	r.Get("/sync/{sourceId}", s.handleSyncStatus)

	// Operator visibility
	r.Put("/categories/{sourceId}/{type}/{categoryId}/hidden", s.handleSetCategoryHidden)
	r.Put("/items/{sourceId}/{type}/{itemId}/hidden", s.handleSetItemHidden)

	// Docs
	r.Get("/api/docs", handleSwaggerUI)
	r.Get("/api/docs/openapi.yaml", handleOpenAPISpec)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on the configured port.
// It blocks until the server is shut down or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := ":" + s.cfg.ServerPort
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: relayed live streams have no natural end.
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "err", err)
		}
	}()

	slog.Info("listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
