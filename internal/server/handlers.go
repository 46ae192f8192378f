package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voyagen/streamvault/internal/apperr"
	"github.com/voyagen/streamvault/internal/fetcher"
	"github.com/voyagen/streamvault/internal/models"
)

// --- xtream handlers ---

func (s *Server) handleXtreamAuth(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "sourceId")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	raw, err := s.catalog.Authenticate(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

func (s *Server) handleCategories(t models.ItemType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r, "sourceId")
		if err != nil {
			writeErr(w, r, err)
			return
		}
		includeHidden, err := queryBool(r, "includeHidden")
		if err != nil {
			writeErr(w, r, err)
			return
		}
		cats, err := s.catalog.Categories(r.Context(), id, t, includeHidden)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cats)
	}
}

func (s *Server) handleItems(t models.ItemType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r, "sourceId")
		if err != nil {
			writeErr(w, r, err)
			return
		}
		includeHidden, err := queryBool(r, "includeHidden")
		if err != nil {
			writeErr(w, r, err)
			return
		}
		items, err := s.catalog.Items(r.Context(), id, t, r.URL.Query().Get("category_id"), includeHidden)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func (s *Server) handleSeriesInfo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "sourceId")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	raw, err := s.catalog.SeriesInfo(r.Context(), id, r.URL.Query().Get("series_id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

func (s *Server) handleVodInfo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "sourceId")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	raw, err := s.catalog.VodInfo(r.Context(), id, r.URL.Query().Get("vod_id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

func (s *Server) handleStreamURL(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "sourceId")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	t, err := parseType(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	u, err := s.catalog.StreamURL(r.Context(), id, chi.URLParam(r, "streamId"), t, r.URL.Query().Get("container"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

// --- playlist and guide handlers ---

func (s *Server) handleM3U(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "sourceId")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	includeHidden, err := queryBool(r, "includeHidden")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := s.catalog.M3U(r.Context(), id, includeHidden)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEPG(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "sourceId")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var maxAge time.Duration
	if v := r.URL.Query().Get("maxAge"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			writeErr(w, r, apperr.BadRequest("invalid maxAge: %s (seconds)", v))
			return
		}
		maxAge = time.Duration(secs) * time.Second
	}
	refresh, err := queryBool(r, "refresh")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := s.catalog.EPG(r.Context(), id, maxAge, refresh)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if res.Channels == nil {
		res.Channels = []fetcher.EPGChannel{}
	}
	if res.Programmes == nil {
		res.Programmes = []fetcher.EPGProgramme{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "sourceId")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.catalog.ClearCache(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}
	writeNoContent(w)
}

// --- sync handlers ---

type syncAccepted struct {
	JobID    string `json:"job_id"`
	SourceID int64  `json:"source_id,omitempty"`
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.dispatch.Dispatch(r.Context(), 0)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, syncAccepted{JobID: jobID})
}

func (s *Server) handleSyncSource(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "sourceId")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if _, err := s.catalog.Source(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}
	jobID, err := s.dispatch.Dispatch(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, syncAccepted{JobID: jobID, SourceID: id})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "sourceId")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	st, err := s.catalog.SyncStatus(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- visibility handlers ---

type hiddenRequest struct {
	Hidden *bool `json:"hidden"`
}

func decodeHidden(r *http.Request) (bool, error) {
	var req hiddenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return false, apperr.BadRequest("invalid JSON: %v", err)
	}
	if req.Hidden == nil {
		return false, apperr.BadRequest("hidden is required")
	}
	return *req.Hidden, nil
}

func (s *Server) handleSetCategoryHidden(w http.ResponseWriter, r *http.Request) {
	s.setHidden(w, r, "categoryId", s.catalog.SetCategoryHidden)
}

func (s *Server) handleSetItemHidden(w http.ResponseWriter, r *http.Request) {
	s.setHidden(w, r, "itemId", s.catalog.SetItemHidden)
}

type hideFunc func(ctx context.Context, sourceID int64, t models.ItemType, id string, hidden bool) error

func (s *Server) setHidden(w http.ResponseWriter, r *http.Request, param string, set hideFunc) {
	id, err := parseID(r, "sourceId")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	t, err := parseType(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	hidden, err := decodeHidden(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := set(r.Context(), id, t, chi.URLParam(r, param), hidden); err != nil {
		writeErr(w, r, err)
		return
	}
	writeNoContent(w)
}

func errNotFound(path string) error {
	return apperr.NotFound("no route for %s", path)
}

// parseType reads the {type} path segment (live, movie or series).
func parseType(r *http.Request) (models.ItemType, error) {
	t, err := models.ParseItemType(chi.URLParam(r, "type"))
	if err != nil {
		return "", apperr.BadRequest("%v", err)
	}
	return t, nil
}
