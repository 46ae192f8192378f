package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/voyagen/streamvault/internal/apperr"
)

// APIError is the standard error envelope for all error responses.
type APIError struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// parseID extracts a path parameter by name and parses it as int64.
func parseID(r *http.Request, param string) (int64, error) {
	v := chi.URLParam(r, param)
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadRequest("invalid %s: %s", param, v)
	}
	return id, nil
}

// queryBool reads an optional boolean query parameter ("1", "true", ...).
func queryBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, apperr.BadRequest("invalid %s: %s", key, v)
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writeJSON", "err", err)
	}
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// writeErr maps err to its HTTP status via apperr and writes the envelope.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	writeStatus(w, r, apperr.HTTPStatus(err), err)
}

func writeStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= 500 {
		slog.Error("request failed",
			"status", status,
			"kind", apperr.KindOf(err).String(),
			"request_id", middleware.GetReqID(r.Context()),
			"err", err)
	}
	writeJSON(w, status, APIError{
		Status: status,
		Error:  http.StatusText(status),
		Detail: err.Error(),
	})
}
