package models

import "encoding/json"

// Category is a live/movie/series category (Xtream) or group title (M3U).
type Category struct {
	ID         string          `json:"id"`
	SourceID   int64           `json:"source_id"`
	Type       ItemType        `json:"type"`
	CategoryID string          `json:"category_id"`
	Name       string          `json:"name"`
	ParentID   *string         `json:"parent_id,omitempty"`
	Position   int             `json:"-"`
	Hidden     bool            `json:"hidden"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}
