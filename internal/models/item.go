package models

import (
	"encoding/json"
	"time"
)

// PlaylistItem is a normalized live stream, movie, series or EPG channel.
type PlaylistItem struct {
	ID                 string          `json:"id"`
	SourceID           int64           `json:"source_id"`
	Type               ItemType        `json:"type"`
	ItemID             string          `json:"item_id"`
	Name               string          `json:"name"`
	CategoryID         string          `json:"category_id"`
	Icon               string          `json:"icon,omitempty"`
	StreamURL          *string         `json:"stream_url,omitempty"`
	ContainerExtension *string         `json:"container_extension,omitempty"`
	Rating             *string         `json:"rating,omitempty"`
	Year               *string         `json:"year,omitempty"`
	AddedAt            *time.Time      `json:"added_at,omitempty"`
	Position           int             `json:"-"`
	Hidden             bool            `json:"hidden"`
	RawPayload         json.RawMessage `json:"raw_payload,omitempty"`
}
