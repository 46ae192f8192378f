package models

import "time"

// Source represents an upstream IPTV provider (Xtream panel, M3U playlist or XMLTV feed).
type Source struct {
	ID        int64      `json:"id,omitempty"`
	Name      string     `json:"name"`
	Type      SourceType `json:"type"`
	URL       string     `json:"url,omitempty"`
	Username  string     `json:"username,omitempty"`
	Password  string     `json:"-"`
	UserAgent string     `json:"user_agent,omitempty"`
	Enabled   bool       `json:"enabled"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}
