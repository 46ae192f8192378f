package fetcher

import (
	"time"

	"github.com/voyagen/streamvault/internal/models"
)

// M3UChannel is one #EXTINF entry of a playlist.
type M3UChannel struct {
	ID      string                     `json:"id"`
	Name    string                     `json:"name"`
	Group   string                     `json:"group"`
	Logo    string                     `json:"logo"`
	URL     string                     `json:"url"`
	TvgID   string                     `json:"tvg_id,omitempty"`
	TvgName string                     `json:"tvg_name,omitempty"`
	Headers *models.ChannelHTTPHeaders `json:"headers,omitempty"`
}

// M3UResult is a fully collected playlist.
type M3UResult struct {
	Channels []M3UChannel `json:"channels"`
	Groups   []string     `json:"groups"`
}

// EPGChannel is an XMLTV <channel>.
type EPGChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// EPGProgramme is an XMLTV <programme>.
type EPGProgramme struct {
	ChannelID   string    `json:"channel_id"`
	Start       time.Time `json:"start"`
	Stop        time.Time `json:"stop"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
}

// EPGResult is a fully collected guide. Skipped counts programmes dropped for bad times or channel.
type EPGResult struct {
	Channels   []EPGChannel   `json:"channels"`
	Programmes []EPGProgramme `json:"programmes"`
	Skipped    int            `json:"-"`
}
