package models

// ChannelHTTPHeaders holds optional per-channel request headers (from #EXTVLCOPT lines).
type ChannelHTTPHeaders struct {
	Referrer   string `json:"referrer,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	HTTPOrigin string `json:"http_origin,omitempty"`
}

// Empty reports whether no header was set.
func (h ChannelHTTPHeaders) Empty() bool {
	return h.Referrer == "" && h.UserAgent == "" && h.HTTPOrigin == ""
}
