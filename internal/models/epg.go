package models

import (
	"encoding/json"
	"time"
)

// EpgProgram is a stored programme. Times are epoch milliseconds.
type EpgProgram struct {
	ChannelID   string          `json:"channel_id"`
	SourceID    int64           `json:"source_id"`
	StartTime   int64           `json:"start_time"`
	EndTime     int64           `json:"end_time"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
}

// Start returns StartTime as a time.Time in UTC.
func (p EpgProgram) Start() time.Time { return time.UnixMilli(p.StartTime).UTC() }

// Stop returns EndTime as a time.Time in UTC.
func (p EpgProgram) Stop() time.Time { return time.UnixMilli(p.EndTime).UTC() }
