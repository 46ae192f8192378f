package models

import "time"

// SyncStatus is the last known sync outcome of a source.
type SyncStatus struct {
	SourceID     int64      `json:"source_id"`
	Scope        string     `json:"scope"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
}
