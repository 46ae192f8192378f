package models

import (
	"fmt"
	"strconv"
	"strings"
)

// SourceType identifies which provider adapter syncs a source.
type SourceType string

const (
	SourceTypeXtream SourceType = "xtream"
	SourceTypeM3U    SourceType = "m3u"
	SourceTypeEPG    SourceType = "epg"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeXtream, SourceTypeM3U, SourceTypeEPG:
		return true
	}
	return false
}

// ItemType is the kind of a category or playlist item.
type ItemType string

const (
	ItemTypeLive       ItemType = "live"
	ItemTypeMovie      ItemType = "movie"
	ItemTypeSeries     ItemType = "series"
	ItemTypeEPGChannel ItemType = "epg_channel"
)

// ParseItemType accepts the catalog types used by the read API.
// epg_channel is internal and rejected here.
func ParseItemType(s string) (ItemType, error) {
	switch t := ItemType(strings.ToLower(s)); t {
	case ItemTypeLive, ItemTypeMovie, ItemTypeSeries:
		return t, nil
	}
	return "", fmt.Errorf("invalid type %q (use live, movie or series)", s)
}

// StreamPath is the Xtream URL path segment for a playable item type.
func (t ItemType) StreamPath() string {
	switch t {
	case ItemTypeMovie:
		return "movie"
	case ItemTypeSeries:
		return "series"
	default:
		return "live"
	}
}

// DefaultContainer is the container extension used when the client does not pass one.
func (t ItemType) DefaultContainer() string {
	if t == ItemTypeLive {
		return "ts"
	}
	return "mp4"
}

// Sync status values.
const (
	SyncStatusSyncing = "syncing"
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// SyncScopeAll is the only scope recorded today: a full source sync.
const SyncScopeAll = "all"

// CompositeID namespaces an upstream id with its source id.
func CompositeID(sourceID int64, id string) string {
	return strconv.FormatInt(sourceID, 10) + ":" + id
}
