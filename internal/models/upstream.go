package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FlexString decodes a JSON string, number or null into a string.
// Xtream panels disagree on whether ids are numbers or strings.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}
	*f = FlexString(b)
	return nil
}

func (f FlexString) String() string { return strings.TrimSpace(string(f)) }

// UpstreamCategory is one entry of get_live_categories / get_vod_categories / get_series_categories.
type UpstreamCategory struct {
	CategoryID   FlexString      `json:"category_id"`
	CategoryName FlexString      `json:"category_name"`
	ParentID     FlexString      `json:"parent_id"`
	Raw          json.RawMessage `json:"-"`
}

func (c *UpstreamCategory) UnmarshalJSON(b []byte) error {
	type plain UpstreamCategory
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = UpstreamCategory(p)
	c.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// ToCategory maps an upstream category onto the stored shape.
func (c UpstreamCategory) ToCategory(sourceID int64, t ItemType) Category {
	id := c.CategoryID.String()
	cat := Category{
		ID:         CompositeID(sourceID, id),
		SourceID:   sourceID,
		Type:       t,
		CategoryID: id,
		Name:       c.CategoryName.String(),
		RawPayload: c.Raw,
	}
	if p := c.ParentID.String(); p != "" && p != "0" {
		cat.ParentID = &p
	}
	return cat
}

// LiveStream is the get_live_streams record shape.
type LiveStream struct {
	StreamID     FlexString `json:"stream_id"`
	Name         FlexString `json:"name"`
	StreamIcon   FlexString `json:"stream_icon"`
	CategoryID   FlexString `json:"category_id"`
	EPGChannelID FlexString `json:"epg_channel_id"`
	Added        FlexString `json:"added"`
}

// VodStream is the get_vod_streams record shape.
type VodStream struct {
	StreamID           FlexString `json:"stream_id"`
	Name               FlexString `json:"name"`
	StreamIcon         FlexString `json:"stream_icon"`
	CategoryID         FlexString `json:"category_id"`
	Rating             FlexString `json:"rating"`
	Year               FlexString `json:"year"`
	ContainerExtension FlexString `json:"container_extension"`
	Added              FlexString `json:"added"`
}

// SeriesEntry is the get_series record shape.
type SeriesEntry struct {
	SeriesID     FlexString `json:"series_id"`
	Name         FlexString `json:"name"`
	Cover        FlexString `json:"cover"`
	CategoryID   FlexString `json:"category_id"`
	Rating       FlexString `json:"rating"`
	ReleaseDate  FlexString `json:"releaseDate"`
	LastModified FlexString `json:"last_modified"`
}

// UpstreamItem is a tagged union over the three Xtream record shapes.
// Exactly one of Live, Movie or Series is set, matching Kind.
type UpstreamItem struct {
	Kind   ItemType
	Live   *LiveStream
	Movie  *VodStream
	Series *SeriesEntry
	Raw    json.RawMessage
}

// DecodeUpstreamItem decodes raw into the record shape for kind.
func DecodeUpstreamItem(kind ItemType, raw json.RawMessage) (UpstreamItem, error) {
	item := UpstreamItem{Kind: kind, Raw: raw}
	var err error
	switch kind {
	case ItemTypeLive:
		item.Live = &LiveStream{}
		err = json.Unmarshal(raw, item.Live)
	case ItemTypeMovie:
		item.Movie = &VodStream{}
		err = json.Unmarshal(raw, item.Movie)
	case ItemTypeSeries:
		item.Series = &SeriesEntry{}
		err = json.Unmarshal(raw, item.Series)
	default:
		return item, fmt.Errorf("unsupported upstream kind %q", kind)
	}
	if err != nil {
		return item, fmt.Errorf("decode %s item: %w", kind, err)
	}
	return item, nil
}

// ToPlaylistItem maps the kind-specific fields onto a PlaylistItem.
// Fields that are not promoted stay available in RawPayload.
func (u UpstreamItem) ToPlaylistItem(sourceID int64) (PlaylistItem, error) {
	var it PlaylistItem
	switch {
	case u.Kind == ItemTypeLive && u.Live != nil:
		it = mapLive(u.Live)
	case u.Kind == ItemTypeMovie && u.Movie != nil:
		it = mapMovie(u.Movie)
	case u.Kind == ItemTypeSeries && u.Series != nil:
		it = mapSeries(u.Series)
	default:
		return it, fmt.Errorf("upstream item of kind %q has no %s record", u.Kind, u.Kind)
	}
	if it.ItemID == "" {
		return it, fmt.Errorf("upstream %s item %q has no id", u.Kind, it.Name)
	}
	it.ID = CompositeID(sourceID, it.ItemID)
	it.SourceID = sourceID
	it.Type = u.Kind
	it.RawPayload = u.Raw
	return it, nil
}

func mapLive(s *LiveStream) PlaylistItem {
	return PlaylistItem{
		ItemID:     s.StreamID.String(),
		Name:       s.Name.String(),
		CategoryID: s.CategoryID.String(),
		Icon:       s.StreamIcon.String(),
		AddedAt:    epochSeconds(s.Added),
	}
}

func mapMovie(s *VodStream) PlaylistItem {
	return PlaylistItem{
		ItemID:             s.StreamID.String(),
		Name:               s.Name.String(),
		CategoryID:         s.CategoryID.String(),
		Icon:               s.StreamIcon.String(),
		Rating:             optional(s.Rating),
		Year:               optional(s.Year),
		ContainerExtension: optional(s.ContainerExtension),
		AddedAt:            epochSeconds(s.Added),
	}
}

func mapSeries(s *SeriesEntry) PlaylistItem {
	return PlaylistItem{
		ItemID:     s.SeriesID.String(),
		Name:       s.Name.String(),
		CategoryID: s.CategoryID.String(),
		Icon:       s.Cover.String(),
		Rating:     optional(s.Rating),
		Year:       yearOf(s.ReleaseDate.String()),
		AddedAt:    epochSeconds(s.LastModified),
	}
}

func optional(f FlexString) *string {
	v := f.String()
	if v == "" {
		return nil
	}
	return &v
}

func epochSeconds(f FlexString) *time.Time {
	n, err := strconv.ParseInt(f.String(), 10, 64)
	if err != nil || n <= 0 {
		return nil
	}
	t := time.Unix(n, 0).UTC()
	return &t
}

// yearOf returns the leading four-digit year of a release date like "2019-05-01".
func yearOf(s string) *string {
	if s == "" {
		return nil
	}
	if len(s) >= 4 {
		if _, err := strconv.Atoi(s[:4]); err == nil {
			y := s[:4]
			return &y
		}
	}
	return &s
}
