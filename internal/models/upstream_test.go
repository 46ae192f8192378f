package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexString(t *testing.T) {
	var v struct {
		A FlexString `json:"a"`
		B FlexString `json:"b"`
		C FlexString `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":10,"b":"x","c":null}`), &v))
	assert.Equal(t, "10", v.A.String())
	assert.Equal(t, "x", v.B.String())
	assert.Equal(t, "", v.C.String())
}

func TestUpstreamItemMapping(t *testing.T) {
	t.Run("live", func(t *testing.T) {
		raw := json.RawMessage(`{"stream_id":10,"name":"CNN","category_id":"1","stream_icon":"http://i/cnn.png","epg_channel_id":"cnn.us"}`)
		u, err := DecodeUpstreamItem(ItemTypeLive, raw)
		require.NoError(t, err)
		it, err := u.ToPlaylistItem(3)
		require.NoError(t, err)
		assert.Equal(t, "3:10", it.ID)
		assert.Equal(t, "10", it.ItemID)
		assert.Equal(t, "CNN", it.Name)
		assert.Equal(t, "1", it.CategoryID)
		assert.Equal(t, "http://i/cnn.png", it.Icon)
		assert.JSONEq(t, string(raw), string(it.RawPayload))
	})

	t.Run("movie", func(t *testing.T) {
		raw := json.RawMessage(`{"stream_id":"55","name":"Heat","rating":"8.3","year":"1995","container_extension":"mkv","added":"1700000000"}`)
		u, err := DecodeUpstreamItem(ItemTypeMovie, raw)
		require.NoError(t, err)
		it, err := u.ToPlaylistItem(1)
		require.NoError(t, err)
		assert.Equal(t, "55", it.ItemID)
		require.NotNil(t, it.Rating)
		assert.Equal(t, "8.3", *it.Rating)
		require.NotNil(t, it.Year)
		assert.Equal(t, "1995", *it.Year)
		require.NotNil(t, it.ContainerExtension)
		assert.Equal(t, "mkv", *it.ContainerExtension)
		require.NotNil(t, it.AddedAt)
		assert.Equal(t, int64(1700000000), it.AddedAt.Unix())
	})

	t.Run("series", func(t *testing.T) {
		raw := json.RawMessage(`{"series_id":7,"name":"Dark","cover":"http://i/dark.jpg","releaseDate":"2017-12-01","last_modified":"1600000000","category_id":2}`)
		u, err := DecodeUpstreamItem(ItemTypeSeries, raw)
		require.NoError(t, err)
		it, err := u.ToPlaylistItem(1)
		require.NoError(t, err)
		assert.Equal(t, "7", it.ItemID)
		assert.Equal(t, "2", it.CategoryID)
		assert.Equal(t, "http://i/dark.jpg", it.Icon)
		require.NotNil(t, it.Year)
		assert.Equal(t, "2017", *it.Year)
		require.NotNil(t, it.AddedAt)
		assert.Equal(t, int64(1600000000), it.AddedAt.Unix())
	})

	t.Run("missing id", func(t *testing.T) {
		u, err := DecodeUpstreamItem(ItemTypeLive, json.RawMessage(`{"name":"nameless"}`))
		require.NoError(t, err)
		_, err = u.ToPlaylistItem(1)
		assert.Error(t, err)
	})
}

func TestUpstreamCategory(t *testing.T) {
	var c UpstreamCategory
	require.NoError(t, json.Unmarshal([]byte(`{"category_id":"1","category_name":"News","parent_id":0}`), &c))
	cat := c.ToCategory(9, ItemTypeLive)
	assert.Equal(t, "9:1", cat.ID)
	assert.Equal(t, "News", cat.Name)
	assert.Nil(t, cat.ParentID)
	assert.Contains(t, string(cat.RawPayload), `"category_name":"News"`)
}
