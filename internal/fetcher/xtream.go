package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/voyagen/streamvault/internal/apperr"
	"github.com/voyagen/streamvault/internal/models"
)

// XtreamClient talks to an Xtream-Codes panel's player_api.php.
// It holds no cache; every method is one upstream call.
type XtreamClient struct {
	base     string
	username string
	password string
	opts     Options
}

// NewXtreamClient builds a client for src. A trailing "/player_api.php" on src.URL is ignored.
func NewXtreamClient(src models.Source, opts Options) *XtreamClient {
	base := strings.TrimRight(strings.TrimSpace(src.URL), "/")
	base = strings.TrimSuffix(base, "/player_api.php")
	if src.UserAgent != "" {
		opts.UserAgent = src.UserAgent
	}
	return &XtreamClient{base: base, username: src.Username, password: src.Password, opts: opts}
}

// authInfo is the subset of the authenticate response checked for credential validity.
type authInfo struct {
	UserInfo *struct {
		Auth    models.FlexString `json:"auth"`
		Status  models.FlexString `json:"status"`
		Message models.FlexString `json:"message"`
	} `json:"user_info"`
}

// Authenticate calls player_api.php without an action. It doubles as the connectivity test.
func (c *XtreamClient) Authenticate(ctx context.Context) (json.RawMessage, error) {
	raw, err := c.getRaw(ctx, "Authenticate", c.apiURL("", nil))
	if err != nil {
		return nil, err
	}
	var info authInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, apperr.Parse("Authenticate", err)
	}
	if info.UserInfo == nil || info.UserInfo.Auth.String() == "0" {
		return nil, apperr.Upstream("Authenticate", http.StatusUnauthorized, errors.New("invalid credentials"))
	}
	return raw, nil
}

func (c *XtreamClient) GetLiveCategories(ctx context.Context) ([]models.UpstreamCategory, error) {
	return c.categories(ctx, "GetLiveCategories", "get_live_categories")
}

func (c *XtreamClient) GetVodCategories(ctx context.Context) ([]models.UpstreamCategory, error) {
	return c.categories(ctx, "GetVodCategories", "get_vod_categories")
}

func (c *XtreamClient) GetSeriesCategories(ctx context.Context) ([]models.UpstreamCategory, error) {
	return c.categories(ctx, "GetSeriesCategories", "get_series_categories")
}

func (c *XtreamClient) GetLiveStreams(ctx context.Context) ([]models.UpstreamItem, error) {
	return c.items(ctx, "GetLiveStreams", "get_live_streams", models.ItemTypeLive)
}

func (c *XtreamClient) GetVodStreams(ctx context.Context) ([]models.UpstreamItem, error) {
	return c.items(ctx, "GetVodStreams", "get_vod_streams", models.ItemTypeMovie)
}

func (c *XtreamClient) GetSeries(ctx context.Context) ([]models.UpstreamItem, error) {
	return c.items(ctx, "GetSeries", "get_series", models.ItemTypeSeries)
}

// GetSeriesInfo returns the raw get_series_info payload (seasons, episodes, info).
func (c *XtreamClient) GetSeriesInfo(ctx context.Context, seriesID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "GetSeriesInfo", c.apiURL("get_series_info", url.Values{"series_id": {seriesID}}))
}

// GetVodInfo returns the raw get_vod_info payload.
func (c *XtreamClient) GetVodInfo(ctx context.Context, vodID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "GetVodInfo", c.apiURL("get_vod_info", url.Values{"vod_id": {vodID}}))
}

// XMLTVURL is the panel's generated guide for this account.
func (c *XtreamClient) XMLTVURL() string {
	q := url.Values{"username": {c.username}, "password": {c.password}}
	return c.base + "/xmltv.php?" + q.Encode()
}

// StreamURL builds base/{live|movie|series}/{username}/{password}/{streamID}.{container}.
func (c *XtreamClient) StreamURL(t models.ItemType, streamID, container string) string {
	if container == "" {
		container = t.DefaultContainer()
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s.%s", c.base, t.StreamPath(),
		url.PathEscape(c.username), url.PathEscape(c.password), url.PathEscape(streamID), container)
}

func (c *XtreamClient) apiURL(action string, extra url.Values) string {
	q := url.Values{"username": {c.username}, "password": {c.password}}
	if action != "" {
		q.Set("action", action)
	}
	for k, v := range extra {
		q[k] = v
	}
	return c.base + "/player_api.php?" + q.Encode()
}

func (c *XtreamClient) categories(ctx context.Context, op, action string) ([]models.UpstreamCategory, error) {
	out := []models.UpstreamCategory{}
	err := c.eachElement(ctx, op, c.apiURL(action, nil), func(raw json.RawMessage) error {
		var cat models.UpstreamCategory
		if err := json.Unmarshal(raw, &cat); err != nil {
			return apperr.Parse(op, err)
		}
		out = append(out, cat)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *XtreamClient) items(ctx context.Context, op, action string, kind models.ItemType) ([]models.UpstreamItem, error) {
	out := []models.UpstreamItem{}
	err := c.eachElement(ctx, op, c.apiURL(action, nil), func(raw json.RawMessage) error {
		item, err := models.DecodeUpstreamItem(kind, raw)
		if err != nil {
			return apperr.Parse(op, err)
		}
		out = append(out, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// eachElement decodes a JSON list response one element at a time. Panels return
// arrays, id-keyed objects, null or an empty body for "nothing"; all are accepted.
func (c *XtreamClient) eachElement(ctx context.Context, op, rawURL string, fn func(json.RawMessage) error) error {
	body, err := Open(ctx, c.opts, rawURL)
	if err != nil {
		return relabel(err, op)
	}
	defer body.Close()

	dec := json.NewDecoder(body)
	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return apperr.Parse(op, err)
	}
	switch tok {
	case nil:
		return nil
	case json.Delim('['):
		for dec.More() {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return apperr.Parse(op, err)
			}
			if !isObject(raw) {
				continue
			}
			if err := fn(raw); err != nil {
				return err
			}
		}
	case json.Delim('{'):
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return apperr.Parse(op, err)
			}
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return apperr.Parse(op, err)
			}
			if !isObject(raw) {
				continue
			}
			if err := fn(raw); err != nil {
				return err
			}
		}
	default:
		return apperr.Parse(op, fmt.Errorf("unexpected JSON token %v", tok))
	}
	return nil
}

func (c *XtreamClient) getRaw(ctx context.Context, op, rawURL string) (json.RawMessage, error) {
	body, err := Open(ctx, c.opts, rawURL)
	if err != nil {
		return nil, relabel(err, op)
	}
	defer body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, apperr.Parse(op, err)
	}
	return raw, nil
}

// relabel replaces the generic "GET url" op with the client method name.
func relabel(err error, op string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		cp := *ae
		cp.Op = op
		return &cp
	}
	return err
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
