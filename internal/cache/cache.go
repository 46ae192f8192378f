package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/voyagen/streamvault/internal/metrics"
)

// Cache is a TTL key-value store for upstream responses and hot reads.
// Keys built with SourceKey can be dropped per source with ClearSource.
type Cache interface {
	// Get returns the value and true, or false when missing or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key. ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// ClearSource removes every key namespaced under sourceID.
	ClearSource(ctx context.Context, sourceID int64) error
	// ClearPrefix removes every key starting with prefix.
	ClearPrefix(ctx context.Context, prefix string) error
}

// SourceKey builds a key namespaced under sourceID, e.g. src:3:auth.
func SourceKey(sourceID int64, parts ...string) string {
	return sourcePrefix(sourceID) + strings.Join(parts, ":")
}

func sourcePrefix(sourceID int64) string {
	return "src:" + strconv.FormatInt(sourceID, 10) + ":"
}

// GetJSON fetches key and JSON-unmarshals it. ok is false on a miss.
func GetJSON[T any](ctx context.Context, c Cache, key string) (v T, ok bool, err error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return v, false, fmt.Errorf("cache unmarshal %s: %w", key, err)
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return v, true, nil
}

// SetJSON JSON-marshals v and stores it under key with the given TTL.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}
