package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrLocked is returned by TryLock when the lock is already held.
var ErrLocked = errors.New("lock is already held")

const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// SyncLockKey names the lock that keeps one sync per source across processes.
func SyncLockKey(sourceID int64) string {
	return "lock:sync:" + strconv.FormatInt(sourceID, 10)
}

// TryLock acquires a lock with SET NX PX. On success the returned unlock
// func must be called (typically via defer). ErrLocked means someone else holds it.
// ttl bounds how long a crashed holder can block others.
func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error) {
	// Random token ensures only the holder can release the lock.
	token := randomToken()
	ok, err := r.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		// Background context: the lock must be released even if the caller's ctx is done.
		_ = r.client.Eval(context.Background(), unlockScript, []string{keyPrefix + key}, token).Err()
	}, nil
}

// IsLocked reports whether the lock key exists.
func (r *Redis) IsLocked(ctx context.Context, key string) bool {
	n, _ := r.client.Exists(ctx, keyPrefix+key).Result()
	return n > 0
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
