package service

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryGuard is the in-process set of sources with a sync in flight.
type MemoryGuard struct {
	mu     sync.Mutex
	active map[int64]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{active: make(map[int64]struct{})}
}

// TryAcquire marks sourceID active. It returns false if it already was.
func (g *MemoryGuard) TryAcquire(sourceID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[sourceID]; busy {
		return false
	}
	g.active[sourceID] = struct{}{}
	return true
}

// Release clears sourceID. Releasing an inactive source is a no-op.
func (g *MemoryGuard) Release(sourceID int64) {
	g.mu.Lock()
	delete(g.active, sourceID)
	g.mu.Unlock()
}

// Active returns the sources currently syncing, sorted.
func (g *MemoryGuard) Active() []int64 {
	g.mu.Lock()
	out := make([]int64, 0, len(g.active))
	for id := range g.active {
		out = append(out, id)
	}
	g.mu.Unlock()
	slices.Sort(out)
	return out
}

// Locker is a cross-process lock, such as *cache.Redis. TryLock returns
// cache.ErrLocked when another holder has the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
