package usecase

import (
	"sync"
	"time"
)

// dedupCache suppresses repeats of a keyed occurrence inside a TTL window.
// Used to avoid re-alerting the same risk warning every sync tick.
type dedupCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

func newDedupCache(ttl time.Duration) *dedupCache {
	return &dedupCache{
		ttl:  ttl,
		seen: make(map[string]time.Time),
	}
}

// Allow reports whether key has not fired within the TTL, and marks it.
func (c *dedupCache) Allow(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.seen[key]; ok && now.Sub(at) < c.ttl {
		return false
	}

	// Opportunistic sweep keeps the map bounded without a janitor goroutine.
	for k, at := range c.seen {
		if now.Sub(at) >= c.ttl {
			delete(c.seen, k)
		}
	}

	c.seen[key] = now
	return true
}
