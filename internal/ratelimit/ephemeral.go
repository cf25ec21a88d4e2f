package ratelimit

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// EphemeralCache remembers buckets that were recently found exhausted, keyed
// by bucket key, until the instant the bucket gets its next token. It never
// stores admissions. Entries are bounded by an LRU size and a maximum TTL.
// One cache belongs to one Limiter.
type EphemeralCache struct {
	mu      sync.Mutex
	data    map[string]*blockedEntry
	lruList *list.List
	maxSize int
	maxTTL  time.Duration
	now     func() time.Time

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

type blockedEntry struct {
	key          string
	blockedUntil int64
	expiresAt    time.Time
	element      *list.Element
}

// EphemeralCacheConfig holds cache bounds. A zero CleanupInterval disables
// the background sweep; expired entries are then dropped lazily on lookup.
type EphemeralCacheConfig struct {
	MaxEntries      int
	MaxTTL          time.Duration
	CleanupInterval time.Duration
	Now             func() time.Time
}

// NewEphemeralCache creates a cache.
func NewEphemeralCache(cfg EphemeralCacheConfig) *EphemeralCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &EphemeralCache{
		data:        make(map[string]*blockedEntry),
		lruList:     list.New(),
		maxSize:     cfg.MaxEntries,
		maxTTL:      cfg.MaxTTL,
		now:         cfg.Now,
		stopCleanup: make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		go c.cleanupLoop(cfg.CleanupInterval)
	}
	return c
}

// Blocked returns the epoch millis until which key is known exhausted.
func (c *EphemeralCache) Blocked(key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		return 0, false
	}
	if !c.now().Before(e.expiresAt) {
		c.removeEntry(e)
		return 0, false
	}

	c.lruList.MoveToFront(e.element)
	return e.blockedUntil, true
}

// Block records key as exhausted until blockedUntil (epoch millis). The entry
// lives until blockedUntil or MaxTTL from now, whichever comes first.
func (c *EphemeralCache) Block(key string, blockedUntil int64) {
	now := c.now()
	ttl := time.UnixMilli(blockedUntil).Sub(now)
	if ttl <= 0 {
		return
	}
	if ttl > c.maxTTL {
		ttl = c.maxTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.data[key]; ok {
		e.blockedUntil = blockedUntil
		e.expiresAt = now.Add(ttl)
		c.lruList.MoveToFront(e.element)
		return
	}

	for c.lruList.Len() >= c.maxSize {
		c.evictOldest()
	}

	e := &blockedEntry{
		key:          key,
		blockedUntil: blockedUntil,
		expiresAt:    now.Add(ttl),
	}
	e.element = c.lruList.PushFront(e)
	c.data[key] = e
}

// DeletePrefix drops every entry whose key starts with prefix.
func (c *EphemeralCache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.data {
		if strings.HasPrefix(key, prefix) {
			c.removeEntry(e)
			removed++
		}
	}
	return removed
}

// Purge drops every entry and returns how many were held.
func (c *EphemeralCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.data)
	c.data = make(map[string]*blockedEntry)
	c.lruList.Init()
	return n
}

// Size returns the number of entries, expired ones included.
func (c *EphemeralCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Close stops the cleanup goroutine.
func (c *EphemeralCache) Close() {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
}

func (c *EphemeralCache) removeEntry(e *blockedEntry) {
	c.lruList.Remove(e.element)
	delete(c.data, e.key)
}

func (c *EphemeralCache) evictOldest() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}
	c.removeEntry(oldest.Value.(*blockedEntry))
}

func (c *EphemeralCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *EphemeralCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, e := range c.data {
		if !now.Before(e.expiresAt) {
			c.removeEntry(e)
		}
	}
}
