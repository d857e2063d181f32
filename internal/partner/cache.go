package partner

import (
	"context"
	"log"
	"sync"
	"time"
)

// Cache is the bounded, TTL-expiring view of the active partner set that the
// orchestrator reads on every broadcast. Reads are cache-through: a miss
// consults the repository and either resolves to a value or reports not-found,
// never a stale entry. Writes go through to the repository first and then
// invalidate, so readers only ever observe committed configurations.
type Cache struct {
	repo     Repository
	capacity int
	ttl      time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry

	// writeMu serializes create/update/disable/refresh with respect to one
	// another; readers are not blocked by it.
	writeMu sync.Mutex

	logger *log.Logger
	now    func() time.Time
}

type cacheEntry struct {
	partner  Partner
	storedAt time.Time
}

// NewCache creates a partner cache with the given capacity and time-to-live
// from write. The cache starts empty; call Preload before serving traffic.
func NewCache(repo Repository, capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 100
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Cache{
		repo:     repo,
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]cacheEntry),
		logger:   log.New(log.Writer(), "[PARTNER-CACHE] ", log.LstdFlags),
		now:      time.Now,
	}
}

// Preload populates the cache with all active partners. Repository errors are
// logged and the cache keeps whatever it already held.
func (c *Cache) Preload(ctx context.Context) {
	partners, err := c.repo.FindActive(ctx)
	if err != nil {
		c.logger.Printf("⚠️ Preload failed, keeping previous cache contents: %v", err)
		return
	}

	c.mu.Lock()
	for _, p := range partners {
		c.putLocked(p)
	}
	c.mu.Unlock()

	c.logger.Printf("Preloaded %d partners into cache", len(partners))
}

// ActivePartners returns a point-in-time copy of all non-expired cached
// partners. Callers may hold or mutate the returned slice freely.
func (c *Cache) ActivePartners() []Partner {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	partners := make([]Partner, 0, len(c.entries))
	for _, e := range c.entries {
		if now.Sub(e.storedAt) < c.ttl {
			partners = append(partners, e.partner)
		}
	}
	return partners
}

// Get returns the partner with the given id. On a cache miss the repository
// is consulted; repository errors surface as not-found, never as errors
// through the broadcast path.
func (c *Cache) Get(ctx context.Context, id string) (Partner, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()

	if ok && now.Sub(e.storedAt) < c.ttl {
		return e.partner, true
	}

	p, err := c.repo.FindByIDEnabled(ctx, id)
	if err != nil {
		c.logger.Printf("⚠️ Repository lookup failed for partner %s: %v", id, err)
		return Partner{}, false
	}
	if p == nil {
		return Partner{}, false
	}

	c.mu.Lock()
	c.putLocked(*p)
	c.mu.Unlock()

	return *p, true
}

// Create validates and persists a new partner configuration, then refreshes
// the whole cache so the new partner is visible to the next broadcast.
func (c *Cache) Create(ctx context.Context, p Partner) (Partner, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	p.Normalize()
	if err := p.Validate(); err != nil {
		return Partner{}, err
	}

	c.logger.Printf("Creating partner - ID: %s, Name: %s", p.ID, p.Name)
	saved, err := c.repo.Save(ctx, p)
	if err != nil {
		return Partner{}, err
	}

	c.refresh(ctx)
	return saved, nil
}

// Update validates and persists changes to an existing partner, then
// invalidates its cache entry.
func (c *Cache) Update(ctx context.Context, p Partner) (Partner, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	p.Normalize()
	if err := p.Validate(); err != nil {
		return Partner{}, err
	}

	c.logger.Printf("Updating partner - ID: %s", p.ID)
	saved, err := c.repo.Save(ctx, p)
	if err != nil {
		return Partner{}, err
	}

	c.Invalidate(p.ID)
	return saved, nil
}

// Disable marks a partner as disabled in the repository and evicts it from
// the cache.
func (c *Cache) Disable(ctx context.Context, id string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.logger.Printf("Disabling partner - ID: %s", id)
	if err := c.repo.SetEnabled(ctx, id, false); err != nil {
		return err
	}

	c.Invalidate(id)
	return nil
}

// Refresh discards all cached entries and repopulates from the repository's
// active-partner query.
func (c *Cache) Refresh(ctx context.Context) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.refresh(ctx)
}

func (c *Cache) refresh(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()

	c.Preload(ctx)
}

// Invalidate evicts a single partner from the cache. The next read loads it
// fresh from the repository.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Size reports the number of cached entries, expired or not.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// putLocked stores an entry, evicting the oldest one when at capacity.
// Caller must hold c.mu.
func (c *Cache) putLocked(p Partner) {
	if _, exists := c.entries[p.ID]; !exists && len(c.entries) >= c.capacity {
		var oldestID string
		var oldest time.Time
		for id, e := range c.entries {
			if oldestID == "" || e.storedAt.Before(oldest) {
				oldestID = id
				oldest = e.storedAt
			}
		}
		delete(c.entries, oldestID)
	}
	c.entries[p.ID] = cacheEntry{partner: p, storedAt: c.now()}
}
