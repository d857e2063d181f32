package circuitbreaker

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// REGISTRY
// ============================================================================

// entry pairs a breaker with its last-access timestamp. The timestamp is
// atomic so the acquire hot path can touch it under the read lock without
// serializing acquirers across partners.
type entry struct {
	cb         *CircuitBreaker
	lastAccess atomic.Int64 // unix nanos
}

// Registry keeps one circuit breaker per partner id and evicts breakers that
// have not been used for a quiet period. Breaker creation is atomic per id:
// racing callers always end up sharing the same instance.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	cfg        Config // template for new breakers
	evictAfter time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	logger   *log.Logger
}

// NewRegistry creates a breaker registry and starts the background eviction
// sweeper. evictAfter is the idle period after which a breaker is removed,
// sweepInterval is how often the sweep runs.
func NewRegistry(cfg Config, evictAfter, sweepInterval time.Duration) *Registry {
	cfg.sanitize()
	if evictAfter <= 0 {
		evictAfter = 24 * time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}

	r := &Registry{
		entries:    make(map[string]*entry),
		cfg:        cfg,
		evictAfter: evictAfter,
		stop:       make(chan struct{}),
		logger:     log.New(log.Writer(), "[BREAKER-REGISTRY] ", log.LstdFlags),
	}

	go r.sweeper(sweepInterval)

	return r
}

// Acquire asks the partner's breaker for a call permit, creating the breaker
// on first use. The partner's access timestamp is refreshed on every acquire.
func (r *Registry) Acquire(partnerID string) error {
	return r.get(partnerID, true).Acquire()
}

// RecordSuccess reports a successful call outcome for the partner
func (r *Registry) RecordSuccess(partnerID string, duration time.Duration) {
	r.get(partnerID, false).RecordSuccess(duration)
}

// RecordFailure reports a failed call outcome for the partner
func (r *Registry) RecordFailure(partnerID string, duration time.Duration, cause error) {
	r.get(partnerID, false).RecordFailure(duration, cause)
}

// RecordCancellation reports a call that was cancelled before completing;
// it carries no signal about partner health
func (r *Registry) RecordCancellation(partnerID string) {
	r.get(partnerID, false).RecordCancellation()
}

// State returns the partner breaker's current state
func (r *Registry) State(partnerID string) State {
	return r.get(partnerID, false).State()
}

// get returns the breaker for a partner, creating it if necessary.
func (r *Registry) get(partnerID string, touch bool) *CircuitBreaker {
	r.mu.RLock()
	e, exists := r.entries[partnerID]
	r.mu.RUnlock()

	if exists {
		if touch {
			e.lastAccess.Store(time.Now().UnixNano())
		}
		return e.cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if e, exists = r.entries[partnerID]; exists {
		if touch {
			e.lastAccess.Store(time.Now().UnixNano())
		}
		return e.cb
	}

	cfg := r.cfg
	cfg.Name = "partner-" + partnerID
	e = &entry{cb: New(cfg)}
	e.lastAccess.Store(time.Now().UnixNano())
	r.entries[partnerID] = e

	return e.cb
}

// List returns all partner ids with a live breaker
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns a state/window snapshot per partner breaker
func (r *Registry) Stats() map[string]BreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]BreakerStats, len(r.entries))
	for id, e := range r.entries {
		stats[id] = BreakerStats{
			Name:   e.cb.Name(),
			State:  e.cb.State(),
			Counts: e.cb.Counts(),
		}
	}
	return stats
}

// BreakerStats contains stats for a single circuit breaker
type BreakerStats struct {
	Name   string
	State  State
	Counts Counts
}

// EvictInactive removes breakers whose last access is older than the idle
// threshold. Exposed for tests; the sweeper calls it periodically.
func (r *Registry) EvictInactive() int {
	now := time.Now().UnixNano()

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, e := range r.entries {
		if now-e.lastAccess.Load() > int64(r.evictAfter) {
			delete(r.entries, id)
			evicted++
			r.logger.Printf("Evicted inactive circuit breaker for partner: %s", id)
		}
	}
	return evicted
}

// Close stops the eviction sweeper
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) sweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.EvictInactive(); n > 0 {
				r.logger.Printf("Evicted %d inactive circuit breakers", n)
			}
		case <-r.stop:
			return
		}
	}
}
