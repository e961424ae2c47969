package prover

import (
	"sync"
	"time"
)

// healthCache is the process-global cached health probe result described
// in spec §4.3/§9: "encapsulate as a small value type with
// {cacheKey, fetchedAtMs, value}; guarded by a mutex". The cache key
// combines base URL and expected-image-id so a reconfiguration (new
// upstream, new pinned image) invalidates correctly instead of serving a
// stale cross-environment result.
type healthCache struct {
	mu        sync.Mutex
	cacheKey  string
	fetchedAt time.Time
	value     ValidatedHealth
	err       *HealthError
	ttl       time.Duration
}

func newHealthCache(ttl time.Duration) *healthCache {
	return &healthCache{ttl: ttl}
}

func (c *healthCache) get(key string, now time.Time) (ValidatedHealth, *HealthError, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cacheKey != key {
		return ValidatedHealth{}, nil, false
	}
	if now.Sub(c.fetchedAt) > c.ttl {
		return ValidatedHealth{}, nil, false
	}
	return c.value, c.err, true
}

func (c *healthCache) set(key string, now time.Time, value ValidatedHealth, err *HealthError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheKey = key
	c.fetchedAt = now
	c.value = value
	c.err = err
}
