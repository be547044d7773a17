// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimits keeps one token bucket per client key and forgets clients
// that have been idle for idleTTL.
type clientLimits struct {
	mu      sync.Mutex
	entries map[string]*clientEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type clientEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newClientLimits(rps float64, burst int) *clientLimits {
	if burst < 1 {
		burst = 1
	}
	return &clientLimits{
		entries: make(map[string]*clientEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		now:     time.Now,
	}
}

// allow reports whether key may make a request now. A non-positive rate
// disables limiting.
func (c *clientLimits) allow(key string) bool {
	if c.rps <= 0 {
		return true
	}
	now := c.now()

	c.mu.Lock()
	ent, ok := c.entries[key]
	if !ok {
		ent = &clientEntry{lim: rate.NewLimiter(c.rps, c.burst)}
		c.entries[key] = ent
	}
	ent.lastSeen = now
	c.mu.Unlock()

	return ent.lim.AllowN(now, 1)
}

func (c *clientLimits) cleanup() {
	cutoff := c.now().Add(-c.idleTTL)

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, ent := range c.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}

func (c *clientLimits) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// janitor removes idle clients every interval until ctx is done.
func (c *clientLimits) janitor(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.cleanup()
			}
		}
	}()
}
