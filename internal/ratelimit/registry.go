// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/research-harvester/internal/clock"
	"github.com/pdiddy/research-harvester/internal/logging"
	"github.com/pdiddy/research-harvester/internal/provider"
)

// IntervalFunc supplies the minimum interval for a canonical provider name
// the first time the registry sees it.
type IntervalFunc func(provider string) time.Duration

// Registry hands out one Limiter per canonical provider name. Every
// coordinator that shares a registry shares its limiters.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	interval IntervalFunc
	clock    clock.Clock
	log      *logrus.Entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock drives all limiters from c.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithIntervals sets where intervals for new providers come from.
func WithIntervals(fn IntervalFunc) Option {
	return func(r *Registry) { r.interval = fn }
}

// WithLogger sets the log entry handed to limiters.
func WithLogger(e *logrus.Entry) Option {
	return func(r *Registry) { r.log = e }
}

// NewRegistry returns an empty registry. Without WithIntervals, providers
// are unlimited until SetInterval is called.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{limiters: make(map[string]*Limiter)}
	for _, opt := range opts {
		opt(r)
	}
	r.clock = clock.OrReal(r.clock)
	r.log = logging.OrDiscard(r.log)
	return r
}

// Get returns the limiter for name, creating it on first reference.
// "PubMed", "pub_med" and "pubmed" resolve to the same limiter.
func (r *Registry) Get(name string) *Limiter {
	key := provider.Normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[key]; ok {
		return l
	}
	var d time.Duration
	if r.interval != nil {
		d = r.interval(key)
	}
	l := NewLimiter(key, d, r.clock, r.log)
	r.limiters[key] = l
	return l
}

// SetInterval sets the spacing for name, creating the limiter if needed.
func (r *Registry) SetInterval(name string, d time.Duration) {
	r.Get(name).SetMinInterval(d)
}

// Acquire waits for name's limiter.
func (r *Registry) Acquire(ctx context.Context, name string) error {
	return r.Get(name).Acquire(ctx)
}

// ObserveRetryAfter forwards a Retry-After hint to name's limiter.
func (r *Registry) ObserveRetryAfter(name string, d time.Duration) {
	r.Get(name).ObserveRetryAfter(d)
}

// Providers lists the canonical names with a limiter, sorted.
func (r *Registry) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
