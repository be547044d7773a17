// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/research-harvester/internal/logging"
	"github.com/pdiddy/research-harvester/internal/ratelimit"
	"github.com/pdiddy/research-harvester/pkg/types"
)

// MultiCoordinator runs registered coordinators concurrently, one goroutine
// each. Coordinators for the same provider share one limiter, so requests to
// a provider stay spaced even when several coordinators query it.
type MultiCoordinator struct {
	mu           sync.Mutex
	coordinators []*Coordinator
	limiters     *ratelimit.Registry
	log          *logrus.Entry
}

// NewMulti returns an empty multi coordinator sharing limiters. A nil
// registry gets a fresh one on the wall clock.
func NewMulti(limiters *ratelimit.Registry, log *logrus.Entry) *MultiCoordinator {
	if limiters == nil {
		limiters = ratelimit.NewRegistry()
	}
	return &MultiCoordinator{limiters: limiters, log: logging.OrDiscard(log)}
}

// Add registers c and binds it to the shared limiters. Results keep
// registration order.
func (m *MultiCoordinator) Add(c *Coordinator) error {
	if err := c.UseLimiters(m.limiters); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coordinators = append(m.coordinators, c)
	return nil
}

// Len returns the number of registered coordinators.
func (m *MultiCoordinator) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.coordinators)
}

// SearchPages fetches pages from every coordinator concurrently and returns
// the results grouped by registration order, then page order. A failure or
// panic in one coordinator only affects that coordinator's entries.
func (m *MultiCoordinator) SearchPages(ctx context.Context, pages []int) AggregatedResult {
	m.mu.Lock()
	coordinators := append([]*Coordinator(nil), m.coordinators...)
	m.mu.Unlock()

	if len(coordinators) == 0 {
		m.log.Warn("no coordinators registered, nothing to search")
		return AggregatedResult{}
	}

	perWorker := make([][]PageResult, len(coordinators))
	var wg sync.WaitGroup
	for i, c := range coordinators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			perWorker[i] = m.run(ctx, c, pages)
		}()
	}
	wg.Wait()

	var out AggregatedResult
	for _, results := range perWorker {
		out = append(out, results...)
	}
	return out
}

func (m *MultiCoordinator) run(ctx context.Context, c *Coordinator, pages []int) (results []PageResult) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("provider", c.Provider()).Errorf("coordinator panicked: %v", r)
			results = failAll(c, pages, fmt.Errorf("coordinator panicked: %v", r))
		}
	}()
	return c.SearchPages(ctx, pages)
}

func failAll(c *Coordinator, pages []int, err error) []PageResult {
	out := make([]PageResult, len(pages))
	for i, p := range pages {
		out[i] = PageResult{Provider: c.Provider(), Query: c.Query(), Page: p, Outcome: types.TransportFailure(err)}
	}
	return out
}
