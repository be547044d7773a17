// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search coordinates paginated retrieval: a Coordinator pulls pages
// from one provider through the cache, retry and rate limiting layers, and a
// MultiCoordinator runs several coordinators concurrently.
package search

import (
	"context"
	"fmt"
	"maps"
	"os"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/research-harvester/internal/cache"
	"github.com/pdiddy/research-harvester/internal/clock"
	"github.com/pdiddy/research-harvester/internal/httputil"
	"github.com/pdiddy/research-harvester/internal/logging"
	"github.com/pdiddy/research-harvester/internal/provider"
	"github.com/pdiddy/research-harvester/internal/ratelimit"
	"github.com/pdiddy/research-harvester/internal/request"
	"github.com/pdiddy/research-harvester/internal/workflow"
	"github.com/pdiddy/research-harvester/pkg/types"
)

// Coordinator retrieves pages of one query from one provider.
type Coordinator struct {
	provider  provider.Config
	query     string
	rpp       int
	params    map[string]string
	apiKey    string
	stopEarly bool

	policy    httputil.RetryPolicy
	cache     *cache.ResponseCache
	workflow  *workflow.Workflow
	noFlow    bool
	transport httputil.Transport
	limiters  *ratelimit.Registry
	providers *provider.Registry
	clock     clock.Clock
	log       *logrus.Entry
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRecordsPerPage overrides the provider's page size.
func WithRecordsPerPage(n int) Option { return func(c *Coordinator) { c.rpp = n } }

// WithParams adds provider-specific query parameters to every request.
func WithParams(p map[string]string) Option {
	return func(c *Coordinator) { c.params = maps.Clone(p) }
}

// WithAPIKey sets the key sent to the provider.
func WithAPIKey(key string) Option { return func(c *Coordinator) { c.apiKey = key } }

// WithRetryPolicy replaces the default policy.
func WithRetryPolicy(p httputil.RetryPolicy) Option { return func(c *Coordinator) { c.policy = p } }

// WithCache enables response caching.
func WithCache(rc *cache.ResponseCache) Option { return func(c *Coordinator) { c.cache = rc } }

// WithWorkflow runs every page through w instead of a single request.
func WithWorkflow(w *workflow.Workflow) Option {
	return func(c *Coordinator) { c.workflow = w; c.noFlow = w == nil }
}

// WithoutWorkflow disables the provider's default workflow.
func WithoutWorkflow() Option { return func(c *Coordinator) { c.workflow = nil; c.noFlow = true } }

// WithTransport sets the transport. Each coordinator must own its transport.
func WithTransport(t httputil.Transport) Option { return func(c *Coordinator) { c.transport = t } }

// WithLimiters shares a limiter registry with other coordinators.
func WithLimiters(r *ratelimit.Registry) Option { return func(c *Coordinator) { c.limiters = r } }

// WithProviders sets where workflow step providers are looked up.
func WithProviders(r *provider.Registry) Option { return func(c *Coordinator) { c.providers = r } }

// WithClock drives backoff sleeps (and a private limiter registry) from clk.
func WithClock(clk clock.Clock) Option { return func(c *Coordinator) { c.clock = clk } }

// WithLogger sets the log entry.
func WithLogger(e *logrus.Entry) Option { return func(c *Coordinator) { c.log = e } }

// WithStopEarly halts SearchPages after a failed page or a page shorter
// than the page size.
func WithStopEarly(stop bool) Option { return func(c *Coordinator) { c.stopEarly = stop } }

// DefaultRetryPolicy is used when no policy is given.
var DefaultRetryPolicy = httputil.RetryPolicy{MaxRetries: 3, BackoffFactor: 0.5, MaxBackoff: 120 * time.Second}

// New builds a coordinator for query against cfg.
func New(cfg provider.Config, query string, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Name = provider.Normalize(cfg.Name)
	c := &Coordinator{
		provider: cfg,
		query:    query,
		rpp:      cfg.RecordsPerPage,
		policy:   DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rpp <= 0 {
		c.rpp = cfg.RecordsPerPage
	}
	c.clock = clock.OrReal(c.clock)
	c.log = logging.OrDiscard(c.log).WithFields(logrus.Fields{"provider": cfg.Name})
	if c.providers == nil {
		c.providers = provider.Default()
	}
	if c.workflow == nil && !c.noFlow {
		c.workflow = workflow.Default(cfg.Name)
	}
	if c.workflow != nil && c.workflow.Log == nil {
		wf := *c.workflow
		wf.Log = c.log
		c.workflow = &wf
	}
	if c.transport == nil {
		c.transport = httputil.NewHTTPTransport(types.HTTPConfig{})
	}
	if c.limiters == nil {
		c.limiters = ratelimit.NewRegistry(ratelimit.WithClock(c.clock), ratelimit.WithLogger(c.log))
	}
	if err := c.UseLimiters(c.limiters); err != nil {
		return nil, err
	}
	return c, nil
}

// Provider returns the canonical provider name.
func (c *Coordinator) Provider() string { return c.provider.Name }

// Query returns the query string.
func (c *Coordinator) Query() string { return c.query }

// RecordsPerPage returns the effective page size.
func (c *Coordinator) RecordsPerPage() int { return c.rpp }

// UseLimiters binds the coordinator to r. Every provider the coordinator
// may call gets at least its configured interval; when coordinators
// disagree the stricter interval wins.
func (c *Coordinator) UseLimiters(r *ratelimit.Registry) error {
	c.limiters = r
	ensureInterval(r, c.provider.Name, c.provider.MinInterval)
	if c.workflow == nil {
		return nil
	}
	for _, step := range c.workflow.Steps {
		if step.Provider == "" || provider.Normalize(step.Provider) == c.provider.Name {
			continue
		}
		cfg, err := c.providers.Lookup(step.Provider)
		if err != nil {
			return fmt.Errorf("workflow %s: %w", c.workflow.Name, err)
		}
		ensureInterval(r, cfg.Name, cfg.MinInterval)
	}
	return nil
}

func ensureInterval(r *ratelimit.Registry, name string, d time.Duration) {
	l := r.Get(name)
	if l.MinInterval() < d {
		l.SetMinInterval(d)
	}
}

// CacheKey returns the key under which page is cached.
func (c *Coordinator) CacheKey(page int) string {
	return cache.Key(c.provider.Name, c.query, page, c.rpp, c.provider.Fingerprint(c.params))
}

// Search returns the outcome for one page. It never panics; every failure
// comes back as a failed outcome.
func (c *Coordinator) Search(ctx context.Context, page int) types.Outcome {
	out, _ := c.search(ctx, page)
	return out
}

func (c *Coordinator) search(ctx context.Context, page int) (out types.Outcome, cached bool) {
	log := c.log.WithField("page", page)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("search panicked: %v", r)
			out, cached = types.TransportFailure(fmt.Errorf("search panicked: %v", r)), false
		}
	}()

	key := c.CacheKey(page)
	if hit, ok := c.cache.Lookup(ctx, key); ok {
		log.WithField("cache_key", key).Debug("cache hit")
		return hit, hit.FromCache
	}

	if c.workflow != nil {
		res := c.workflow.Run(ctx, c, page)
		out = res.Outcome
	} else {
		out = c.fetch(ctx, c.provider, page, c.params)
	}

	if out.OK() {
		c.cache.Store(ctx, key, out)
	} else {
		log.WithField("failure", out.String()).Warn("page failed")
	}
	return out, false
}

// SearchPages retrieves pages strictly in order, one at a time.
func (c *Coordinator) SearchPages(ctx context.Context, pages []int) []PageResult {
	results := make([]PageResult, 0, len(pages))
	for _, page := range pages {
		out, cached := c.search(ctx, page)
		results = append(results, PageResult{
			Provider: c.provider.Name,
			Query:    c.query,
			Page:     page,
			Cached:   cached,
			Outcome:  out,
		})
		if c.stopEarly && c.shouldStop(out) {
			c.log.WithField("page", page).Info("stopping early")
			break
		}
	}
	return results
}

func (c *Coordinator) shouldStop(out types.Outcome) bool {
	if !out.OK() {
		return true
	}
	return c.rpp > 0 && len(out.Records) < c.rpp
}

// FetchStep runs one workflow step with retries. It implements
// workflow.Searcher.
func (c *Coordinator) FetchStep(ctx context.Context, page int, p workflow.Params) types.Outcome {
	cfg := c.provider
	params := p.Values
	if p.Provider != "" && provider.Normalize(p.Provider) != c.provider.Name {
		var err error
		cfg, err = c.providers.Lookup(p.Provider)
		if err != nil {
			return types.TransportFailure(err)
		}
	} else {
		params = merged(c.params, p.Values)
	}
	return c.fetch(ctx, cfg, page, params)
}

func (c *Coordinator) fetch(ctx context.Context, cfg provider.Config, page int, params map[string]string) types.Outcome {
	ex := &request.Executor{Transport: c.transport, Limiter: c.limiters, Clock: c.clock, Log: c.log}
	pg := request.Page{
		Provider:       cfg,
		Query:          c.query,
		Page:           page,
		RecordsPerPage: c.rpp,
		Params:         params,
		APIKey:         c.keyFor(cfg),
	}
	retrier := httputil.NewRetrier(c.policy, c.clock, c.log.WithField("page", page))
	// With RaiseOnExhaustion the error is also carried in out.Err.
	out, _ := retrier.Execute(ctx, func(ctx context.Context) types.Outcome {
		return ex.FetchPage(ctx, pg)
	})
	return out
}

// keyFor returns the API key for cfg: the coordinator's key for its own
// provider or any provider sharing its key variable, else the environment.
func (c *Coordinator) keyFor(cfg provider.Config) string {
	if cfg.Name == c.provider.Name || (cfg.APIKeyEnv != "" && cfg.APIKeyEnv == c.provider.APIKeyEnv) {
		if c.apiKey != "" {
			return c.apiKey
		}
	}
	if cfg.APIKeyEnv != "" {
		return os.Getenv(cfg.APIKeyEnv)
	}
	return ""
}

func merged(base, over map[string]string) map[string]string {
	if len(base) == 0 {
		return over
	}
	out := maps.Clone(base)
	for k, v := range over {
		out[k] = v
	}
	return out
}
