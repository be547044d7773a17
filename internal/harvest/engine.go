// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package harvest assembles coordinators from configuration: the provider
// registry, API keys, the response cache and one transport per coordinator.
// The command line, the HTTP server and the scheduler all go through Engine.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pdiddy/research-harvester/internal/cache"
	"github.com/pdiddy/research-harvester/internal/clock"
	"github.com/pdiddy/research-harvester/internal/httputil"
	"github.com/pdiddy/research-harvester/internal/logging"
	"github.com/pdiddy/research-harvester/internal/provider"
	"github.com/pdiddy/research-harvester/internal/ratelimit"
	"github.com/pdiddy/research-harvester/internal/search"
	"github.com/pdiddy/research-harvester/internal/secrets"
	"github.com/pdiddy/research-harvester/internal/workflow"
	"github.com/pdiddy/research-harvester/pkg/types"
)

var (
	// ErrEmptyQuery is returned for a harvest without a query.
	ErrEmptyQuery = errors.New("query must not be empty")
	// ErrNoProviders is returned for a harvest without providers.
	ErrNoProviders = errors.New("at least one provider is required")
	// ErrMissingAPIKey is returned when a provider that requires a key has none.
	ErrMissingAPIKey = errors.New("missing API key")
)

// TransportFactory returns a fresh transport for a provider.
type TransportFactory func(providerName string) httputil.Transport

// Engine runs harvests. It is safe for concurrent use; concurrent harvests
// share rate limiters so a provider is never queried faster than allowed.
type Engine struct {
	cfg          types.Config
	providers    *provider.Registry
	secrets      secrets.Store
	cache        *cache.ResponseCache
	limiters     *ratelimit.Registry
	clock        clock.Clock
	log          *logrus.Entry
	newTransport TransportFactory
}

// Option configures an Engine.
type Option func(*Engine)

// WithProviders replaces the built-in provider registry.
func WithProviders(r *provider.Registry) Option { return func(e *Engine) { e.providers = r } }

// WithSecrets replaces the secrets loaded from the secrets directory.
func WithSecrets(s secrets.Store) Option { return func(e *Engine) { e.secrets = s } }

// WithCache replaces the cache opened from configuration.
func WithCache(rc *cache.ResponseCache) Option { return func(e *Engine) { e.cache = rc } }

// WithClock drives rate limiting and backoff from c.
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLogger sets the log entry.
func WithLogger(l *logrus.Entry) Option { return func(e *Engine) { e.log = l } }

// WithTransportFactory replaces the HTTP transport.
func WithTransportFactory(f TransportFactory) Option { return func(e *Engine) { e.newTransport = f } }

// New builds an engine from cfg.
func New(ctx context.Context, cfg types.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	e.clock = clock.OrReal(e.clock)
	e.log = logging.OrDiscard(e.log)

	if e.providers == nil {
		e.providers = provider.Default()
		if cfg.ProvidersFile != "" {
			if err := e.providers.LoadFile(cfg.ProvidersFile); err != nil {
				return nil, err
			}
		}
	}
	if e.secrets == nil {
		s, err := secrets.Load(cfg.SecretsDir, e.log)
		if err != nil {
			return nil, err
		}
		e.secrets = s
	}
	if e.cache == nil {
		store, err := cache.Open(ctx, cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("opening %s cache: %w", cfg.Cache.Backend, err)
		}
		e.cache = cache.New(store, e.log.WithField("component", "cache"))
	}
	if e.newTransport == nil {
		e.newTransport = e.httpTransport
	}
	e.limiters = ratelimit.NewRegistry(
		ratelimit.WithClock(e.clock),
		ratelimit.WithIntervals(e.providers.Interval),
		ratelimit.WithLogger(e.log.WithField("component", "ratelimit")),
	)
	return e, nil
}

func (e *Engine) httpTransport(name string) httputil.Transport {
	var t httputil.Transport = httputil.NewHTTPTransport(e.cfg.HTTP)
	if e.cfg.Breaker.Enabled {
		t = httputil.NewBreakerTransport(name, t, e.cfg.Breaker, e.log.WithField("component", "breaker"))
	}
	return t
}

// Providers returns the provider registry.
func (e *Engine) Providers() *provider.Registry { return e.providers }

// Cache returns the response cache.
func (e *Engine) Cache() *cache.ResponseCache { return e.cache }

// Limiters returns the shared rate limiter registry.
func (e *Engine) Limiters() *ratelimit.Registry { return e.limiters }

// Close releases the cache.
func (e *Engine) Close() error { return e.cache.Close() }

// Request describes one harvest.
type Request struct {
	Query     string
	Providers []string
	// Pages defaults to page 1.
	Pages          []int
	RecordsPerPage int
	// Params adds parameters per provider, keyed by any spelling of its name.
	Params    map[string]map[string]string
	StopEarly bool
}

// Run is a completed harvest.
type Run struct {
	ID        string
	Request   Request
	Providers []string
	Started   time.Time
	Finished  time.Time
	Result    search.AggregatedResult
}

// HarvestFile converts the run to its on-disk form.
func (r *Run) HarvestFile() search.HarvestFile {
	return search.NewHarvestFile(r.ID, r.Request.Query, r.Providers, r.Request.Pages, r.Result, r.Finished)
}

// Coordinators builds one coordinator per requested provider, bound to a
// multi coordinator that shares the engine's limiters.
func (e *Engine) Coordinators(req Request) (*search.MultiCoordinator, []string, error) {
	if req.Query == "" {
		return nil, nil, ErrEmptyQuery
	}
	if len(req.Providers) == 0 {
		return nil, nil, ErrNoProviders
	}
	params := make(map[string]map[string]string, len(req.Params))
	for name, p := range req.Params {
		params[provider.Normalize(name)] = p
	}

	multi := search.NewMulti(e.limiters, e.log)
	var names []string
	for _, name := range req.Providers {
		cfg, err := e.providers.Lookup(name)
		if err != nil {
			return nil, nil, err
		}
		key := e.secrets.APIKey(cfg)
		if cfg.APIKeyRequired && key == "" {
			return nil, nil, fmt.Errorf("%w for %s: set %s or add %s to %s",
				ErrMissingAPIKey, cfg.Name, cfg.APIKeyEnv, secrets.FileName(cfg.Name), e.cfg.SecretsDir)
		}
		stop := req.StopEarly || e.cfg.StopEarly
		c, err := search.New(cfg, req.Query,
			search.WithRecordsPerPage(req.RecordsPerPage),
			search.WithParams(params[cfg.Name]),
			search.WithAPIKey(key),
			search.WithRetryPolicy(httputil.PolicyFrom(e.cfg.Retry)),
			search.WithCache(e.cache),
			search.WithTransport(e.newTransport(cfg.Name)),
			search.WithLimiters(e.limiters),
			search.WithProviders(e.providers),
			search.WithClock(e.clock),
			search.WithLogger(e.log),
			search.WithStopEarly(stop),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
		if err := multi.Add(c); err != nil {
			return nil, nil, err
		}
		names = append(names, cfg.Name)
	}
	return multi, names, nil
}

// Harvest runs req against every requested provider concurrently. Errors
// are returned only for invalid requests; provider failures are part of
// the result.
func (e *Engine) Harvest(ctx context.Context, req Request) (*Run, error) {
	if len(req.Pages) == 0 {
		req.Pages = []int{1}
	}
	for _, p := range req.Pages {
		if p < 1 {
			return nil, fmt.Errorf("%w, got %d", provider.ErrInvalidPage, p)
		}
	}
	multi, names, err := e.Coordinators(req)
	if err != nil {
		return nil, err
	}

	run := &Run{ID: uuid.NewString(), Request: req, Providers: names, Started: e.clock.Now()}
	log := e.log.WithFields(logrus.Fields{"run_id": run.ID, "query": req.Query})
	log.WithField("providers", names).Info("harvest started")

	run.Result = multi.SearchPages(ctx, req.Pages)
	run.Finished = e.clock.Now()

	log.WithFields(logrus.Fields{
		"pages":    len(run.Result),
		"failed":   len(run.Result.Failures()),
		"duration": run.Finished.Sub(run.Started),
	}).Info("harvest finished")
	return run, nil
}

// ProviderInfo describes a registered provider for listings.
type ProviderInfo struct {
	Name           string        `json:"name"`
	BaseURL        string        `json:"base_url"`
	RecordsPerPage int           `json:"records_per_page"`
	MinInterval    time.Duration `json:"min_interval"`
	APIKeyRequired bool          `json:"api_key_required"`
	HasAPIKey      bool          `json:"has_api_key"`
	Workflow       bool          `json:"workflow"`
	DocsURL        string        `json:"docs_url,omitempty"`
}

// ProviderInfos lists every registered provider, sorted by name.
func (e *Engine) ProviderInfos() []ProviderInfo {
	names := e.providers.Names()
	out := make([]ProviderInfo, 0, len(names))
	for _, n := range names {
		cfg, _ := e.providers.Get(n)
		out = append(out, ProviderInfo{
			Name:           cfg.Name,
			BaseURL:        cfg.BaseURL,
			RecordsPerPage: cfg.RecordsPerPage,
			MinInterval:    cfg.MinInterval,
			APIKeyRequired: cfg.APIKeyRequired,
			HasAPIKey:      e.secrets.APIKey(cfg) != "",
			Workflow:       workflow.Default(cfg.Name) != nil,
			DocsURL:        cfg.DocsURL,
		})
	}
	return out
}
