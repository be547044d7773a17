// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"
)

// DefaultMinInterval spaces requests to providers that publish no limit of
// their own.
const DefaultMinInterval = 6100 * time.Millisecond

// Builtins returns the providers known without any configuration file.
func Builtins() []Config {
	return []Config{
		{
			Name:    "plos",
			BaseURL: "https://api.plos.org/search",
			Parameters: ParameterMap{
				Query: "q", Start: "start", RecordsPerPage: "rows",
				AutoCalculatePage: true,
			},
			RecordsPerPage: 50,
			MinInterval:    DefaultMinInterval,
			BaseParams:     map[string]string{"wt": "json"},
			Decoder:        DecoderConfig{Records: "response.docs", Metadata: "response"},
			DocsURL:        "https://api.plos.org/solr/faq",
		},
		{
			Name:    "openalex",
			BaseURL: "https://api.openalex.org/works",
			Parameters: ParameterMap{
				Query: "search", Start: "page", RecordsPerPage: "per_page", APIKey: "api_key",
			},
			RecordsPerPage: 25,
			MinInterval:    DefaultMinInterval,
			APIKeyEnv:      "OPEN_ALEX_API_KEY",
			Decoder:        DecoderConfig{Records: "results", Metadata: "meta"},
			DocsURL:        "https://docs.openalex.org/api-entities/works/get-lists-of-works",
		},
		{
			Name:    "arxiv",
			BaseURL: "https://export.arxiv.org/api/query",
			Parameters: ParameterMap{
				Query: "search_query", Start: "start", RecordsPerPage: "max_results",
				AutoCalculatePage: true, ZeroIndexed: true,
			},
			RecordsPerPage: 25,
			MinInterval:    DefaultMinInterval,
			Decoder:        DecoderConfig{Format: "atom"},
			DocsURL:        "https://info.arxiv.org/help/api/basics.html",
		},
		{
			Name:    "crossref",
			BaseURL: "https://api.crossref.org/works",
			Parameters: ParameterMap{
				Query: "query", Start: "offset", RecordsPerPage: "rows",
				AutoCalculatePage: true, ZeroIndexed: true,
			},
			RecordsPerPage: 25,
			MinInterval:    DefaultMinInterval,
			Decoder:        DecoderConfig{Records: "message.items", Metadata: "message"},
			DocsURL:        "https://www.crossref.org/documentation/retrieve-metadata/rest-api/",
		},
		{
			Name:    "pubmed",
			BaseURL: "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi",
			Parameters: ParameterMap{
				Query: "term", Start: "retstart", RecordsPerPage: "retmax", APIKey: "api_key",
				AutoCalculatePage: true, ZeroIndexed: true,
			},
			RecordsPerPage: 20,
			MinInterval:    2 * time.Second,
			BaseParams:     map[string]string{"db": "pubmed", "retmode": "json"},
			APIKeyEnv:      "PUBMED_API_KEY",
			Decoder:        DecoderConfig{Records: "esearchresult.idlist", Metadata: "esearchresult", ScalarKey: "id"},
			DocsURL:        "https://www.ncbi.nlm.nih.gov/books/NBK25499/",
		},
		{
			Name:    "pubmedesummary",
			BaseURL: "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esummary.fcgi",
			Parameters: ParameterMap{
				RecordsPerPage: "retmax", APIKey: "api_key",
			},
			RecordsPerPage: 20,
			MinInterval:    2 * time.Second,
			BaseParams:     map[string]string{"db": "pubmed", "retmode": "json"},
			APIKeyEnv:      "PUBMED_API_KEY",
			Decoder:        DecoderConfig{Records: "result"},
			DocsURL:        "https://www.ncbi.nlm.nih.gov/books/NBK25499/",
		},
		{
			Name:    "semanticscholar",
			BaseURL: "https://api.semanticscholar.org/graph/v1/paper/search",
			Parameters: ParameterMap{
				Query: "query", Start: "offset", RecordsPerPage: "limit", APIKeyHeader: "x-api-key",
				AutoCalculatePage: true, ZeroIndexed: true,
			},
			RecordsPerPage: 20,
			MinInterval:    DefaultMinInterval,
			BaseParams:     map[string]string{"fields": "title,abstract,authors,externalIds,year,publicationDate"},
			APIKeyEnv:      "SEMANTIC_SCHOLAR_API_KEY",
			Decoder:        DecoderConfig{Records: "data"},
			DocsURL:        "https://api.semanticscholar.org/api-docs/graph",
		},
		{
			Name:    "core",
			BaseURL: "https://api.core.ac.uk/v3/search/works",
			Parameters: ParameterMap{
				Query: "q", Start: "offset", RecordsPerPage: "limit", APIKey: "api_key",
				AutoCalculatePage: true, ZeroIndexed: true,
			},
			RecordsPerPage: 25,
			MinInterval:    DefaultMinInterval,
			APIKeyEnv:      "CORE_API_KEY",
			Decoder:        DecoderConfig{Records: "results"},
			DocsURL:        "https://api.core.ac.uk/docs/v3",
		},
		{
			Name:    "springernature",
			BaseURL: "https://api.springernature.com/meta/v2/json",
			Parameters: ParameterMap{
				Query: "q", Start: "s", RecordsPerPage: "p", APIKey: "api_key",
				AutoCalculatePage: true,
			},
			RecordsPerPage: 25,
			MinInterval:    DefaultMinInterval,
			APIKeyEnv:      "SPRINGER_NATURE_API_KEY",
			APIKeyRequired: true,
			Decoder:        DecoderConfig{Records: "records", Metadata: "result.0"},
			DocsURL:        "https://dev.springernature.com/docs/introduction/",
		},
	}
}

// Registry holds provider configurations by canonical name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Config
}

// NewRegistry returns a registry seeded with the given configs.
func NewRegistry(configs ...Config) (*Registry, error) {
	r := &Registry{providers: make(map[string]Config, len(configs))}
	for _, c := range configs {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Default returns a registry of the built-in providers.
func Default() *Registry {
	r, err := NewRegistry(Builtins()...)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in provider: %v", err))
	}
	return r
}

// Register adds or replaces a provider. The stored name is canonical.
func (r *Registry) Register(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.Name = Normalize(c.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[c.Name] = c
	return nil
}

// Get looks up a provider by any spelling of its name.
func (r *Registry) Get(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.providers[Normalize(name)]
	return c, ok
}

// Lookup is Get returning an error for unknown providers.
func (r *Registry) Lookup(name string) (Config, error) {
	c, ok := r.Get(name)
	if !ok {
		return Config{}, fmt.Errorf("unknown provider %q", name)
	}
	return c, nil
}

// Names lists canonical provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Interval returns the minimum interval for a provider, or 0 when the
// provider is unknown. It satisfies ratelimit.IntervalFunc.
func (r *Registry) Interval(name string) time.Duration {
	c, ok := r.Get(name)
	if !ok {
		return 0
	}
	return c.MinInterval
}

// File is the on-disk providers file.
type File struct {
	Providers []Config `yaml:"providers"`
}

// LoadFile reads a providers YAML file and registers every entry, replacing
// built-ins with the same canonical name. Fields left out of an entry that
// overrides a known provider keep their current values.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading providers file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing providers file: %w", err)
	}
	for i, c := range f.Providers {
		if existing, ok := r.Get(c.Name); ok {
			c = merge(existing, c)
		}
		if err := r.Register(c); err != nil {
			return fmt.Errorf("providers file entry %d: %w", i, err)
		}
	}
	return nil
}

func merge(base, over Config) Config {
	if over.BaseURL != "" {
		base.BaseURL = over.BaseURL
	}
	if over.Parameters != (ParameterMap{}) {
		base.Parameters = over.Parameters
	}
	if over.RecordsPerPage != 0 {
		base.RecordsPerPage = over.RecordsPerPage
	}
	if over.MinInterval != 0 {
		base.MinInterval = over.MinInterval
	}
	if over.BaseParams != nil {
		base.BaseParams = over.BaseParams
	}
	if over.APIKeyEnv != "" {
		base.APIKeyEnv = over.APIKeyEnv
	}
	if over.APIKeyRequired {
		base.APIKeyRequired = true
	}
	if over.Decoder != (DecoderConfig{}) {
		base.Decoder = over.Decoder
	}
	if over.DocsURL != "" {
		base.DocsURL = over.DocsURL
	}
	return base
}
