// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package provider describes the remote search APIs the harvester talks to:
// how a provider name is canonicalized, how a page request maps onto the
// provider's query parameters, and how its responses are decoded.
package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// aliases maps normalized spellings onto the canonical provider name.
var aliases = map[string]string{
	"s2":            "semanticscholar",
	"semantic":      "semanticscholar",
	"springer":      "springernature",
	"ncbi":          "pubmed",
	"pubmedesearch": "pubmed",
	"pubmedsummary": "pubmedesummary",
	"arxivorg":      "arxiv",
	"openalexorg":   "openalex",
	"crossreforg":   "crossref",
	"plosone":       "plos",
	"coreac":        "core",
}

// Normalize returns the canonical form of a provider name: lower case with
// surrounding space, underscores, hyphens and inner spaces removed, then
// resolved through the alias table. "OpenAlex", "open_alex" and "open-alex"
// all become "openalex".
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("_", "", "-", "", " ", "").Replace(n)
	if canonical, ok := aliases[n]; ok {
		return canonical
	}
	return n
}

// ParameterMap names a provider's query parameters.
type ParameterMap struct {
	Query          string `yaml:"query" json:"query"`
	Start          string `yaml:"start,omitempty" json:"start,omitempty"`
	RecordsPerPage string `yaml:"records_per_page,omitempty" json:"records_per_page,omitempty"`

	// APIKey is the query parameter carrying the key; APIKeyHeader sends it
	// as a header instead.
	APIKey       string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	APIKeyHeader string `yaml:"api_key_header,omitempty" json:"api_key_header,omitempty"`

	// AutoCalculatePage converts a page number into a record offset; when
	// false the page number itself is sent as the start parameter.
	AutoCalculatePage bool `yaml:"auto_calculate_page" json:"auto_calculate_page"`

	// ZeroIndexed makes the first record (or page) 0 instead of 1.
	ZeroIndexed bool `yaml:"zero_indexed" json:"zero_indexed"`
}

// DecoderConfig tells the response decoder where the records live.
type DecoderConfig struct {
	// Format is "json" (default) or "atom".
	Format string `yaml:"format,omitempty" json:"format,omitempty"`

	// Records is a dot path to the record list (e.g. "response.docs").
	Records string `yaml:"records,omitempty" json:"records,omitempty"`

	// Metadata is a dot path to an object whose scalar fields become the
	// page metadata. Empty means the document root.
	Metadata string `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// ScalarKey wraps scalar list entries as {ScalarKey: value}.
	ScalarKey string `yaml:"scalar_key,omitempty" json:"scalar_key,omitempty"`
}

// Config describes one provider.
type Config struct {
	Name           string            `yaml:"name" json:"name"`
	BaseURL        string            `yaml:"base_url" json:"base_url"`
	Parameters     ParameterMap      `yaml:"parameters" json:"parameters"`
	RecordsPerPage int               `yaml:"records_per_page" json:"records_per_page"`
	MinInterval    time.Duration     `yaml:"min_interval" json:"min_interval"`
	BaseParams     map[string]string `yaml:"base_params,omitempty" json:"base_params,omitempty"`
	APIKeyEnv      string            `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	APIKeyRequired bool              `yaml:"api_key_required,omitempty" json:"api_key_required,omitempty"`
	Decoder        DecoderConfig     `yaml:"decoder" json:"decoder"`
	DocsURL        string            `yaml:"docs_url,omitempty" json:"docs_url,omitempty"`
}

// ErrInvalidPage is returned for page numbers below 1.
var ErrInvalidPage = errors.New("page must be >= 1")

// Validate checks that the config can build requests.
func (c Config) Validate() error {
	if Normalize(c.Name) == "" {
		return errors.New("provider name is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("provider %s: base_url is required", c.Name)
	}
	if c.RecordsPerPage < 0 {
		return fmt.Errorf("provider %s: records_per_page must be >= 0", c.Name)
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("provider %s: min_interval must be >= 0", c.Name)
	}
	switch c.Decoder.Format {
	case "", "json", "atom":
	default:
		return fmt.Errorf("provider %s: unknown decoder format %q", c.Name, c.Decoder.Format)
	}
	return nil
}

// StartIndex converts a 1-based page number into the value of the start
// parameter. With AutoCalculatePage the result is a record offset:
// first + (page-1)*recordsPerPage, where first is 0 or 1. Otherwise it is
// the page number, shifted down by one for zero-indexed providers.
func (m ParameterMap) StartIndex(page, recordsPerPage int) (int, error) {
	if page < 1 {
		return 0, fmt.Errorf("%w, got %d", ErrInvalidPage, page)
	}
	first := 1
	if m.ZeroIndexed {
		first = 0
	}
	if m.AutoCalculatePage {
		return first + (page-1)*recordsPerPage, nil
	}
	return first + page - 1, nil
}

// Params builds the query parameters for one page request. Extra
// parameters override base parameters; the core parameters (query, start,
// page size) override both.
func (c Config) Params(query string, page, recordsPerPage int, extra map[string]string) (map[string]string, error) {
	if recordsPerPage <= 0 {
		recordsPerPage = c.RecordsPerPage
	}
	params := make(map[string]string, len(c.BaseParams)+len(extra)+3)
	for k, v := range c.BaseParams {
		params[k] = v
	}
	for k, v := range extra {
		params[k] = v
	}
	if c.Parameters.Query != "" && query != "" {
		params[c.Parameters.Query] = query
	}
	if c.Parameters.Start != "" {
		start, err := c.Parameters.StartIndex(page, recordsPerPage)
		if err != nil {
			return nil, err
		}
		params[c.Parameters.Start] = strconv.Itoa(start)
	} else if page < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidPage, page)
	}
	if c.Parameters.RecordsPerPage != "" && recordsPerPage > 0 {
		params[c.Parameters.RecordsPerPage] = strconv.Itoa(recordsPerPage)
	}
	return params, nil
}

// Fingerprint summarizes extra request parameters for cache keys. Keys are
// sorted so map order never matters, and each pair is length-prefixed so
// that no two different parameter sets share a fingerprint. The API key
// parameter is excluded.
func (c Config) Fingerprint(extra map[string]string) string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if c.Parameters.APIKey != "" && k == c.Parameters.APIKey {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%d:%s=%d:%s;", len(k), k, len(extra[k]), extra[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
