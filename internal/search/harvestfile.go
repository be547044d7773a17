// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/research-harvester/pkg/types"
)

// HarvestFile is the on-disk record of one harvest run. A saved harvest can
// be reloaded and reformatted without querying any provider again.
type HarvestFile struct {
	RunID     string         `yaml:"run_id"`
	Query     string         `yaml:"query"`
	Providers []string       `yaml:"providers"`
	Pages     []int          `yaml:"pages"`
	Results   []HarvestPage  `yaml:"results"`
	Summary   HarvestSummary `yaml:"summary"`
}

// HarvestPage stores one page outcome in a serializable form.
type HarvestPage struct {
	Provider   string         `yaml:"provider"`
	Page       int            `yaml:"page"`
	Cached     bool           `yaml:"cached,omitempty"`
	Kind       types.Kind     `yaml:"kind"`
	StatusCode int            `yaml:"status_code,omitempty"`
	Message    string         `yaml:"message,omitempty"`
	Metadata   map[string]any `yaml:"metadata,omitempty"`
	Records    []types.Record `yaml:"records,omitempty"`
}

// HarvestSummary stores result statistics and a timestamp.
type HarvestSummary struct {
	Pages     int       `yaml:"pages"`
	Failed    int       `yaml:"failed"`
	Records   int       `yaml:"records"`
	Errors    []string  `yaml:"errors,omitempty"`
	Timestamp time.Time `yaml:"timestamp"`
}

// NewHarvestFile captures an aggregated result.
func NewHarvestFile(runID, query string, providers []string, pages []int, res AggregatedResult, at time.Time) HarvestFile {
	hf := HarvestFile{
		RunID:     runID,
		Query:     query,
		Providers: providers,
		Pages:     pages,
		Summary: HarvestSummary{
			Pages:     len(res),
			Failed:    len(res.Failures()),
			Records:   len(res.Records()),
			Errors:    res.Errors(),
			Timestamp: at,
		},
	}
	for _, r := range res {
		hf.Results = append(hf.Results, HarvestPage{
			Provider:   r.Provider,
			Page:       r.Page,
			Cached:     r.Cached,
			Kind:       r.Outcome.Kind,
			StatusCode: r.Outcome.StatusCode,
			Message:    r.Outcome.Message,
			Metadata:   r.Outcome.Metadata,
			Records:    r.Outcome.Records,
		})
	}
	return hf
}

// Aggregated rebuilds the aggregated result from the file.
func (hf HarvestFile) Aggregated() AggregatedResult {
	out := make(AggregatedResult, 0, len(hf.Results))
	for _, p := range hf.Results {
		out = append(out, PageResult{
			Provider: p.Provider,
			Query:    hf.Query,
			Page:     p.Page,
			Cached:   p.Cached,
			Outcome: types.Outcome{
				Kind:       p.Kind,
				Records:    p.Records,
				Metadata:   p.Metadata,
				StatusCode: p.StatusCode,
				Message:    p.Message,
			},
		})
	}
	return out
}

// WriteHarvestFile saves a harvest to a YAML file.
func WriteHarvestFile(path string, hf HarvestFile) error {
	data, err := yaml.Marshal(&hf)
	if err != nil {
		return fmt.Errorf("marshaling harvest file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadHarvestFile loads a previously saved harvest file from disk.
func ReadHarvestFile(path string) (*HarvestFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading harvest file: %w", err)
	}
	var hf HarvestFile
	if err := yaml.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("parsing harvest file: %w", err)
	}
	return &hf, nil
}
