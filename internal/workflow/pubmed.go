// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package workflow

import (
	"fmt"
	"maps"
	"strings"

	"github.com/pdiddy/research-harvester/internal/provider"
)

// PubMed returns the two-step PubMed retrieval: eSearch finds the IDs for
// the query and page, then eSummary fetches the records for those IDs.
func PubMed() *Workflow {
	return &Workflow{
		Name: "pubmed",
		Steps: []Step{
			{Name: "esearch", Provider: "pubmed"},
			{
				Name:      "esummary",
				Provider:  "pubmed_esummary",
				Configure: IDsFromPrevious("id", "id"),
			},
		},
	}
}

// IDsFromPrevious configures a step with the identifiers found in field of
// the previous step's records, joined with commas into the param parameter.
// It fails with ErrMissingInput when the previous step found none. The page
// is pinned to 1 because the identifiers already select the page.
func IDsFromPrevious(field, param string) func(Step, *StepContext) (Params, error) {
	return func(def Step, prev *StepContext) (Params, error) {
		if prev == nil || !prev.Result.OK() {
			return Params{}, fmt.Errorf("%w: no previous result", ErrMissingInput)
		}
		var ids []string
		for _, rec := range prev.Result.Records {
			if v, ok := rec[field]; ok && v != nil {
				if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
					ids = append(ids, s)
				}
			}
		}
		if len(ids) == 0 {
			return Params{}, fmt.Errorf("%w: step %d returned no %q values", ErrMissingInput, prev.StepNumber, field)
		}
		values := maps.Clone(def.Params)
		if values == nil {
			values = make(map[string]string, 1)
		}
		values[param] = strings.Join(ids, ",")
		return Params{Provider: def.Provider, Page: 1, Values: values}, nil
	}
}

// Default returns the built-in workflow for a provider, or nil when the
// provider is queried with a single request.
func Default(providerName string) *Workflow {
	switch provider.Normalize(providerName) {
	case "pubmed":
		return PubMed()
	default:
		return nil
	}
}
