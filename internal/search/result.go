// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pdiddy/research-harvester/pkg/types"
)

// PageResult is one entry of an aggregated result.
type PageResult struct {
	Provider string        `json:"provider" yaml:"provider"`
	Query    string        `json:"query" yaml:"query"`
	Page     int           `json:"page" yaml:"page"`
	Cached   bool          `json:"cached" yaml:"cached"`
	Outcome  types.Outcome `json:"outcome" yaml:"outcome"`
}

// AggregatedResult is ordered by coordinator registration, then page.
type AggregatedResult []PageResult

// Filter returns the entries for which keep is true.
func (a AggregatedResult) Filter(keep func(PageResult) bool) AggregatedResult {
	var out AggregatedResult
	for _, r := range a {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Successes returns the successful entries.
func (a AggregatedResult) Successes() AggregatedResult {
	return a.Filter(func(r PageResult) bool { return r.Outcome.OK() })
}

// Failures returns the failed entries.
func (a AggregatedResult) Failures() AggregatedResult {
	return a.Filter(func(r PageResult) bool { return !r.Outcome.OK() })
}

// ByProvider groups entries by provider, keeping page order.
func (a AggregatedResult) ByProvider() map[string]AggregatedResult {
	out := make(map[string]AggregatedResult)
	for _, r := range a {
		out[r.Provider] = append(out[r.Provider], r)
	}
	return out
}

// Records flattens every successful page into records annotated with
// "provider" and "page" fields. The outcomes themselves are not modified.
func (a AggregatedResult) Records() []types.Record {
	var out []types.Record
	for _, r := range a {
		if !r.Outcome.OK() {
			continue
		}
		for _, rec := range r.Outcome.Records {
			annotated := make(types.Record, len(rec)+2)
			for k, v := range rec {
				annotated[k] = v
			}
			annotated["provider"] = r.Provider
			annotated["page"] = r.Page
			out = append(out, annotated)
		}
	}
	return out
}

// Errors describes each failed entry as "provider page N: failure".
func (a AggregatedResult) Errors() []string {
	var out []string
	for _, r := range a.Failures() {
		out = append(out, fmt.Sprintf("%s page %d: %s", r.Provider, r.Page, r.Outcome))
	}
	return out
}

// Deduplicate merges records that share a DOI or a normalized title, in
// first-seen order. Merged records keep their first values and gain any
// fields only the duplicate had; "provider" lists every source.
func Deduplicate(records []types.Record) ([]types.Record, int) {
	seen := make(map[string]int)
	var out []types.Record
	removed := 0

	for _, rec := range records {
		keys := dedupKeys(rec)
		idx, dup := -1, false
		for _, k := range keys {
			if i, ok := seen[k]; ok {
				idx, dup = i, true
				break
			}
		}
		if dup {
			mergeInto(out[idx], rec)
			removed++
		} else {
			idx = len(out)
			out = append(out, copyRecord(rec))
		}
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = idx
			}
		}
	}
	return out, removed
}

func dedupKeys(rec types.Record) []string {
	var keys []string
	if doi := strings.ToLower(strings.TrimSpace(Field(rec, "doi", "DOI"))); doi != "" {
		keys = append(keys, "doi:"+strings.TrimPrefix(doi, "https://doi.org/"))
	}
	if t := normalizeTitle(Title(rec)); t != "" {
		keys = append(keys, "title:"+t)
	}
	return keys
}

func mergeInto(dst, src types.Record) {
	for k, v := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
	dp, _ := dst["provider"].(string)
	sp, _ := src["provider"].(string)
	if sp != "" && dp != sp && !strings.Contains(dp, sp) {
		dst["provider"] = dp + "," + sp
	}
}

func copyRecord(rec types.Record) types.Record {
	out := make(types.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// Field returns the first non-empty string value among names.
func Field(rec types.Record, names ...string) string {
	for _, n := range names {
		switch v := rec[n].(type) {
		case string:
			if v != "" {
				return v
			}
		case []any:
			if len(v) > 0 {
				if s, ok := v[0].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// Title returns the record's title under the field names providers use.
func Title(rec types.Record) string {
	return Field(rec, "title", "title_display", "display_name")
}

// normalizeTitle returns a lowercased, punctuation-stripped title.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
