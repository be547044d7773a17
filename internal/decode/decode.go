// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package decode turns provider response bodies into records and page
// metadata.
package decode

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/research-harvester/internal/provider"
	"github.com/pdiddy/research-harvester/pkg/types"
)

// Decoder extracts records and metadata from a response body.
type Decoder interface {
	Decode(body []byte) ([]types.Record, map[string]any, error)
}

// For returns the decoder described by cfg.
func For(cfg provider.DecoderConfig) Decoder {
	if cfg.Format == "atom" {
		return Atom{}
	}
	return JSON{Records: cfg.Records, Metadata: cfg.Metadata, ScalarKey: cfg.ScalarKey}
}

// JSON decodes a JSON document using dot paths. A path segment that is a
// number indexes into an array.
type JSON struct {
	Records   string
	Metadata  string
	ScalarKey string
}

func (d JSON) Decode(body []byte) ([]types.Record, map[string]any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, nil, fmt.Errorf("parsing JSON response: %w", err)
	}

	node, ok := lookup(doc, d.Records)
	if !ok {
		return nil, nil, fmt.Errorf("records path %q not found in response", d.Records)
	}
	records, err := d.toRecords(node)
	if err != nil {
		return nil, nil, err
	}

	var metadata map[string]any
	if m, ok := lookup(doc, d.Metadata); ok {
		metadata = scalars(m)
	}
	return records, metadata, nil
}

func (d JSON) toRecords(node any) ([]types.Record, error) {
	switch v := node.(type) {
	case nil:
		return []types.Record{}, nil
	case []any:
		records := make([]types.Record, 0, len(v))
		for _, item := range v {
			records = append(records, d.toRecord(item))
		}
		return records, nil
	case map[string]any:
		// Objects keyed by identifier (e.g. eSummary's "result") yield their
		// object values in "uids" order, then any others in key order.
		keys := make([]string, 0, len(v))
		seen := make(map[string]bool)
		if uids, ok := v["uids"].([]any); ok {
			for _, u := range uids {
				k := fmt.Sprint(u)
				if _, ok := v[k].(map[string]any); ok && !seen[k] {
					keys = append(keys, k)
					seen[k] = true
				}
			}
		}
		var rest []string
		for k, item := range v {
			if _, ok := item.(map[string]any); ok && !seen[k] {
				rest = append(rest, k)
			}
		}
		sort.Strings(rest)
		keys = append(keys, rest...)
		records := make([]types.Record, 0, len(keys))
		for _, k := range keys {
			records = append(records, types.Record(v[k].(map[string]any)))
		}
		return records, nil
	default:
		return nil, fmt.Errorf("records path %q holds %T, want list or object", d.Records, node)
	}
}

func (d JSON) toRecord(item any) types.Record {
	if m, ok := item.(map[string]any); ok {
		return types.Record(m)
	}
	key := d.ScalarKey
	if key == "" {
		key = "value"
	}
	return types.Record{key: item}
}

// lookup walks a dot path. The empty path is the document itself.
func lookup(doc any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	node := doc
	for _, seg := range strings.Split(path, ".") {
		switch v := node.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			node = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			node = v[i]
		default:
			return nil, false
		}
	}
	return node, true
}

// scalars keeps the non-container fields of an object.
func scalars(node any) map[string]any {
	m, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]any)
	for k, v := range m {
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
