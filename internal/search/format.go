// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// FormatTable writes a per-page summary followed by the records as a
// human-readable table.
func FormatTable(res AggregatedResult, w io.Writer) {
	if len(res) == 0 {
		fmt.Fprintln(w, "No pages searched.")
		return
	}

	fmt.Fprintf(w, "%-16s  %-4s  %-7s  %-6s  %s\n", "Provider", "Page", "Records", "Cached", "Status")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, r := range res {
		cached := ""
		if r.Cached {
			cached = "yes"
		}
		status := "ok"
		if !r.Outcome.OK() {
			status = r.Outcome.String()
		}
		fmt.Fprintf(w, "%-16s  %-4d  %-7d  %-6s  %s\n",
			r.Provider, r.Page, len(r.Outcome.Records), cached, truncate(status, 60))
	}

	records, removed := Deduplicate(res.Records())
	if len(records) == 0 {
		fmt.Fprintln(w, "\nNo records found.")
		return
	}

	fmt.Fprintf(w, "\n%-4s  %-60s  %-30s  %s\n", "#", "Title", "Identifier", "Source")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for i, rec := range records {
		id := Field(rec, "doi", "DOI", "id", "arxiv_id", "uid", "paperId")
		source, _ := rec["provider"].(string)
		fmt.Fprintf(w, "%-4d  %-60s  %-30s  %s\n",
			i+1, truncate(Title(rec), 60), truncate(id, 30), source)
	}

	fmt.Fprintf(w, "\n%d records", len(records))
	if removed > 0 {
		fmt.Fprintf(w, " (%d duplicates removed)", removed)
	}
	if failed := len(res.Failures()); failed > 0 {
		fmt.Fprintf(w, ", %d failed pages", failed)
	}
	fmt.Fprintln(w)
}

// FormatJSON writes the aggregated result as indented JSON.
func FormatJSON(res AggregatedResult, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
