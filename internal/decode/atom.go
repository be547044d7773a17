// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package decode

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/pdiddy/research-harvester/pkg/types"
)

// Atom decodes arXiv's Atom feed.
type Atom struct{}

type atomFeed struct {
	TotalResults string      `xml:"totalResults"`
	StartIndex   string      `xml:"startIndex"`
	ItemsPerPage string      `xml:"itemsPerPage"`
	Entries      []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Summary    string         `xml:"summary"`
	Published  string         `xml:"published"`
	Updated    string         `xml:"updated"`
	DOI        string         `xml:"doi"`
	Authors    []atomAuthor   `xml:"author"`
	Links      []atomLink     `xml:"link"`
	Categories []atomCategory `xml:"category"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Title string `xml:"title,attr"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

func (Atom) Decode(body []byte) ([]types.Record, map[string]any, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, nil, fmt.Errorf("parsing Atom response: %w", err)
	}

	records := make([]types.Record, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		rec := types.Record{
			"id":        strings.TrimSpace(e.ID),
			"arxiv_id":  arxivID(e.ID),
			"title":     collapse(e.Title),
			"summary":   strings.TrimSpace(e.Summary),
			"published": e.Published,
			"updated":   e.Updated,
		}
		if e.DOI != "" {
			rec["doi"] = e.DOI
		}
		authors := make([]any, 0, len(e.Authors))
		for _, a := range e.Authors {
			authors = append(authors, strings.TrimSpace(a.Name))
		}
		rec["authors"] = authors
		var categories []any
		for _, c := range e.Categories {
			categories = append(categories, c.Term)
		}
		if categories != nil {
			rec["categories"] = categories
		}
		for _, l := range e.Links {
			if l.Title == "pdf" {
				rec["pdf_url"] = l.Href
			}
		}
		records = append(records, rec)
	}

	metadata := map[string]any{}
	for k, v := range map[string]string{
		"total_results":  feed.TotalResults,
		"start_index":    feed.StartIndex,
		"items_per_page": feed.ItemsPerPage,
	} {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			metadata[k] = float64(n)
		}
	}
	if len(metadata) == 0 {
		metadata = nil
	}
	return records, metadata, nil
}

// arxivID pulls the arXiv ID from an entry's <id> URL, dropping the version
// suffix: "http://arxiv.org/abs/2301.07041v1" becomes "2301.07041".
func arxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := strings.TrimSpace(idURL[idx+len(prefix):])
	if v := strings.LastIndex(id, "v"); v > 0 {
		if _, err := strconv.Atoi(id[v+1:]); err == nil {
			id = id[:v]
		}
	}
	return id
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
