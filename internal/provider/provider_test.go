// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plos", "plos"},
		{"PLOS", "plos"},
		{"  OpenAlex ", "openalex"},
		{"open_alex", "openalex"},
		{"open-alex", "openalex"},
		{"Semantic Scholar", "semanticscholar"},
		{"s2", "semanticscholar"},
		{"pubmed_esummary", "pubmedesummary"},
		{"Springer", "springernature"},
		{"my_custom_api", "mycustomapi"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestStartIndex(t *testing.T) {
	tests := []struct {
		name  string
		m     ParameterMap
		page  int
		rpp   int
		want  int
		error bool
	}{
		{name: "offset one-based first page", m: ParameterMap{AutoCalculatePage: true}, page: 1, rpp: 50, want: 1},
		{name: "offset one-based third page", m: ParameterMap{AutoCalculatePage: true}, page: 3, rpp: 50, want: 101},
		{name: "offset zero-based", m: ParameterMap{AutoCalculatePage: true, ZeroIndexed: true}, page: 2, rpp: 25, want: 25},
		{name: "page number", m: ParameterMap{}, page: 4, rpp: 25, want: 4},
		{name: "zero-based page number", m: ParameterMap{ZeroIndexed: true}, page: 1, rpp: 25, want: 0},
		{name: "page zero rejected", m: ParameterMap{}, page: 0, rpp: 25, error: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.m.StartIndex(tt.page, tt.rpp)
			if tt.error {
				assert.ErrorIs(t, err, ErrInvalidPage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParams(t *testing.T) {
	plos, ok := Default().Get("plos")
	require.True(t, ok)

	params, err := plos.Params("sleep", 2, 0, map[string]string{"fl": "id,title", "wt": "xml"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"q":     "sleep",
		"start": "51",
		"rows":  "50",
		"fl":    "id,title",
		"wt":    "xml",
	}, params)

	_, err = plos.Params("sleep", 0, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidPage)
}

func TestParamsWithoutStartParameter(t *testing.T) {
	summary, ok := Default().Get("pubmed_esummary")
	require.True(t, ok)

	params, err := summary.Params("", 1, 0, map[string]string{"id": "1,2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"db": "pubmed", "retmode": "json", "retmax": "20", "id": "1,2"}, params)
}

func TestFingerprint(t *testing.T) {
	c := Config{Parameters: ParameterMap{APIKey: "api_key"}}

	assert.Empty(t, c.Fingerprint(nil))
	assert.Empty(t, c.Fingerprint(map[string]string{"api_key": "secret"}), "api key never affects the fingerprint")

	a := c.Fingerprint(map[string]string{"year": "2020", "sort": "date"})
	b := c.Fingerprint(map[string]string{"sort": "date", "year": "2020"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c.Fingerprint(map[string]string{"year": "2021", "sort": "date"}))
	assert.NotEqual(t,
		c.Fingerprint(map[string]string{"a": "b=c"}),
		c.Fingerprint(map[string]string{"a=b": "c"}),
	)
}

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{
		"arxiv", "core", "crossref", "openalex", "plos",
		"pubmed", "pubmedesummary", "semanticscholar", "springernature",
	}, r.Names())
	assert.Equal(t, 2*time.Second, r.Interval("PubMed"))
	assert.Equal(t, DefaultMinInterval, r.Interval("plos"))
	assert.Zero(t, r.Interval("nope"))

	_, err := r.Lookup("nope")
	assert.ErrorContains(t, err, `unknown provider "nope"`)
}

func TestRegisterValidates(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	assert.Error(t, r.Register(Config{Name: "x"}))
	assert.Error(t, r.Register(Config{Name: "x", BaseURL: "http://x", Decoder: DecoderConfig{Format: "csv"}}))
	assert.NoError(t, r.Register(Config{Name: "My_API", BaseURL: "http://x"}))
	_, ok := r.Get("myapi")
	assert.True(t, ok)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	content := `providers:
  - name: PLOS
    min_interval: 1s
  - name: europe_pmc
    base_url: https://www.ebi.ac.uk/europepmc/webservices/rest/search
    records_per_page: 25
    min_interval: 500ms
    base_params:
      format: json
    parameters:
      query: query
      start: page
    decoder:
      records: resultList.result
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r := Default()
	require.NoError(t, r.LoadFile(path))

	plos, _ := r.Get("plos")
	assert.Equal(t, time.Second, plos.MinInterval)
	assert.Equal(t, "https://api.plos.org/search", plos.BaseURL, "unset fields keep built-in values")
	assert.Equal(t, 50, plos.RecordsPerPage)

	epmc, ok := r.Get("Europe PMC")
	require.True(t, ok)
	assert.Equal(t, "europepmc", epmc.Name)
	assert.Equal(t, 500*time.Millisecond, epmc.MinInterval)
	assert.Equal(t, "resultList.result", epmc.Decoder.Records)
}

func TestLoadFileErrors(t *testing.T) {
	r := Default()
	assert.ErrorContains(t, r.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")), "reading providers file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers:\n  - name: broken\n"), 0o644))
	assert.ErrorContains(t, r.LoadFile(path), "entry 0")
}
