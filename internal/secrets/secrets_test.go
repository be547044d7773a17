// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/research-harvester/internal/provider"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T) string
		want   Store
		errMsg string
	}{
		{
			name: "reads key files and trims whitespace",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "pubmed-api-key", "  pk_abc123  \n")
				writeFile(t, dir, "semanticscholar-api-key", "sk_xyz789")
				writeFile(t, dir, "core-api-key", "core123\n")
				return dir
			},
			want: Store{
				"pubmed-api-key":          "pk_abc123",
				"semanticscholar-api-key": "sk_xyz789",
				"core-api-key":            "core123",
			},
		},
		{
			name: "returns empty map for nonexistent directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist")
			},
			want: Store{},
		},
		{
			name: "skips empty files",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "springernature-api-key", "valid-key")
				writeFile(t, dir, "empty-key", "")
				writeFile(t, dir, "whitespace-only", "   \n\t  ")
				return dir
			},
			want: Store{
				"springernature-api-key": "valid-key",
			},
		},
		{
			name: "skips dotfiles",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, ".gitkeep", "")
				writeFile(t, dir, ".hidden-key", "secret")
				writeFile(t, dir, "core-api-key", "pk_real")
				return dir
			},
			want: Store{
				"core-api-key": "pk_real",
			},
		},
		{
			name: "skips subdirectories",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "pubmed-api-key", "ak_123")
				require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
				return dir
			},
			want: Store{
				"pubmed-api-key": "ak_123",
			},
		},
		{
			name: "returns empty map for empty directory",
			setup: func(t *testing.T) string {
				return t.TempDir()
			},
			want: Store{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := tt.setup(t)
			got, err := Load(dir, nil)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadUnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read files without permission bits")
	}
	dir := t.TempDir()
	writeFile(t, dir, "good-key", "value123")

	badPath := filepath.Join(dir, "bad-key")
	require.NoError(t, os.WriteFile(badPath, []byte("secret"), 0o000))
	t.Cleanup(func() { os.Chmod(badPath, 0o644) })

	got, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "value123", got["good-key"])
	_, hasBad := got["bad-key"]
	assert.False(t, hasBad, "unreadable file should not appear in result")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "semanticscholar-api-key", FileName("Semantic_Scholar"))
	assert.Equal(t, "springernature-api-key", FileName("springer"))
}

func TestAPIKey(t *testing.T) {
	pubmed := provider.Config{Name: "pubmed", APIKeyEnv: "HARVEST_TEST_PUBMED_KEY"}
	summary := provider.Config{Name: "pubmedesummary", APIKeyEnv: "HARVEST_TEST_PUBMED_KEY"}
	s := Store{"pubmed-api-key": "from-file", "harvest-test-core-key": "env-named"}

	assert.Equal(t, "from-file", s.APIKey(pubmed))
	assert.Empty(t, s.APIKey(summary), "no file under the summary or env var name")

	t.Setenv("HARVEST_TEST_PUBMED_KEY", " from-env ")
	assert.Equal(t, "from-env", s.APIKey(pubmed))
	assert.Equal(t, "from-env", s.APIKey(summary))

	core := provider.Config{Name: "core", APIKeyEnv: "HARVEST_TEST_CORE_KEY"}
	assert.Equal(t, "env-named", s.APIKey(core))
	assert.Empty(t, s.APIKey(provider.Config{Name: "plos"}))
}

func writeFile(t *testing.T, dir, name string, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
