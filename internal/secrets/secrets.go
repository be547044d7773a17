// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads provider API keys from a directory of plain-text
// files. Each file in the directory represents one secret: the filename is
// the key name and the file contents (trimmed) are the value.
//
// Provider keys are stored as <provider>-api-key, using the canonical
// provider name: pubmed-api-key, semanticscholar-api-key, core-api-key,
// springernature-api-key. A key in the provider's environment variable
// (for example PUBMED_API_KEY) takes precedence over the file.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/research-harvester/internal/logging"
	"github.com/pdiddy/research-harvester/internal/provider"
)

// Store maps secret names to values.
type Store map[string]string

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files are logged as warnings but do not abort.
func Load(dir string, log *logrus.Entry) (Store, error) {
	log = logging.OrDiscard(log)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Store{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(Store)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.WithError(err).WithField("secret", name).Warn("could not read secret")
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// FileName returns the secret file holding a provider's key.
func FileName(providerName string) string {
	return provider.Normalize(providerName) + "-api-key"
}

// APIKey returns the key for cfg: its environment variable when set, else
// the <provider>-api-key file, else a file named after the variable. The
// last rule lets pubmed and its eSummary step share pubmed-api-key.
func (s Store) APIKey(cfg provider.Config) string {
	if cfg.APIKeyEnv != "" {
		if v := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv)); v != "" {
			return v
		}
	}
	if v := s[FileName(cfg.Name)]; v != "" {
		return v
	}
	if cfg.APIKeyEnv != "" {
		name := strings.ToLower(strings.ReplaceAll(cfg.APIKeyEnv, "_", "-"))
		return s[name]
	}
	return ""
}
