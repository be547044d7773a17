// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cache stores successful page outcomes so repeated requests skip
// the network.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/pdiddy/research-harvester/internal/provider"
)

// Key derives the cache key for one page request. The provider, page and
// page size stay readable in the prefix; the query and the parameter
// fingerprint are hashed together with a separator that cannot occur in
// either, so distinct inputs never share a key.
func Key(providerName, query string, page, recordsPerPage int, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	return fmt.Sprintf("%s_%d_%d_%s", provider.Normalize(providerName), page, recordsPerPage, hex.EncodeToString(h.Sum(nil)))
}
