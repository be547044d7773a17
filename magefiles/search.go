//go:build mage

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Search builds the CLI and runs a harvest. Set QUERY, PROVIDERS
// (comma-separated, default plos) and PAGES (default 1).
func Search() error {
	mg.Deps(Build)

	query := strings.TrimSpace(os.Getenv("QUERY"))
	if query == "" {
		return fmt.Errorf("set QUERY to the search terms")
	}
	providers := envOr("PROVIDERS", "plos")
	pages := envOr("PAGES", "1")

	bin := binDir + "/" + binName
	return sh.RunV(bin, "search", "--provider", providers, "--page", pages, query)
}

// Serve builds the CLI and starts the HTTP API.
func Serve() error {
	mg.Deps(Build)
	return sh.RunV(binDir+"/"+binName, "serve")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
