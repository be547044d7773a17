// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the research-harvester CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/research-harvester/internal/harvest"
	"github.com/pdiddy/research-harvester/internal/logging"
	"github.com/pdiddy/research-harvester/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the research-harvester CLI.
var rootCmd = &cobra.Command{
	Use:   "research-harvester",
	Short: "Harvest paginated search results from academic providers",
	Long: `research-harvester queries academic search providers (PLOS, OpenAlex, arXiv,
Crossref, PubMed, Semantic Scholar, CORE, Springer Nature) page by page. Each
provider is rate limited on its own schedule, failed requests are retried
with exponential backoff, and successful pages are cached.

Providers run concurrently; results come back in the order the providers
were given.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./research-harvester.yaml or ~/.config/research-harvester/config.yaml)")
	pf.String("cache", "", "cache backend: memory, sqlite, redis or none")
	pf.String("cache-path", "", "SQLite cache file")
	pf.String("providers-file", "", "YAML file adding or overriding providers")
	pf.String("secrets-dir", "", "directory of <provider>-api-key files")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (text or json)")
	pf.Int("max-retries", -1, "retries after the first attempt")

	for key, flag := range map[string]string{
		"cache.backend":     "cache",
		"cache.path":        "cache-path",
		"providers_file":    "providers-file",
		"secrets_dir":       "secrets-dir",
		"log.level":         "log-level",
		"log.format":        "log-format",
		"retry.max_retries": "max-retries",
	} {
		_ = viper.BindPFlag(key, pf.Lookup(flag))
	}
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("research-harvester")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "research-harvester"))
		}
	}

	setDefaults(viper.GetViper(), types.DefaultConfig())
	viper.SetEnvPrefix("RESEARCH_HARVESTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setDefaults registers every config key so environment variables such as
// RESEARCH_HARVESTER_CACHE_BACKEND reach Unmarshal.
func setDefaults(v *viper.Viper, d types.Config) {
	defaults := map[string]any{
		"http.timeout":                 d.HTTP.Timeout,
		"http.user_agent":              d.HTTP.UserAgent,
		"retry.max_retries":            d.Retry.MaxRetries,
		"retry.backoff_factor":         d.Retry.BackoffFactor,
		"retry.max_backoff":            d.Retry.MaxBackoff,
		"retry.raise_on_exhaustion":    d.Retry.RaiseOnExhaustion,
		"cache.backend":                string(d.Cache.Backend),
		"cache.path":                   d.Cache.Path,
		"cache.redis_addr":             d.Cache.RedisAddr,
		"cache.redis_password":         d.Cache.RedisPassword,
		"cache.redis_db":               d.Cache.RedisDB,
		"cache.prefix":                 d.Cache.Prefix,
		"cache.ttl":                    d.Cache.TTL,
		"breaker.enabled":              d.Breaker.Enabled,
		"breaker.consecutive_failures": d.Breaker.ConsecutiveFailures,
		"breaker.open_timeout":         d.Breaker.OpenTimeout,
		"log.level":                    d.Log.Level,
		"log.format":                   d.Log.Format,
		"serve.addr":                   d.Serve.Addr,
		"serve.requests_per_second":    d.Serve.RequestsPerSecond,
		"serve.burst":                  d.Serve.Burst,
		"providers_file":               d.ProvidersFile,
		"secrets_dir":                  d.SecretsDir,
		"stop_early":                   d.StopEarly,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// loadConfig unmarshals the merged file, environment and flag settings.
func loadConfig(v *viper.Viper) (types.Config, error) {
	cfg := types.DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = types.DefaultConfig().Retry.MaxRetries
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newEngine loads configuration and builds the harvest engine and logger.
func newEngine(ctx context.Context) (*harvest.Engine, *logrus.Logger, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.Log, os.Stderr)
	engine, err := harvest.New(ctx, cfg, harvest.WithLogger(logging.Component(logger, "harvest")))
	if err != nil {
		return nil, nil, err
	}
	return engine, logger, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
