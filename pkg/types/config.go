package types

import (
	"errors"
	"fmt"
	"time"
)

// HTTPConfig holds shared HTTP settings for provider requests.
type HTTPConfig struct {
	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with provider requests
	// (e.g. "research-harvester/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// RetryConfig mirrors the retry policy applied to every page request.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// BackoffFactor is the base of the exponential backoff in seconds (default 0.5).
	BackoffFactor float64 `json:"backoff_factor" yaml:"backoff_factor" mapstructure:"backoff_factor"`

	// MaxBackoff caps a single backoff delay (default 120s). Zero retries
	// without delay.
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff" mapstructure:"max_backoff"`

	// RaiseOnExhaustion turns an exhausted retry budget into an error instead
	// of returning the last failed outcome.
	RaiseOnExhaustion bool `json:"raise_on_exhaustion" yaml:"raise_on_exhaustion" mapstructure:"raise_on_exhaustion"`
}

// CacheBackend selects the response cache storage.
type CacheBackend string

const (
	CacheMemory CacheBackend = "memory"
	CacheSQLite CacheBackend = "sqlite"
	CacheRedis  CacheBackend = "redis"
	CacheNone   CacheBackend = "none"
)

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Backend CacheBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Path is the SQLite database file for the sqlite backend.
	Path string `json:"path,omitempty" yaml:"path,omitempty" mapstructure:"path"`

	// RedisAddr is host:port of the Redis server. When empty the address is
	// taken from REDIS_HOST and REDIS_PORT.
	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty" mapstructure:"redis_addr"`
	RedisPassword string `json:"-" yaml:"-" mapstructure:"redis_password"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty" mapstructure:"redis_db"`

	// Prefix namespaces keys in shared stores (default "harvest:").
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty" mapstructure:"prefix"`

	// TTL expires entries; zero keeps them until cleared.
	TTL time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
}

// BreakerConfig configures the per-provider circuit breaker around the transport.
type BreakerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// ConsecutiveFailures trips the breaker (default 5).
	ConsecutiveFailures uint32 `json:"consecutive_failures" yaml:"consecutive_failures" mapstructure:"consecutive_failures"`

	// OpenTimeout is how long the breaker stays open before probing (default 60s).
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout" mapstructure:"open_timeout"`
}

// LogConfig selects the log level and format ("text" or "json").
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// ServeConfig holds settings for the HTTP API.
type ServeConfig struct {
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`

	// RequestsPerSecond and Burst bound each client of the API.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst" mapstructure:"burst"`
}

// Config groups every setting the harvester reads from file, environment and flags.
type Config struct {
	HTTP    HTTPConfig    `json:"http" yaml:"http" mapstructure:"http"`
	Retry   RetryConfig   `json:"retry" yaml:"retry" mapstructure:"retry"`
	Cache   CacheConfig   `json:"cache" yaml:"cache" mapstructure:"cache"`
	Breaker BreakerConfig `json:"breaker" yaml:"breaker" mapstructure:"breaker"`
	Log     LogConfig     `json:"log" yaml:"log" mapstructure:"log"`
	Serve   ServeConfig   `json:"serve" yaml:"serve" mapstructure:"serve"`

	// ProvidersFile optionally adds or overrides provider definitions.
	ProvidersFile string `json:"providers_file,omitempty" yaml:"providers_file,omitempty" mapstructure:"providers_file"`

	// SecretsDir holds one API key per file (e.g. "pubmed-api-key").
	SecretsDir string `json:"secrets_dir" yaml:"secrets_dir" mapstructure:"secrets_dir"`

	// StopEarly halts a provider's page sequence after a failed or short page.
	StopEarly bool `json:"stop_early" yaml:"stop_early" mapstructure:"stop_early"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Timeout:   30 * time.Second,
			UserAgent: "research-harvester/0.1",
		},
		Retry: RetryConfig{
			MaxRetries:    3,
			BackoffFactor: 0.5,
			MaxBackoff:    120 * time.Second,
		},
		Cache: CacheConfig{
			Backend: CacheMemory,
			Path:    "harvest-cache.db",
			Prefix:  "harvest:",
		},
		Breaker: BreakerConfig{
			Enabled:             true,
			ConsecutiveFailures: 5,
			OpenTimeout:         60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Serve: ServeConfig{
			Addr:              ":8080",
			RequestsPerSecond: 2,
			Burst:             4,
		},
		SecretsDir: ".secrets",
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BackoffFactor < 0 {
		return fmt.Errorf("retry.backoff_factor must be >= 0, got %g", c.Retry.BackoffFactor)
	}
	if c.Retry.MaxBackoff < 0 {
		return errors.New("retry.max_backoff must not be negative")
	}
	if c.HTTP.Timeout < 0 {
		return errors.New("http.timeout must not be negative")
	}
	switch c.Cache.Backend {
	case CacheMemory, CacheSQLite, CacheRedis, CacheNone:
	default:
		return fmt.Errorf("unknown cache backend %q (want memory, sqlite, redis or none)", c.Cache.Backend)
	}
	if c.Cache.Backend == CacheSQLite && c.Cache.Path == "" {
		return errors.New("cache.path is required for the sqlite backend")
	}
	return nil
}
