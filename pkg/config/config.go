// Package config loads the gateway configuration from defaults, an optional
// TOML or YAML file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/edge-cache-gateway/pkg/cache"
	"github.com/Sternrassler/edge-cache-gateway/pkg/filter"
	"github.com/Sternrassler/edge-cache-gateway/pkg/logging"
)

// ErrInvalidConfig is wrapped by every error returned from Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Store providers.
const (
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Key policies.
const (
	KeyPolicyPath    = "path"
	KeyPolicyRequest = "request"
)

// Config is the complete gateway configuration.
type Config struct {
	ListenAddr      string        `toml:"listen_addr" yaml:"listen_addr"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`

	Log    LogConfig     `toml:"log" yaml:"log"`
	Store  StoreConfig   `toml:"store" yaml:"store"`
	Cache  CacheConfig   `toml:"cache" yaml:"cache"`
	Routes []RouteConfig `toml:"routes" yaml:"routes"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Pretty bool   `toml:"pretty" yaml:"pretty"`
}

// StoreConfig selects and configures the cache store.
type StoreConfig struct {
	Provider string `toml:"provider" yaml:"provider"` // redis, sqlite, memory

	// RedisAddr is host:port or a redis:// URL.
	RedisAddr     string `toml:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `toml:"redis_password" yaml:"redis_password"`
	RedisDB       int    `toml:"redis_db" yaml:"redis_db"`

	SQLitePath string `toml:"sqlite_path" yaml:"sqlite_path"`

	// TTL of stored records, 0 keeps them until overwritten.
	TTL time.Duration `toml:"ttl" yaml:"ttl"`

	// Timeout bounds each store call made while serving a request.
	Timeout time.Duration `toml:"timeout" yaml:"timeout"`
}

// CacheConfig configures the cache filter.
type CacheConfig struct {
	KeyPolicy     string `toml:"key_policy" yaml:"key_policy"` // path, request
	KeyPrefix     string `toml:"key_prefix" yaml:"key_prefix"`
	HashQuery     bool   `toml:"hash_query" yaml:"hash_query"`
	MaxBodyBytes  int64  `toml:"max_body_bytes" yaml:"max_body_bytes"`
	LookupFailure string `toml:"lookup_failure" yaml:"lookup_failure"` // closed, open
	WriteFailure  string `toml:"write_failure" yaml:"write_failure"`   // open, closed
	Corruption    string `toml:"corruption" yaml:"corruption"`         // fail, miss
	Coalesce      bool   `toml:"coalesce" yaml:"coalesce"`
}

// RouteConfig maps a path prefix to an upstream service.
type RouteConfig struct {
	Name            string `toml:"name" yaml:"name"`
	PathPrefix      string `toml:"path_prefix" yaml:"path_prefix"`
	Upstream        string `toml:"upstream" yaml:"upstream"`
	FallbackMessage string `toml:"fallback_message" yaml:"fallback_message"`
	Retries         int    `toml:"retries" yaml:"retries"`

	// BreakerThreshold consecutive failures open the route for
	// BreakerOpen. Zero disables the breaker.
	BreakerThreshold int           `toml:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerOpen      time.Duration `toml:"breaker_open" yaml:"breaker_open"`
}

// Default returns the configuration used when nothing is overridden: a
// single route to the authentication service, cached in Redis.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		ShutdownTimeout: 10 * time.Second,
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
		Store: StoreConfig{
			Provider:   StoreRedis,
			RedisAddr:  "localhost:6379",
			SQLitePath: "gateway-cache.db",
			Timeout:    2 * time.Second,
		},
		Cache: CacheConfig{
			KeyPolicy:     KeyPolicyPath,
			KeyPrefix:     cache.DefaultKeyPrefix,
			LookupFailure: filter.LookupFailClosed.String(),
			WriteFailure:  filter.WriteFailOpen.String(),
			Corruption:    filter.CorruptionFail.String(),
		},
		Routes: []RouteConfig{
			{
				Name:             "auth-service",
				PathPrefix:       "/api/v1/auth",
				Upstream:         "http://authentication-service:8081",
				FallbackMessage:  "The authentication service is not responding right now. Please try again later.",
				Retries:          2,
				BreakerThreshold: 5,
				BreakerOpen:      10 * time.Second,
			},
		},
	}
}

// Load reads the file at path over the defaults. The format follows the
// extension: .toml, .yaml or .yml. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	// routes in the file replace the default routes as a whole
	defaults := cfg.Routes
	cfg.Routes = nil

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		return Default(), fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, filepath.Ext(path))
	}

	if len(cfg.Routes) == 0 {
		cfg.Routes = defaults
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from the environment. Unset variables keep the
// current value.
func (c *Config) ApplyEnv() error {
	if port := getEnv("PORT", ""); port != "" {
		c.ListenAddr = ":" + port
	}
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Store.Provider = getEnv("CACHE_STORE", c.Store.Provider)
	c.Store.RedisAddr = getEnv("REDIS_URL", c.Store.RedisAddr)
	c.Store.RedisPassword = getEnv("REDIS_PASSWORD", c.Store.RedisPassword)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Cache.KeyPolicy = getEnv("CACHE_KEY_POLICY", c.Cache.KeyPolicy)

	var errs []error
	if v := getEnv("LOG_PRETTY", ""); v != "" {
		pretty, err := strconv.ParseBool(v)
		errs = append(errs, envErr("LOG_PRETTY", err))
		c.Log.Pretty = pretty
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		db, err := strconv.Atoi(v)
		errs = append(errs, envErr("REDIS_DB", err))
		c.Store.RedisDB = db
	}
	if v := getEnv("CACHE_TTL", ""); v != "" {
		ttl, err := time.ParseDuration(v)
		errs = append(errs, envErr("CACHE_TTL", err))
		c.Store.TTL = ttl
	}
	if v := getEnv("CACHE_MAX_BODY_BYTES", ""); v != "" {
		limit, err := strconv.ParseInt(v, 10, 64)
		errs = append(errs, envErr("CACHE_MAX_BODY_BYTES", err))
		c.Cache.MaxBodyBytes = limit
	}

	return errors.Join(errs...)
}

// Validate reports every problem found in c, each wrapping ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.ListenAddr == "" {
		invalid("listen address is empty")
	}
	if _, err := logging.ParseLevel(logging.Level(c.Log.Level)); err != nil {
		invalid("%v", err)
	}

	switch c.Store.Provider {
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			invalid("redis store needs an address")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			invalid("sqlite store needs a path")
		}
	case StoreMemory:
	default:
		invalid("unknown store provider %q", c.Store.Provider)
	}
	if c.Store.TTL < 0 || c.Store.Timeout < 0 {
		invalid("store durations must not be negative")
	}

	switch c.Cache.KeyPolicy {
	case "", KeyPolicyPath, KeyPolicyRequest:
	default:
		invalid("unknown key policy %q", c.Cache.KeyPolicy)
	}
	if c.Cache.MaxBodyBytes < 0 {
		invalid("max body bytes must be >= 0 (got %d)", c.Cache.MaxBodyBytes)
	}
	if _, err := filter.ParseLookupPolicy(c.Cache.LookupFailure); err != nil {
		invalid("%v", err)
	}
	if _, err := filter.ParseWritePolicy(c.Cache.WriteFailure); err != nil {
		invalid("%v", err)
	}
	if _, err := filter.ParseCorruptionPolicy(c.Cache.Corruption); err != nil {
		invalid("%v", err)
	}

	if len(c.Routes) == 0 {
		invalid("no routes configured")
	}
	names := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		if r.Name == "" {
			invalid("route %d has no name", i)
		} else if names[r.Name] {
			invalid("duplicate route %q", r.Name)
		}
		names[r.Name] = true

		if !strings.HasPrefix(r.PathPrefix, "/") {
			invalid("route %q: path prefix must start with /", r.Name)
		}
		if u, err := url.Parse(r.Upstream); err != nil || u.Scheme == "" || u.Host == "" {
			invalid("route %q: upstream %q is not an absolute URL", r.Name, r.Upstream)
		}
		if r.Retries < 0 {
			invalid("route %q: retries must be >= 0", r.Name)
		}
		if r.BreakerThreshold < 0 || r.BreakerOpen < 0 {
			invalid("route %q: breaker settings must not be negative", r.Name)
		}
		if r.BreakerThreshold > 0 && r.BreakerOpen == 0 {
			invalid("route %q: breaker needs an open duration", r.Name)
		}
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envErr(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
}
