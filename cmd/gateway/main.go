// Command gateway runs the caching API gateway: it routes requests by path
// prefix to upstream services and caches their responses in Redis, SQLite
// or memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/edge-cache-gateway/pkg/cache"
	"github.com/Sternrassler/edge-cache-gateway/pkg/config"
	"github.com/Sternrassler/edge-cache-gateway/pkg/filter"
	"github.com/Sternrassler/edge-cache-gateway/pkg/gateway"
	"github.com/Sternrassler/edge-cache-gateway/pkg/logging"
	"github.com/Sternrassler/edge-cache-gateway/pkg/metrics"
)

type flags struct {
	configFile string
	listenAddr string
	store      string
	redisAddr  string
	sqlitePath string
	logLevel   string
	pretty     bool
	keyPolicy  string
	coalesce   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return newCommand(&flags{})
}

func newCommand(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Caching API gateway.",
		Long: `gateway forwards requests to upstream services by path prefix and
caches every response by request path. Configuration comes from an optional
TOML or YAML file, then the environment (PORT, REDIS_URL, CACHE_STORE, ...),
then flags.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.configFile, "config", "c", "", "config file (.toml, .yaml)")
	fs.StringVar(&f.listenAddr, "listen", "", "listen address, e.g. :8080")
	fs.StringVar(&f.store, "store", "", "cache store: redis, sqlite or memory")
	fs.StringVar(&f.redisAddr, "redis", "", "redis address or redis:// URL")
	fs.StringVar(&f.sqlitePath, "sqlite-path", "", "sqlite database file")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&f.pretty, "pretty", false, "human-readable logs")
	fs.StringVar(&f.keyPolicy, "key-policy", "", "cache key policy: path or request")
	fs.BoolVar(&f.coalesce, "coalesce", false, "share one upstream round trip between concurrent misses")

	return cmd
}

// loadConfig layers defaults, file, environment and changed flags.
func loadConfig(cmd *cobra.Command, f *flags) (config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	fs := cmd.Flags()
	if fs.Changed("listen") {
		cfg.ListenAddr = f.listenAddr
	}
	if fs.Changed("store") {
		cfg.Store.Provider = f.store
	}
	if fs.Changed("redis") {
		cfg.Store.RedisAddr = f.redisAddr
	}
	if fs.Changed("sqlite-path") {
		cfg.Store.SQLitePath = f.sqlitePath
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("pretty") {
		cfg.Log.Pretty = f.pretty
	}
	if fs.Changed("key-policy") {
		cfg.Cache.KeyPolicy = f.keyPolicy
	}
	if fs.Changed("coalesce") {
		cfg.Cache.Coalesce = f.coalesce
	}

	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logging.Setup(logging.Config{
		Level:  logging.Level(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Error().Err(err).Str("store", cfg.Store.Provider).Msg("Cache store unavailable")
		return err
	}
	defer closeStore()
	logger.Info().Str("store", cfg.Store.Provider).Msg("Connected to cache store")

	handler, err := newServer(cfg, store, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Int("routes", len(cfg.Routes)).
			Str("key_policy", cfg.Cache.KeyPolicy).
			Msg("Starting gateway")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore connects the configured store and checks it answers.
func openStore(ctx context.Context, cfg config.StoreConfig) (cache.Store, func() error, error) {
	var (
		store     cache.Store
		closeFunc = func() error { return nil }
	)

	switch cfg.Provider {
	case config.StoreRedis:
		opts, err := redisOptions(cfg)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(opts)
		store = cache.NewRedisStore(client, cache.WithTTL(cfg.TTL))
		closeFunc = client.Close
	case config.StoreSQLite:
		s, err := cache.NewSQLiteStore(cfg.SQLitePath, cfg.TTL)
		if err != nil {
			return nil, nil, err
		}
		store = s
		closeFunc = s.Close
	case config.StoreMemory:
		store = cache.NewMemoryStore(cfg.TTL)
	default:
		return nil, nil, fmt.Errorf("%w: unknown store provider %q", config.ErrInvalidConfig, cfg.Provider)
	}

	if p, ok := store.(cache.Pinger); ok {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			_ = closeFunc()
			return nil, nil, err
		}
	}

	return store, closeFunc, nil
}

func redisOptions(cfg config.StoreConfig) (*redis.Options, error) {
	if strings.HasPrefix(cfg.RedisAddr, "redis://") || strings.HasPrefix(cfg.RedisAddr, "rediss://") {
		opts, err := redis.ParseURL(cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("%w: redis url: %v", config.ErrInvalidConfig, err)
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}

// newServer assembles the ops endpoints and the cached gateway routes.
func newServer(cfg config.Config, store cache.Store, logger zerolog.Logger) (http.Handler, error) {
	f, err := newFilter(cfg.Cache, cfg.Store, store, logger)
	if err != nil {
		return nil, err
	}

	routes, err := buildRoutes(cfg.Routes)
	if err != nil {
		return nil, err
	}

	gw, err := gateway.NewRouter(routes, []func(http.Handler) http.Handler{f.Middleware},
		gateway.WithLogger(logger.With().Str("component", "upstream").Logger()))
	if err != nil {
		return nil, err
	}

	root := chi.NewRouter()
	root.Use(logging.Middleware(logger))
	root.Get("/health", healthHandler)
	root.Get("/ready", readyHandler(store))
	root.Handle("/metrics", metrics.Handler())
	root.Mount("/", gw)

	return root, nil
}

func newFilter(cc config.CacheConfig, sc config.StoreConfig, store cache.Store, logger zerolog.Logger) (*filter.Filter, error) {
	lookup, err := filter.ParseLookupPolicy(cc.LookupFailure)
	if err != nil {
		return nil, err
	}
	write, err := filter.ParseWritePolicy(cc.WriteFailure)
	if err != nil {
		return nil, err
	}
	corruption, err := filter.ParseCorruptionPolicy(cc.Corruption)
	if err != nil {
		return nil, err
	}

	var keys cache.KeyGenerator = cache.PathKey{Prefix: cc.KeyPrefix}
	if cc.KeyPolicy == config.KeyPolicyRequest {
		keys = cache.RequestKey{Prefix: cc.KeyPrefix, HashQuery: cc.HashQuery}
	}

	fc := filter.DefaultConfig(store)
	fc.Keys = keys
	fc.LookupFailure = lookup
	fc.WriteFailure = write
	fc.Corruption = corruption
	fc.MaxBodyBytes = cc.MaxBodyBytes
	fc.StoreTimeout = sc.Timeout
	fc.Coalesce = cc.Coalesce
	fc.Cacheable = gateway.Cacheable
	fc.Logger = logger.With().Str("component", "cache-filter").Logger()

	return filter.New(fc)
}

func buildRoutes(rcs []config.RouteConfig) ([]gateway.Route, error) {
	routes := make([]gateway.Route, 0, len(rcs))
	for _, rc := range rcs {
		upstream, err := url.Parse(rc.Upstream)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", rc.Name, err)
		}
		routes = append(routes, gateway.Route{
			Name:            rc.Name,
			PathPrefix:      rc.PathPrefix,
			Upstream:        upstream,
			FallbackMessage: rc.FallbackMessage,
			Retries:         rc.Retries,
			Breaker: gateway.BreakerConfig{
				FailureThreshold: rc.BreakerThreshold,
				OpenDuration:     rc.BreakerOpen,
			},
		})
	}
	return routes, nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports whether the cache store answers.
func readyHandler(store cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p, ok := store.(cache.Pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				http.Error(w, "cache store unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "READY")
	}
}
