package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/agent"
	"github.com/spigell/career-sync/internal/cache"
	"github.com/spigell/career-sync/internal/careersite"
	"github.com/spigell/career-sync/internal/careersite/candoo"
	"github.com/spigell/career-sync/internal/careersite/headhunter"
	"github.com/spigell/career-sync/internal/ingest"
	"github.com/spigell/career-sync/internal/llm"
	"github.com/spigell/career-sync/internal/llm/gemini"
	"github.com/spigell/career-sync/internal/llm/openai"
	"github.com/spigell/career-sync/internal/metrics"
	"github.com/spigell/career-sync/internal/resolver"
	"github.com/spigell/career-sync/internal/secrets"
	"github.com/spigell/career-sync/internal/store"
	"github.com/spigell/career-sync/internal/store/memory"
	"github.com/spigell/career-sync/internal/store/postgres"
	"github.com/spigell/career-sync/internal/tracing"
)

// runtime holds everything a command needs, built once from the config.
type runtime struct {
	config   *Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	backend  cache.Backend
	deps     resolver.Deps
	services *ingest.Services
	closers  []func(context.Context) error
}

func newRuntime(ctx context.Context, config *Config, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{config: config, logger: logger, registry: prometheus.NewRegistry()}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.metrics = metrics.New(rt.registry)

	shutdown, err := tracing.Setup(ctx, config.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	rt.closers = append(rt.closers, shutdown)

	if err := rt.build(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) build(ctx context.Context) error {
	backend, err := rt.newCacheBackend(ctx)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	rt.backend = backend

	st, err := rt.newStore(ctx)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	client, err := rt.newStructuredClient(ctx)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	embedder, err := rt.newEmbedder(ctx)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	rt.deps = resolver.Deps{
		Store: st,
		Cache: cache.New(backend, rt.config.Cache.Prefix,
			cache.WithTTL(rt.config.Cache.TTL),
			cache.WithLogger(rt.logger.Named("cache")),
			cache.WithErrorHook(rt.metrics.CacheError),
		),
		Embedder: embedder,
		Client:   client,
		Metrics:  rt.metrics,
		Logger:   rt.logger,
	}

	rt.services, err = ingest.NewServices(rt.deps, rt.resolverOptions()...)
	return err
}

func (rt *runtime) resolverOptions() []resolver.Option {
	cfg := rt.config
	return []resolver.Option{
		resolver.WithSearch(cfg.Resolver.K, cfg.Resolver.Threshold),
		resolver.WithRetry(cfg.Retry),
		resolver.WithAgentOptions(
			agent.WithConcurrency(cfg.LLM.Concurrency),
			agent.WithReasoningEffort(cfg.LLM.ReasoningEffort),
		),
	}
}

func (rt *runtime) newCacheBackend(ctx context.Context) (cache.Backend, error) {
	cfg := rt.config.Cache
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return cache.NewMemoryBackend(cfg.Size, cfg.TTL), nil
	case "redis":
		url, err := secrets.Load(cfg.URL.source("redis url"))
		if err != nil {
			return nil, err
		}
		backend, err := cache.DialRedis(ctx, url)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func(context.Context) error { return backend.Close() })
		return backend, nil
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", cfg.Driver)
	}
}

func (rt *runtime) newStore(ctx context.Context) (store.Store, error) {
	cfg := rt.config.Storage
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		rt.logger.Warn("using in-memory storage, records are lost on exit")
		return memory.New(), nil
	case "postgres":
		st, err := rt.openPostgres(ctx)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			version, err := postgres.Migrate(st.DB().DB)
			if err != nil {
				return nil, err
			}
			rt.logger.Info("database migrated", zap.Uint("version", version))
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func (rt *runtime) openPostgres(ctx context.Context) (*postgres.Store, error) {
	dsn, err := secrets.Load(rt.config.Storage.DSN.source("database dsn"))
	if err != nil {
		return nil, err
	}
	st, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func(context.Context) error { return st.Close() })
	return st, nil
}

func (rt *runtime) newStructuredClient(ctx context.Context) (llm.StructuredClient, error) {
	cfg := rt.config.LLM
	key, err := secrets.Load(cfg.APIKey.source(cfg.Provider + " api key"))
	if err != nil {
		return nil, err
	}

	var client llm.StructuredClient
	switch strings.ToLower(cfg.Provider) {
	case openai.ProviderName:
		client, err = openai.New(openai.Config{
			APIKey:       key,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			MaxLogLength: cfg.MaxLogLength,
		}, rt.logger)
	case gemini.ProviderName:
		client, err = gemini.NewGenerator(ctx, gemini.Config{
			APIKey:       key,
			Model:        cfg.Model,
			MaxRetries:   cfg.MaxRetries,
			MaxLogLength: cfg.MaxLogLength,
		}, rt.logger)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return llm.GuardClient(client, llm.NewGuard("llm", cfg.Guard.guard())), nil
}

func (rt *runtime) newEmbedder(ctx context.Context) (llm.Embedder, error) {
	cfg := rt.config.Embedding
	key, err := secrets.Load(cfg.APIKey.source(cfg.Provider + " embedding api key"))
	if err != nil {
		return nil, err
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 && strings.EqualFold(rt.config.Storage.Driver, "postgres") {
		dimensions = postgres.Dimensions
	}

	var embedder llm.Embedder
	switch strings.ToLower(cfg.Provider) {
	case openai.ProviderName:
		embedder, err = openai.NewEmbedder(openai.EmbedderConfig{
			APIKey:     key,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: dimensions,
		}, rt.logger)
	case gemini.ProviderName:
		embedder, err = gemini.NewEmbedder(ctx, gemini.EmbedderConfig{
			APIKey:     key,
			Model:      cfg.Model,
			Dimensions: dimensions,
		}, rt.logger)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return llm.GuardEmbedder(embedder, llm.NewGuard("embedding", cfg.Guard.guard())), nil
}

// sources builds the career-site registry of one run, optionally
// restricted to names.
func (rt *runtime) sources(names ...string) (*careersite.Registry, error) {
	registry, err := careersite.NewRegistry()
	if err != nil {
		return nil, err
	}

	responses := cache.New(rt.backend, rt.config.Cache.Prefix+"-responses",
		cache.WithLogger(rt.logger.Named("cache")),
		cache.WithErrorHook(rt.metrics.CacheError),
	)

	for _, src := range rt.config.Sources.Candoo {
		cfg := src.Config
		key, err := secrets.Load(src.AuthKey.source("candoo auth key of " + cfg.Name))
		if err != nil {
			return nil, err
		}
		cfg.AuthKey = key
		client, err := candoo.New(cfg, responses, rt.logger.Named("candoo"))
		if err != nil {
			return nil, err
		}
		if err := registry.Register(client); err != nil {
			return nil, err
		}
	}

	for _, src := range rt.config.Sources.HeadHunter {
		cfg := src.Config
		token, err := secrets.LoadOptional(src.Token.source("headhunter token of " + cfg.EmployerID))
		if err != nil {
			return nil, err
		}
		cfg.Token = token
		client, err := headhunter.New(cfg, rt.logger.Named("headhunter"))
		if err != nil {
			return nil, err
		}
		if err := registry.Register(client); err != nil {
			return nil, err
		}
	}

	if registry.Len() == 0 {
		return nil, errors.New("no sources configured")
	}
	return registry.Select(names...)
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
