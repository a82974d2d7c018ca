package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/competitor-intel/internal/config"
	"github.com/sells-group/competitor-intel/internal/cost"
	"github.com/sells-group/competitor-intel/internal/credential"
	"github.com/sells-group/competitor-intel/internal/matching"
	"github.com/sells-group/competitor-intel/internal/metrics"
	"github.com/sells-group/competitor-intel/internal/progress"
	"github.com/sells-group/competitor-intel/internal/provider"
	"github.com/sells-group/competitor-intel/internal/session"
	"github.com/sells-group/competitor-intel/internal/store"
)

// appEnv holds the initialized store, services and clients needed by the
// serve/match/analyze commands.
type appEnv struct {
	Store        store.Store
	Metrics      *metrics.Metrics
	Matcher      *matching.Matcher
	Pool         *provider.Pool
	Tracker      *progress.Tracker
	Orchestrator *session.Orchestrator

	registry *provider.Registry
	rdb      *redis.Client
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.registry != nil {
		if err := e.registry.Close(); err != nil {
			zap.L().Warn("close provider registry", zap.Error(err))
		}
	}
	if e.rdb != nil {
		_ = e.rdb.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		return store.NewSQLite(c.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &c.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initMatching opens and migrates the store and builds the matcher. Callers
// should defer env.Close().
func initMatching(ctx context.Context, c *config.Config) (*appEnv, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	m := metrics.New()
	return &appEnv{
		Store:   st,
		Metrics: m,
		Matcher: matching.NewMatcher(st,
			matching.WithCandidateLimit(c.Matching.CandidateLimit),
			matching.WithEnsureThreshold(c.Matching.EnsureThreshold),
			matching.WithMetrics(m),
		),
	}, nil
}

// initAnalysis extends initMatching with providers, the progress bus and the
// session orchestrator.
func initAnalysis(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}
	env, err := initMatching(ctx, c)
	if err != nil {
		return nil, err
	}

	settings := provider.DefaultSettings()
	if c.Providers.SettingsFile != "" {
		if settings, err = provider.LoadSettings(c.Providers.SettingsFile); err != nil {
			env.Close()
			return nil, err
		}
	}

	env.registry, err = provider.Build(ctx, credentialStore(c), settings,
		cost.NewCalculator(c.Rates()), provider.DefaultFactories())
	if err != nil {
		env.Close()
		return nil, err
	}
	if len(env.registry.Names()) == 0 {
		zap.L().Warn("no provider credentials configured; analyses will be rejected")
	}

	env.Pool = provider.NewPool(env.registry, settings,
		provider.WithPoolMetrics(env.Metrics),
		provider.WithBackoff(c.Resilience.RetryPolicy()),
	)

	var bus progress.Bus = progress.NewHub(env.Metrics)
	if c.Redis.URL != "" {
		opts, err := redis.ParseURL(c.Redis.URL)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "parse redis url")
		}
		env.rdb = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = env.rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "ping redis")
		}
		bus = progress.NewRedisBus(env.rdb, env.Metrics)
		zap.L().Info("progress bus: redis", zap.String("addr", opts.Addr))
	}

	env.Tracker = progress.NewTracker(env.Store, bus, env.Metrics)
	env.Orchestrator = session.NewOrchestrator(env.Store, env.Tracker, env.Pool,
		session.WithWorkers(c.Analysis.MaxWorkers),
		session.WithJobTimeout(c.Analysis.JobTimeout()),
		session.WithMatcher(env.Matcher),
		session.WithMetrics(env.Metrics),
	)
	return env, nil
}

// credentialStore prefers configured keys and falls back to the OS keychain.
func credentialStore(c *config.Config) credential.Store {
	chain := credential.Chain{credential.Static(c.Providers.Keys())}
	if c.Providers.UseKeyring {
		chain = append(chain, credential.NewKeyring())
	}
	return chain
}
