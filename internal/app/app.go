package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cache-coordinator/internal/cache"
	"cache-coordinator/internal/common/logging"
	"cache-coordinator/internal/config"
	"cache-coordinator/internal/handlers"
	"cache-coordinator/internal/metrics"
	"cache-coordinator/internal/redis"
	"cache-coordinator/internal/scheduler"
	"cache-coordinator/internal/source"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Coordinator *cache.Coordinator
	RedisClient *redis.Client
	Source      *source.SQLSource
	Scheduler   *scheduler.Scheduler
	Registry    *prometheus.Registry
	Handlers    *handlers.Handlers
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}

	if err := app.initializeRedis(ctx); err != nil {
		// The Shared level is optional; the coordinator runs on the in-process levels
		app.Logger.Warn("Redis initialization failed, continuing without the shared level",
			logging.Err(err))
	}

	if err := app.initializeCoordinator(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeSource(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeScheduler(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.initializeMetrics()
	app.initializeHandlers()
	return app, nil
}

func (app *App) initializeCoordinator() error {
	opts := []cache.Option{cache.WithLogger(app.Logger.WithFields(logging.String("component", "cache")))}
	if app.RedisClient != nil {
		opts = append(opts, cache.WithRemote(app.RedisClient))
	}

	coord, err := cache.New(app.Config.CacheConfig(), opts...)
	if err != nil {
		return err
	}
	app.Coordinator = coord

	app.Logger.Info("Cache coordinator ready",
		logging.String("namespace", coord.Namespace()),
		logging.Bool("shared_level", coord.HasLevel(cache.LevelShared)),
		logging.Bool("single_flight", app.Config.SingleFlight),
	)
	return nil
}

func (app *App) initializeMetrics() {
	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector("cachecoord", app.Coordinator),
	)
}

func (app *App) initializeHandlers() {
	checks := []handlers.HealthCheck{
		{Name: "source", Check: app.Source.Health},
	}
	if app.RedisClient != nil {
		checks = append(checks, handlers.HealthCheck{
			Name:  "redis",
			Check: func(context.Context) error { return app.RedisClient.Health() },
		})
	}
	app.Handlers = handlers.New(app.Coordinator, app.Scheduler, checks...)
}

// Shutdown stops background work, waiting for a running warm-up until ctx ends.
func (app *App) Shutdown(ctx context.Context) {
	if app.Scheduler != nil {
		app.Scheduler.Stop(ctx)
	}
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Source != nil {
		if err := app.Source.Close(); err != nil {
			app.Logger.Warn("Failed to close data source", logging.Err(err))
		}
	}
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Failed to close Redis client", logging.Err(err))
		}
	}
}
