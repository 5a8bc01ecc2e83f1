package app

import (
	"context"

	"cache-coordinator/internal/cache"
	"cache-coordinator/internal/common/errors"
	"cache-coordinator/internal/common/logging"
	"cache-coordinator/internal/common/utils"
	"cache-coordinator/internal/scheduler"
	"cache-coordinator/internal/source"
)

func (app *App) initializeSource(ctx context.Context) error {
	driver, dsn := app.Config.DatabaseDSN()

	var src *source.SQLSource
	err := utils.RetryWithBackoff(ctx, connectRetry(), "data source connect", func(ctx context.Context) error {
		var err error
		src, err = source.Open(ctx, driver, dsn, app.Config.SourceTable)
		return err
	})
	if err != nil {
		return err
	}
	app.Source = src

	app.Logger.Info("Data source: Connected",
		logging.String("driver", driver),
		logging.String("table", app.Config.SourceTable),
	)
	return nil
}

func (app *App) initializeScheduler() error {
	sched, err := scheduler.New(app.Coordinator, app.Config.WarmUpSchedule, app.Logger)
	if err != nil {
		return err
	}

	limit := app.Config.WarmUpLimit
	sched.RegisterSource(func(ctx context.Context) ([]cache.WarmUpTask, error) {
		return app.Source.WarmUpTasks(ctx, limit)
	})
	app.Scheduler = sched
	return nil
}

// connectRetry retries startup connections, except for configuration mistakes.
func connectRetry() utils.RetryConfig {
	config := utils.DefaultRetryConfig()
	config.Retryable = func(err error) bool {
		return !errors.IsType(err, errors.ErrTypeConfig)
	}
	return config
}
