package app

import (
	"context"

	"cache-coordinator/internal/common/logging"
	"cache-coordinator/internal/common/utils"
	"cache-coordinator/internal/redis"
)

func (app *App) initializeRedis(ctx context.Context) error {
	if !app.Config.SharedEnabled {
		app.Logger.Info("Redis: Not configured (shared cache level disabled)")
		return nil
	}

	var client *redis.Client
	err := utils.RetryWithBackoff(ctx, connectRetry(), "redis connect", func(context.Context) error {
		var err error
		client, err = redis.NewClient(app.Config.RedisConfig())
		return err
	})
	if err != nil {
		return err
	}

	app.RedisClient = client
	app.Logger.Info("Redis: Connected",
		logging.String("address", app.Config.RedisAddress),
		logging.Int("db", app.Config.RedisDB),
	)
	return nil
}
