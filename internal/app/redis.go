package app

import (
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/events"
	"plugin-runtime/internal/redis"
)

func (app *App) initializeRedis() error {
	if !app.Config.RedisEnabled {
		app.Logger.Info("Redis: Not configured (cycle locks and lifecycle events disabled)")
		return nil
	}

	redisClient, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDB,
		PoolSize: app.Config.RedisPoolSize,
	})
	if err != nil {
		return err
	}

	app.RedisClient = redisClient
	app.Bus = events.NewBus(redisClient, events.DefaultChannel, app.Logger)
	app.Logger.Info("Redis: Connected", logging.String("address", app.Config.RedisAddress))
	app.Logger.Info("Distributed cycle locks: Enabled")
	app.Logger.Info("Lifecycle events: Enabled", logging.String("origin", app.Bus.Origin()))

	return nil
}
