package app

import (
	"membership-manager/internal/common/logging"
	"membership-manager/internal/locks"
	"membership-manager/internal/redis"
)

// initializeRedis connects the task queue backend and the lock manager.
// Unlike the settings store, Redis is shared by every instance.
func (app *App) initializeRedis() error {
	redisConfig := &redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDB,
		PoolSize: app.Config.RedisPoolSize,
	}

	redisClient, err := redis.NewClient(redisConfig)
	if err != nil {
		return err
	}
	app.Redis = redisClient
	app.Logger.Info("Redis: Connected", logging.Field{"address", app.Config.RedisAddress})

	manager, err := locks.NewManager(redisClient)
	if err != nil {
		return err
	}
	app.Locks = manager
	app.Logger.Info("Distributed Locks: Enabled")

	return nil
}
