package database

import (
	"fmt"

	"github.com/go-redis/redis"
	"github.com/xpanvictor/mimi/internal/config"
)

// NewRedis connects and pings once so a bad address fails at boot.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Pass,
		DB:       cfg.DB,
	})
	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
