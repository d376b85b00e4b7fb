package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sfucore/pkg/config"
)

const connectTimeout = 5 * time.Second

// ClientOptions selects the Redis every sfucore instance shares.
type ClientOptions struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	// Migrate upgrades the key layout after connecting. Read-only tools
	// leave it off.
	Migrate bool
}

// OptionsFromConfig takes the redis section of cfg.
func OptionsFromConfig(cfg *config.Config, migrate bool) ClientOptions {
	return ClientOptions{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Migrate:  migrate,
	}
}

// Connect dials Redis and fails unless it answers a PING.
func Connect(opts ClientOptions, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  connectTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis at %s unreachable: %w", opts.Address, err)
	}
	if opts.Migrate {
		if err := Migrate(ctx, client, logger); err != nil {
			client.Close()
			return nil, err
		}
	}

	logger.Infow("connected to Redis", "address", opts.Address, "db", opts.DB, "pool_size", opts.PoolSize)
	return client, nil
}
