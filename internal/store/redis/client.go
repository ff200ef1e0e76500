package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Config holds connection settings for the Redis session store.
type Config struct {
	Addrs       []string
	Username    string
	Password    string
	DB          int
	KeyPrefix   string
	DialTimeout time.Duration

	// ConnectRetries is how many times the initial ping is attempted. Default: 5
	ConnectRetries uint
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.Addrs) == 0 {
		return fmt.Errorf("at least one redis address is required")
	}
	return nil
}

// Connect creates a client and pings the server, retrying with exponential backoff.
func Connect(ctx context.Context, cfg Config) (redis.UniversalClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ConnectRetries == 0 {
		cfg.ConnectRetries = 5
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       cfg.Addrs,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	_, err := backoff.Retry(ctx, func() (string, error) {
		return client.Ping(ctx).Result()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(cfg.ConnectRetries),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Warn().Err(err).Dur("retry_in", d).Msg("Redis not reachable, retrying")
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}
