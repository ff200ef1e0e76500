package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/wolfeidau/forumapi/internal/logger"
	"github.com/wolfeidau/forumapi/internal/store"
	memorystore "github.com/wolfeidau/forumapi/internal/store/memory"
	postgresstore "github.com/wolfeidau/forumapi/internal/store/postgres"
	redisstore "github.com/wolfeidau/forumapi/internal/store/redis"
)

type Globals struct {
	Debug   bool
	Version string
}

// setupLogger configures the global logger used by every package.
func (g *Globals) setupLogger() zerolog.Logger {
	log := logger.Setup(g.Debug)
	zlog.Logger = log
	return log
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    16 * 1024, // 16KiB, bearer tokens and cookies
	}
}

// StorageFlags selects and configures the session and user stores.
type StorageFlags struct {
	StoreType string        `help:"session store type (memory, postgres or redis)" default:"memory" env:"FORUM_STORE_TYPE" enum:"memory,postgres,redis"`
	Postgres  PostgresFlags `embed:"" prefix:"postgres-"`
	Redis     RedisFlags    `embed:"" prefix:"redis-"`
}

type PostgresFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"FORUM_POSTGRES_CONNECTION_STRING"`

	MaxConns        int32         `help:"maximum number of connections in pool" default:"20" env:"FORUM_POSTGRES_MAX_CONNS"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2" env:"FORUM_POSTGRES_MIN_CONNS"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"FORUM_POSTGRES_AUTO_MIGRATE"`
}

func (p *PostgresFlags) Validate() error {
	if p.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or FORUM_POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

type RedisFlags struct {
	Addrs     []string `help:"Redis addresses, more than one selects cluster mode" default:"localhost:6379" env:"FORUM_REDIS_ADDRS"`
	Username  string   `help:"Redis ACL username" env:"FORUM_REDIS_USERNAME"`
	Password  string   `help:"Redis password" env:"FORUM_REDIS_PASSWORD"`
	DB        int      `help:"Redis database number" default:"0" env:"FORUM_REDIS_DB"`
	KeyPrefix string   `help:"prefix of every session key" default:"forum" env:"FORUM_REDIS_KEY_PREFIX"`
}

func (r *RedisFlags) config() redisstore.Config {
	return redisstore.Config{
		Addrs:     r.Addrs,
		Username:  r.Username,
		Password:  r.Password,
		DB:        r.DB,
		KeyPrefix: r.KeyPrefix,
	}
}

// stores bundles the opened stores with their cleanup.
type stores struct {
	sessions store.SessionStore
	users    store.UserStore
	closers  []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// open connects the configured stores. Users live in PostgreSQL whenever a
// connection string is given, otherwise in memory.
func (f *StorageFlags) open(ctx context.Context, log zerolog.Logger) (*stores, error) {
	s := &stores{}

	if f.StoreType == "postgres" || f.Postgres.ConnString != "" {
		if err := f.Postgres.Validate(); err != nil {
			return nil, fmt.Errorf("failed to validate postgres flags: %w", err)
		}

		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      f.Postgres.ConnString,
			MaxConns:        f.Postgres.MaxConns,
			MinConns:        f.Postgres.MinConns,
			MaxConnLifetime: f.Postgres.MaxConnLifetime,
			MaxConnIdleTime: f.Postgres.MaxConnIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		s.closers = append(s.closers, pool.Close)

		if f.Postgres.AutoMigrate {
			if err := postgresstore.Migrate(ctx, pool); err != nil {
				s.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		s.users = postgresstore.NewUserStore(pool)
		if f.StoreType == "postgres" {
			s.sessions = postgresstore.NewSessionStore(pool)
		}
		log.Info().Msg("Using PostgreSQL user store")
	} else {
		s.users = memorystore.NewUserStore()
		log.Warn().Msg("Using in-memory user store, roles are lost on restart")
	}

	switch f.StoreType {
	case "postgres":
		log.Info().Msg("Using PostgreSQL session store")
	case "redis":
		client, err := redisstore.Connect(ctx, f.Redis.config())
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		s.sessions = redisstore.NewSessionStore(client, f.Redis.KeyPrefix)
		log.Info().Strs("addrs", f.Redis.Addrs).Msg("Using Redis session store")
	default:
		s.sessions = memorystore.NewSessionStore()
		log.Info().Msg("Using in-memory session store")
	}

	return s, nil
}
