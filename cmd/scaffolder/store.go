package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/backend/memory"
	"github.com/cschleiden/go-scaffolder/backend/monoprocess"
	"github.com/cschleiden/go-scaffolder/backend/mysql"
	"github.com/cschleiden/go-scaffolder/backend/postgres"
	redisbackend "github.com/cschleiden/go-scaffolder/backend/redis"
	"github.com/cschleiden/go-scaffolder/backend/sqlite"
	"github.com/cschleiden/go-scaffolder/internal/config"
)

// openBackend opens the task store selected in the configuration. Stores that are only reachable
// from this process are wrapped so dispatched tasks wake up waiting workers immediately.
func openBackend(cfg config.StoreConfig, opts ...backend.BackendOption) (backend.Backend, error) {
	opts = append([]backend.BackendOption{backend.WithHeartbeatTimeout(cfg.HeartbeatTimeout)}, opts...)

	switch cfg.Type {
	case "memory":
		return monoprocess.NewMonoprocessBackend(memory.NewMemoryBackend(opts...), 10, 0), nil

	case "sqlite":
		if cfg.SQLite.Path == "" {
			return monoprocess.NewMonoprocessBackend(
				sqlite.NewInMemoryBackend(sqlite.WithBackendOptions(opts...)), 10, 0), nil
		}

		return sqlite.NewSqliteBackend(cfg.SQLite.Path,
			sqlite.WithBackendOptions(opts...),
			sqlite.WithBusyTimeout(cfg.SQLite.BusyTimeout)), nil

	case "mysql":
		c := cfg.MySQL
		return mysql.NewMysqlBackend(c.Host, c.Port, c.User, c.Password, c.Database,
			mysql.WithBackendOptions(opts...),
			mysql.WithMaxOpenConns(c.MaxOpenConns)), nil

	case "postgres":
		c := cfg.Postgres
		return postgres.NewPostgresBackend(c.Host, c.Port, c.User, c.Password, c.Database,
			postgres.WithBackendOptions(opts...),
			postgres.WithMaxOpenConns(c.MaxOpenConns),
			postgres.WithSSLMode(c.SSLMode)), nil

	case "redis":
		c := cfg.Redis
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{c.Addr},
			Password: c.Password,
			DB:       c.DB,
		})

		redisOpts := []redisbackend.RedisBackendOption{
			redisbackend.WithBackendOptions(opts...),
			redisbackend.WithAutoExpiration(c.ExpireFinishedTasksAfter),
		}
		if c.KeyPrefix != "" {
			redisOpts = append(redisOpts, redisbackend.WithKeyPrefix(c.KeyPrefix))
		}

		b, err := redisbackend.NewRedisBackend(client, redisOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating redis backend: %w", err)
		}

		return b, nil
	}

	return nil, fmt.Errorf("unknown store type %q", cfg.Type)
}
