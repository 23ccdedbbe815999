// Package config loads the configuration of the scaffolder command.
package config

import (
	"time"
)

type Config struct {
	Store StoreConfig `koanf:"store"`

	Worker WorkerConfig `koanf:"worker"`

	HTTP HTTPConfig `koanf:"http"`

	Tracing TracingConfig `koanf:"tracing"`

	Log LogConfig `koanf:"log"`
}

type StoreConfig struct {
	Type string `koanf:"type" validate:"oneof=memory sqlite mysql postgres redis"`

	// HeartbeatTimeout after which a processing task may be claimed by another worker
	HeartbeatTimeout time.Duration `koanf:"heartbeat_timeout" validate:"gt=0"`

	SQLite SQLiteConfig `koanf:"sqlite"`

	MySQL DatabaseConfig `koanf:"mysql"`

	Postgres DatabaseConfig `koanf:"postgres"`

	Redis RedisConfig `koanf:"redis"`
}

type SQLiteConfig struct {
	// Path of the database file. An empty path uses an in-memory database.
	Path string `koanf:"path"`

	// BusyTimeout a write waits for a lock held by another process
	BusyTimeout time.Duration `koanf:"busy_timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" validate:"gte=0,lte=65535"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`

	// MaxOpenConns limits the connection pool, 0 keeps the driver default
	MaxOpenConns int `koanf:"max_open_conns" validate:"gte=0"`

	// SSLMode of postgres connections
	SSLMode string `koanf:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
}

type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db" validate:"gte=0"`
	KeyPrefix string `koanf:"key_prefix"`

	// ExpireFinishedTasksAfter removes terminal tasks and their events after the given duration
	ExpireFinishedTasksAfter time.Duration `koanf:"expire_finished_tasks_after" validate:"gte=0"`
}

type WorkerConfig struct {
	Pollers int `koanf:"pollers" validate:"gte=1"`

	// MaxParallelTasks limits the number of concurrently running tasks, 0 means unlimited
	MaxParallelTasks int `koanf:"max_parallel_tasks" validate:"gte=0"`

	HeartbeatInterval time.Duration `koanf:"heartbeat_interval" validate:"gt=0"`

	WorkingDirectory string `koanf:"working_directory"`
}

type HTTPConfig struct {
	// Addr the diagnostics and metrics server listens on. Empty disables the server.
	Addr string `koanf:"addr"`
}

type TracingConfig struct {
	Exporter string `koanf:"exporter" validate:"oneof=none stdout otlp"`

	// Endpoint of the OTLP/HTTP collector, defaults to the exporter's default
	Endpoint string `koanf:"endpoint"`

	ServiceName string `koanf:"service_name" validate:"required"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`

	Format string `koanf:"format" validate:"oneof=text json"`
}

func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Type:             "memory",
			HeartbeatTimeout: 2 * time.Minute,
			SQLite: SQLiteConfig{
				BusyTimeout: 10 * time.Second,
			},
			MySQL: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Database: "scaffolder",
			},
			Postgres: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Database: "scaffolder",
			},
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Worker: WorkerConfig{
			Pollers:           1,
			HeartbeatInterval: 25 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: ":3000",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "scaffolder",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
