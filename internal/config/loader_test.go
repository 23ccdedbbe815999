package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	return p
}

func Test_Load_Defaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func Test_Load_File(t *testing.T) {
	p := writeFile(t, "scaffolder.yaml", `
store:
  type: postgres
  heartbeat_timeout: 30s
  postgres:
    host: db
    port: 5433
    max_open_conns: 8
    ssl_mode: require
worker:
  pollers: 4
`)

	cfg, err := Load(p, "")
	require.NoError(t, err)

	require.Equal(t, "postgres", cfg.Store.Type)
	require.Equal(t, 30*time.Second, cfg.Store.HeartbeatTimeout)
	require.Equal(t, "db", cfg.Store.Postgres.Host)
	require.Equal(t, 5433, cfg.Store.Postgres.Port)
	require.Equal(t, "postgres", cfg.Store.Postgres.User)
	require.Equal(t, 8, cfg.Store.Postgres.MaxOpenConns)
	require.Equal(t, "require", cfg.Store.Postgres.SSLMode)
	require.Equal(t, 4, cfg.Worker.Pollers)
	require.Equal(t, 25*time.Second, cfg.Worker.HeartbeatInterval)
}

func Test_Load_EnvOverridesFile(t *testing.T) {
	p := writeFile(t, "scaffolder.yaml", `
store:
  type: sqlite
http:
  addr: ":4000"
`)

	t.Setenv("SCAFFOLDER_STORE_SQLITE_PATH", "/var/lib/scaffolder.db")
	t.Setenv("SCAFFOLDER_HTTP_ADDR", ":5000")
	t.Setenv("SCAFFOLDER_WORKER_HEARTBEAT_INTERVAL", "5s")
	t.Setenv("SCAFFOLDER_WORKER_MAX_PARALLEL_TASKS", "8")
	t.Setenv("SCAFFOLDER_UNKNOWN_SETTING", "ignored")

	cfg, err := Load(p, "")
	require.NoError(t, err)

	require.Equal(t, "sqlite", cfg.Store.Type)
	require.Equal(t, "/var/lib/scaffolder.db", cfg.Store.SQLite.Path)
	require.Equal(t, ":5000", cfg.HTTP.Addr)
	require.Equal(t, 5*time.Second, cfg.Worker.HeartbeatInterval)
	require.Equal(t, 8, cfg.Worker.MaxParallelTasks)
}

func Test_Load_EnvFile(t *testing.T) {
	p := writeFile(t, ".env", "SCAFFOLDER_LOG_LEVEL=debug\nSCAFFOLDER_TRACING_EXPORTER=stdout\n")

	// Variables already set win over the env file
	t.Setenv("SCAFFOLDER_TRACING_EXPORTER", "otlp")
	t.Cleanup(func() {
		os.Unsetenv("SCAFFOLDER_LOG_LEVEL")
	})

	cfg, err := Load("", p)
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "otlp", cfg.Tracing.Exporter)
}

func Test_Load_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
}

func Test_Load_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown store", "store:\n  type: cassandra\n"},
		{"no pollers", "worker:\n  pollers: 0\n"},
		{"invalid duration", "worker:\n  heartbeat_interval: soon\n"},
		{"invalid yaml", "store: [\n"},
		{"invalid log level", "log:\n  level: verbose\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "scaffolder.yaml", tt.content), "")
			require.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.Error(t, err)
}

func Test_EnvName(t *testing.T) {
	require.Equal(t, "SCAFFOLDER_STORE_REDIS_KEY_PREFIX", EnvName("store.redis.key_prefix"))
}
