package worker

import (
	"log/slog"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/cschleiden/go-scaffolder/backend/metrics"
)

type Options struct {
	// Pollers is the number of pollers claiming tasks. Defaults to 1.
	Pollers int

	// MaxParallelTasks determines the maximum number of concurrent tasks processed by the worker.
	// The default is 0 which is no limit.
	MaxParallelTasks int

	// HeartbeatInterval is the interval between heartbeats sent for a running task. Has to be
	// shorter than the heartbeat timeout of the store. Defaults to 25 seconds.
	HeartbeatInterval time.Duration

	// WorkingDirectory is the directory task workspaces and temporary step directories are
	// created in. Defaults to the OS temp directory.
	WorkingDirectory string

	Logger *slog.Logger

	TracerProvider trace.TracerProvider

	Metrics metrics.Client

	Clock clock.Clock
}

var DefaultOptions = Options{
	Pollers:           1,
	MaxParallelTasks:  0,
	HeartbeatInterval: 25 * time.Second,
	WorkingDirectory:  os.TempDir(),
}
