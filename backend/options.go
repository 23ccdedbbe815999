package backend

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/cschleiden/go-scaffolder/backend/metrics"
	mi "github.com/cschleiden/go-scaffolder/internal/metrics"
)

type Options struct {
	Logger *slog.Logger

	Metrics metrics.Client

	TracerProvider trace.TracerProvider

	Clock clock.Clock

	// HeartbeatTimeout determines how long a processing task may go without a heartbeat. After
	// that it's considered abandoned and another worker might claim it.
	HeartbeatTimeout time.Duration
}

var DefaultOptions Options = Options{
	HeartbeatTimeout: 2 * time.Minute,

	Logger:         slog.Default(),
	Metrics:        mi.NewNoopMetricsClient(),
	TracerProvider: trace.NewNoopTracerProvider(),
	Clock:          clock.New(),
}

type BackendOption func(*Options)

func WithLogger(logger *slog.Logger) BackendOption {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(client metrics.Client) BackendOption {
	return func(o *Options) {
		o.Metrics = client
	}
}

func WithTracerProvider(tp trace.TracerProvider) BackendOption {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

func WithClock(clk clock.Clock) BackendOption {
	return func(o *Options) {
		o.Clock = clk
	}
}

func WithHeartbeatTimeout(timeout time.Duration) BackendOption {
	return func(o *Options) {
		o.HeartbeatTimeout = timeout
	}
}

func ApplyOptions(opts ...BackendOption) Options {
	options := DefaultOptions

	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	if options.Clock == nil {
		options.Clock = clock.New()
	}

	return options
}

// IsStale reports whether a processing task with the given last heartbeat may be reclaimed.
func (o *Options) IsStale(lastHeartbeat *time.Time) bool {
	if lastHeartbeat == nil {
		return true
	}

	return !lastHeartbeat.After(o.Clock.Now().Add(-o.HeartbeatTimeout))
}
