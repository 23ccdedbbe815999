package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/cschleiden/go-scaffolder/action"
	"github.com/cschleiden/go-scaffolder/broker"
	im "github.com/cschleiden/go-scaffolder/internal/metrics"
	internal "github.com/cschleiden/go-scaffolder/internal/worker"
	"github.com/cschleiden/go-scaffolder/registry"
)

type Worker struct {
	options Options

	broker broker.TaskBroker

	registry *registry.Registry

	runner *internal.Runner

	worker worker
}

type worker interface {
	Start(context.Context) error
	WaitForCompletion() error
}

// New creates a worker that claims tasks from the given broker and executes them with the
// actions of the given registry. If registry is nil, an empty registry is created.
func New(b broker.TaskBroker, r *registry.Registry, options *Options) *Worker {
	if options == nil {
		options = &DefaultOptions
	}

	o := *options
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	if o.Metrics == nil {
		o.Metrics = im.NewNoopMetricsClient()
	}

	if o.Clock == nil {
		o.Clock = clock.New()
	}

	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultOptions.HeartbeatInterval
	}

	if o.WorkingDirectory == "" {
		o.WorkingDirectory = DefaultOptions.WorkingDirectory
	}

	if r == nil {
		r = registry.New()
	}

	runner := internal.NewRunner(r, internal.RunnerOptions{
		WorkingDirectory: o.WorkingDirectory,
		Logger:           o.Logger,
		TracerProvider:   o.TracerProvider,
		Metrics:          o.Metrics,
		Clock:            o.Clock,
	})

	tw := internal.NewTaskWorker(b, runner, o.Logger, o.Metrics, o.Clock, &internal.WorkerOptions{
		Pollers:           o.Pollers,
		MaxParallelTasks:  o.MaxParallelTasks,
		HeartbeatInterval: o.HeartbeatInterval,
	})

	return &Worker{
		options:  o,
		broker:   b,
		registry: r,
		runner:   runner,
		worker:   tw,
	}
}

// Start starts the worker.
//
// To stop the worker, cancel the context passed to Start. To wait for completion of the active
// tasks, call `WaitForCompletion`.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.worker.Start(ctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	return nil
}

// WaitForCompletion waits for all active tasks to complete.
func (w *Worker) WaitForCompletion() error {
	if err := w.worker.WaitForCompletion(); err != nil {
		return fmt.Errorf("waiting for worker completion: %w", err)
	}

	return nil
}

// RunOneTask executes a task that was claimed by the caller and records its result.
func (w *Worker) RunOneTask(ctx context.Context, t broker.Task) error {
	result := w.runner.Run(ctx, t)

	if err := t.Complete(ctx, result.Status, result.Body); err != nil {
		return fmt.Errorf("completing task: %w", err)
	}

	return nil
}

// RegisterAction registers an action with the worker's registry.
func (w *Worker) RegisterAction(a *action.Action, opts ...registry.RegisterOption) error {
	return w.registry.Register(a, opts...)
}
