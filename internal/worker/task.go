package worker

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/cschleiden/go-scaffolder/backend/metrics"
	"github.com/cschleiden/go-scaffolder/broker"
	"github.com/cschleiden/go-scaffolder/internal/log"
	"github.com/cschleiden/go-scaffolder/internal/metrickeys"
)

// ClaimedTask is a task claimed by one of the worker's pollers.
type ClaimedTask struct {
	broker.Task
}

type taskWorker struct {
	broker  broker.TaskBroker
	runner  *Runner
	logger  *slog.Logger
	metrics metrics.Client

	running atomic.Int64
}

var _ TaskWorker[ClaimedTask, Result] = (*taskWorker)(nil)

// NewTaskWorker returns a worker which claims tasks from the broker and runs them with the given
// runner.
func NewTaskWorker(
	b broker.TaskBroker, runner *Runner, logger *slog.Logger, mc metrics.Client, clk clock.Clock, options *WorkerOptions,
) *Worker[ClaimedTask, Result] {
	tw := &taskWorker{
		broker:  b,
		runner:  runner,
		logger:  logger,
		metrics: mc,
	}

	return NewWorker[ClaimedTask, Result](tw, logger, clk, options)
}

func (tw *taskWorker) Get(ctx context.Context) (*ClaimedTask, error) {
	t, err := tw.broker.Claim(ctx)
	if err != nil {
		return nil, err
	}

	tw.logger.DebugContext(ctx, "Claimed task", log.TaskIDKey, t.ID())

	return &ClaimedTask{Task: t}, nil
}

func (tw *taskWorker) Extend(ctx context.Context, t *ClaimedTask) error {
	if err := t.Heartbeat(ctx); err != nil {
		tw.metrics.Counter(metrickeys.HeartbeatFailed, metrics.Tags{}, 1)
		return err
	}

	return nil
}

func (tw *taskWorker) Execute(ctx context.Context, t *ClaimedTask) (*Result, error) {
	tw.metrics.Gauge(metrickeys.TasksRunning, metrics.Tags{}, tw.running.Add(1))
	defer func() {
		tw.metrics.Gauge(metrickeys.TasksRunning, metrics.Tags{}, tw.running.Add(-1))
	}()

	return tw.runner.Run(ctx, t.Task), nil
}

func (tw *taskWorker) Complete(ctx context.Context, result *Result, t *ClaimedTask) error {
	if err := t.Complete(ctx, result.Status, result.Body); err != nil {
		return err
	}

	tw.logger.DebugContext(ctx, "Completed task", log.TaskIDKey, t.ID(), log.TaskStatusKey, result.Status)

	return nil
}
