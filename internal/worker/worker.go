package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cschleiden/go-scaffolder/internal/log"
)

type TaskWorker[Task, Result any] interface {
	// Get blocks until a task is available. It returns nil if there was none before the
	// context was done.
	Get(context.Context) (*Task, error)
	Extend(context.Context, *Task) error
	Execute(context.Context, *Task) (*Result, error)
	Complete(context.Context, *Result, *Task) error
}

type WorkerOptions struct {
	Pollers int

	MaxParallelTasks int

	HeartbeatInterval time.Duration

	// PollTimeout bounds a single call to Get. Defaults to 30 seconds.
	PollTimeout time.Duration
}

type Worker[Task, TaskResult any] struct {
	options *WorkerOptions

	tw TaskWorker[Task, TaskResult]

	workQueue *workQueue

	logger *slog.Logger

	clock clock.Clock

	pollersWg sync.WaitGroup

	tasksWg sync.WaitGroup
}

func NewWorker[Task, TaskResult any](
	tw TaskWorker[Task, TaskResult], logger *slog.Logger, clk clock.Clock, options *WorkerOptions,
) *Worker[Task, TaskResult] {
	if options.Pollers <= 0 {
		options.Pollers = 1
	}

	return &Worker[Task, TaskResult]{
		tw:        tw,
		options:   options,
		workQueue: newWorkQueue(options.MaxParallelTasks),
		logger:    logger,
		clock:     clk,
	}
}

func (w *Worker[Task, TaskResult]) Start(ctx context.Context) error {
	w.pollersWg.Add(w.options.Pollers)

	for i := 0; i < w.options.Pollers; i++ {
		go w.poller(ctx, i)
	}

	return nil
}

// WaitForCompletion waits for all pollers to stop and all claimed tasks to finish.
func (w *Worker[Task, TaskResult]) WaitForCompletion() error {
	w.pollersWg.Wait()

	w.tasksWg.Wait()

	return nil
}

func (w *Worker[Task, TaskResult]) poller(ctx context.Context, id int) {
	defer w.pollersWg.Done()

	logger := w.logger.With(log.PollerKey, id)

	for {
		if err := w.workQueue.reserve(ctx); err != nil {
			return
		}

		task, err := w.poll(ctx, w.options.PollTimeout)
		if err != nil {
			logger.ErrorContext(ctx, "error polling task", "error", err)
		}

		if task == nil {
			w.workQueue.release()

			if ctx.Err() != nil {
				return
			}

			continue
		}

		w.tasksWg.Add(1)
		go func() {
			defer w.tasksWg.Done()
			defer w.workQueue.release()

			// Create new context to allow tasks to complete when root context is canceled
			taskCtx := context.WithoutCancel(ctx)
			if err := w.handle(taskCtx, task); err != nil {
				logger.ErrorContext(taskCtx, "error handling task", "error", err)
			}
		}()
	}
}

func (w *Worker[Task, TaskResult]) handle(ctx context.Context, t *Task) error {
	if w.options.HeartbeatInterval > 0 {
		// Start heartbeat while processing task
		heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
		defer cancelHeartbeat()
		go w.heartbeatTask(heartbeatCtx, t)
	}

	result, err := w.tw.Execute(ctx, t)
	if err != nil {
		return fmt.Errorf("executing task: %w", err)
	}

	if err := w.tw.Complete(ctx, result, t); err != nil {
		return fmt.Errorf("completing task: %w", err)
	}

	return nil
}

func (w *Worker[Task, TaskResult]) heartbeatTask(ctx context.Context, task *Task) {
	t := w.clock.Ticker(w.options.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.tw.Extend(ctx, task); err != nil {
				w.logger.ErrorContext(ctx, "could not heartbeat task", "error", err)
			}
		}
	}
}

func (w *Worker[Task, TaskResult]) poll(ctx context.Context, timeout time.Duration) (*Task, error) {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	task, err := w.tw.Get(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, nil
		}

		return nil, err
	}

	return task, nil
}
