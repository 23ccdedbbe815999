package monoprocess

import (
	"context"
	"log/slog"
	"time"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/core"
)

type monoprocessBackend struct {
	backend.Backend

	taskSignal  chan struct{}
	waitTimeout time.Duration

	logger *slog.Logger
}

// NewMonoprocessBackend wraps an existing backend and improves its responsiveness
// in case the backend and worker are running in the same process. This backend
// uses channels to notify the worker every time there is a new task ready to be
// worked on. Note that only one worker will be notified. CreateTask never waits for a
// worker, a signal that does not fit into the buffer is dropped.
//
// When no task is available, ClaimTask waits up to waitTimeout for a signal before
// returning. Stale tasks are only discovered once that wait ends.
//
// IMPORTANT: Only use this backend if the backend and worker are running in the
// same process.
func NewMonoprocessBackend(b backend.Backend, signalBufferSize int, waitTimeout time.Duration) *monoprocessBackend {
	if waitTimeout <= 0 {
		waitTimeout = time.Second
	}

	return &monoprocessBackend{
		Backend:     b,
		taskSignal:  make(chan struct{}, signalBufferSize),
		waitTimeout: waitTimeout,
		logger:      b.Options().Logger,
	}
}

func (b *monoprocessBackend) ClaimTask(ctx context.Context) (*core.Task, error) {
	if t, err := b.Backend.ClaimTask(ctx); t != nil || err != nil {
		return t, err
	}

	b.logger.DebugContext(ctx, "worker waiting for task signal")

	timer := time.NewTimer(b.waitTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return b.Backend.ClaimTask(ctx)
	case <-b.taskSignal:
		b.logger.DebugContext(ctx, "worker got a task signal")
		return b.Backend.ClaimTask(ctx)
	}
}

func (b *monoprocessBackend) CreateTask(ctx context.Context, spec *core.TaskSpec, secrets core.Secrets) (string, error) {
	id, err := b.Backend.CreateTask(ctx, spec, secrets)
	if err != nil {
		return "", err
	}

	b.notifyWorker(ctx)

	return id, nil
}

func (b *monoprocessBackend) notifyWorker(ctx context.Context) bool {
	select {
	case b.taskSignal <- struct{}{}:
		b.logger.DebugContext(ctx, "signalled a new task to worker")
		return true
	default:
		// Waiting claimers fall back to polling after waitTimeout
		b.logger.DebugContext(ctx, "no worker waiting for task signal")
		return false
	}
}
