package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/backend/metrics"
	"github.com/cschleiden/go-scaffolder/core"
	"github.com/cschleiden/go-scaffolder/internal/log"
	"github.com/cschleiden/go-scaffolder/internal/metrickeys"
	"github.com/cschleiden/go-scaffolder/internal/tracing"
)

// Task is a claimed task as seen by the worker executing it.
type Task interface {
	ID() string

	Spec() *core.TaskSpec

	Secrets() core.Secrets

	CreatedAt() time.Time

	// WorkspaceName is a directory name derived from the task id
	WorkspaceName() string

	// EmitLog appends a log event to the task's event log
	EmitLog(ctx context.Context, message string, metadata map[string]any) error

	// Complete records the final result of the task. Store errors are retried for a bounded
	// time, if that is exhausted the task stays claimed and becomes eligible for re-claim once
	// its heartbeat went stale.
	Complete(ctx context.Context, status core.TaskStatus, body *core.CompletionBody) error

	// Heartbeat proves the worker is still processing the task
	Heartbeat(ctx context.Context) error

	// Cancelled returns true once the task was cancelled externally
	Cancelled(ctx context.Context) (bool, error)
}

type task struct {
	broker *Broker
	task   *core.Task
}

var _ Task = (*task)(nil)

func (t *task) ID() string {
	return t.task.ID
}

func (t *task) Spec() *core.TaskSpec {
	return t.task.Spec
}

func (t *task) Secrets() core.Secrets {
	return t.task.Secrets
}

func (t *task) CreatedAt() time.Time {
	return t.task.CreatedAt
}

func (t *task) WorkspaceName() string {
	return WorkspaceName(t.task.ID)
}

// WorkspaceName returns the name of the workspace directory for the task with the given id.
func WorkspaceName(taskID string) string {
	return "task-" + taskID
}

func (t *task) EmitLog(ctx context.Context, message string, metadata map[string]any) error {
	return t.broker.backend.EmitLogEvent(ctx, t.task.ID, message, metadata)
}

func (t *task) Heartbeat(ctx context.Context) error {
	return t.broker.backend.HeartbeatTask(ctx, t.task.ID)
}

func (t *task) Cancelled(ctx context.Context) (bool, error) {
	s, err := t.broker.backend.GetTask(ctx, t.task.ID)
	if err != nil {
		return false, err
	}

	return s.Status == core.TaskStatusCancelled, nil
}

func (t *task) Complete(ctx context.Context, status core.TaskStatus, body *core.CompletionBody) error {
	b := t.broker

	ctx, span := b.tracer.Start(ctx, "CompleteTask", trace.WithAttributes(
		attribute.String(tracing.TaskID, t.task.ID),
		attribute.String(tracing.TaskStatus, string(status)),
	))
	defer span.End()

	bo := b.retryBackoff(b.options.CompletionRetryTimeout)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		err := b.backend.CompleteTask(ctx, t.task.ID, status, body)
		if errors.Is(err, backend.ErrTaskNotFound) || errors.Is(err, backend.ErrTaskNotClaimed) {
			return backoff.Permanent(err)
		}

		return err
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		attempt++
		b.logger.Warn("Could not complete task, retrying",
			log.TaskIDKey, t.task.ID,
			log.TaskStatusKey, status,
			log.AttemptKey, attempt,
			"error", err,
			"retry_in", wait,
		)
	})
	if err != nil {
		return tracing.WithSpanError(span, fmt.Errorf("completing task: %w", err))
	}

	b.metrics.Counter(metrickeys.TaskFinished, metrics.Tags{metrickeys.Status: string(status)}, 1)

	return nil
}
