// Package broker is the facade producers and workers use to interact with the task store.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/backend/metrics"
	"github.com/cschleiden/go-scaffolder/core"
	"github.com/cschleiden/go-scaffolder/internal/log"
	"github.com/cschleiden/go-scaffolder/internal/metrickeys"
	"github.com/cschleiden/go-scaffolder/internal/tracing"
)

var ErrTaskNotFinished = errors.New("task did not finish in specified timeout")

// TaskBroker is the part of the broker task producers and workers depend on.
type TaskBroker interface {
	Dispatch(ctx context.Context, spec *core.TaskSpec, opts ...DispatchOption) (*DispatchResult, error)

	// Claim blocks until a task could be claimed or the context is done.
	Claim(ctx context.Context) (Task, error)

	Get(ctx context.Context, taskID string) (*TaskState, error)

	ListEvents(ctx context.Context, taskID string, afterEventID *int64) ([]*core.TaskEvent, error)

	Cancel(ctx context.Context, taskID string) error
}

type DispatchResult struct {
	TaskID string `json:"taskId"`
}

// TaskState is a snapshot of a task and every event recorded for it.
type TaskState struct {
	Task   *core.Task        `json:"task"`
	Events []*core.TaskEvent `json:"events"`
}

type Broker struct {
	backend backend.Backend

	options Options

	clock    clock.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  metrics.Client
	validate *validator.Validate
}

var _ TaskBroker = (*Broker)(nil)

func New(b backend.Backend, opts ...Option) *Broker {
	options := DefaultOptions
	for _, opt := range opts {
		opt(&options)
	}

	bo := b.Options()

	return &Broker{
		backend:  b,
		options:  options,
		clock:    bo.Clock,
		logger:   bo.Logger,
		tracer:   tracing.Tracer(bo.TracerProvider),
		metrics:  bo.Metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Backend returns the store the broker operates on.
func (b *Broker) Backend() backend.Backend {
	return b.backend
}

// Dispatch persists a new task for the given spec. It returns as soon as the task is stored, the
// task is executed by whichever worker claims it first.
func (b *Broker) Dispatch(ctx context.Context, spec *core.TaskSpec, opts ...DispatchOption) (*DispatchResult, error) {
	if spec == nil {
		return nil, errors.New("task spec is required")
	}

	if err := b.validate.Struct(spec); err != nil {
		return nil, fmt.Errorf("invalid task spec: %w", err)
	}

	var options dispatchOptions
	for _, opt := range opts {
		opt(&options)
	}

	ctx, span := b.tracer.Start(ctx, "Dispatch", trace.WithAttributes(
		attribute.Int(tracing.TaskSteps, len(spec.Steps)),
	))
	defer span.End()

	taskID, err := b.backend.CreateTask(ctx, spec, options.secrets)
	if err != nil {
		return nil, tracing.WithSpanError(span, fmt.Errorf("creating task: %w", err))
	}

	span.SetAttributes(attribute.String(tracing.TaskID, taskID))

	b.logger.Debug("Dispatched task", log.TaskIDKey, taskID)

	b.metrics.Counter(metrickeys.TaskDispatched, metrics.Tags{}, 1)

	return &DispatchResult{TaskID: taskID}, nil
}

// Get returns the task together with its complete event log.
func (b *Broker) Get(ctx context.Context, taskID string) (*TaskState, error) {
	t, err := b.backend.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}

	events, err := b.backend.ListEvents(ctx, taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	return &TaskState{
		Task:   t,
		Events: events,
	}, nil
}

// ListEvents returns the events of the task, optionally only those after the given event id.
func (b *Broker) ListEvents(ctx context.Context, taskID string, afterEventID *int64) ([]*core.TaskEvent, error) {
	return b.backend.ListEvents(ctx, taskID, afterEventID)
}

// Cancel marks an open or processing task as cancelled. A worker running the task stops before
// its next step.
func (b *Broker) Cancel(ctx context.Context, taskID string) error {
	ctx, span := b.tracer.Start(ctx, "Cancel", trace.WithAttributes(
		attribute.String(tracing.TaskID, taskID),
	))
	defer span.End()

	if err := b.backend.CancelTask(ctx, taskID); err != nil {
		return tracing.WithSpanError(span, fmt.Errorf("cancelling task: %w", err))
	}

	b.logger.Debug("Cancelled task", log.TaskIDKey, taskID)

	b.metrics.Counter(metrickeys.TaskCancelled, metrics.Tags{}, 1)

	return nil
}

// WaitForTask waits for the given task to reach a terminal status or until the given timeout has
// expired.
func (b *Broker) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*core.Task, error) {
	if timeout == 0 {
		timeout = b.options.WaitTimeout
	}

	ctx, span := b.tracer.Start(ctx, "WaitForTask", trace.WithAttributes(
		attribute.String(tracing.TaskID, taskID),
	))
	defer span.End()

	bo := backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond * 1,
		MaxInterval:         time.Second * 1,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      timeout,
		Stop:                backoff.Stop,
		Clock:               b.clock,
	}
	bo.Reset()

	ticker := backoff.NewTickerWithTimer(&bo, &backoffTimer{clock: b.clock})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case _, ok := <-ticker.C:
			if !ok {
				return nil, ErrTaskNotFinished
			}

			t, err := b.backend.GetTask(ctx, taskID)
			if err != nil {
				return nil, fmt.Errorf("getting task: %w", err)
			}

			if t.Status.Terminal() {
				return t, nil
			}
		}
	}
}

// Claim blocks until a task could be claimed from the store or the given context is done.
// Errors returned by the store are retried with an exponential backoff.
func (b *Broker) Claim(ctx context.Context) (Task, error) {
	bo := b.retryBackoff(0)
	attempt := 0

	for {
		t, err := b.claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			attempt++
			wait := bo.NextBackOff()
			b.logger.Warn("Could not claim task, retrying", log.AttemptKey, attempt, "error", err, "retry_in", wait)

			if !b.sleep(ctx, wait) {
				return nil, ctx.Err()
			}

			continue
		}

		bo.Reset()
		attempt = 0

		if t != nil {
			return t, nil
		}

		if !b.sleep(ctx, b.options.PollingInterval) {
			return nil, ctx.Err()
		}
	}
}

func (b *Broker) claim(ctx context.Context) (*task, error) {
	t, err := b.backend.ClaimTask(ctx)
	if err != nil {
		return nil, err
	}

	if t == nil {
		return nil, nil
	}

	b.logger.Debug("Claimed task", log.TaskIDKey, t.ID)

	b.metrics.Counter(metrickeys.TaskClaimed, metrics.Tags{}, 1)
	b.metrics.Distribution(metrickeys.TaskDelay, metrics.Tags{}, float64(b.clock.Since(t.CreatedAt)/time.Millisecond))

	return &task{
		broker: b,
		task:   t,
	}, nil
}

func (b *Broker) retryBackoff(maxElapsed time.Duration) *backoff.ExponentialBackOff {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      maxElapsed,
		Stop:                backoff.Stop,
		Clock:               b.clock,
	}
	bo.Reset()

	return bo
}

func (b *Broker) sleep(ctx context.Context, d time.Duration) bool {
	t := b.clock.Timer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoffTimer adapts the broker's clock to the backoff package.
type backoffTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *backoffTimer) Start(duration time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.Timer(duration)
	} else {
		t.timer.Reset(duration)
	}
}

func (t *backoffTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *backoffTimer) C() <-chan time.Time {
	return t.timer.C
}
