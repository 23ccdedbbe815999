package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cschleiden/go-scaffolder/action"
	"github.com/cschleiden/go-scaffolder/backend/metrics"
	"github.com/cschleiden/go-scaffolder/broker"
	"github.com/cschleiden/go-scaffolder/core"
	"github.com/cschleiden/go-scaffolder/internal/log"
	"github.com/cschleiden/go-scaffolder/internal/metrickeys"
	im "github.com/cschleiden/go-scaffolder/internal/metrics"
	"github.com/cschleiden/go-scaffolder/internal/taskerrors"
	"github.com/cschleiden/go-scaffolder/internal/tracing"
	"github.com/cschleiden/go-scaffolder/registry"
	"github.com/cschleiden/go-scaffolder/template"
)

const (
	stepStatusProcessing = "processing"
	stepStatusCompleted  = "completed"
	stepStatusSkipped    = "skipped"
	stepStatusFailed     = "failed"
)

// Result is the outcome of running a task, ready to be passed to Complete.
type Result struct {
	Status core.TaskStatus
	Body   *core.CompletionBody
}

type RunnerOptions struct {
	// WorkingDirectory is the directory task workspaces are created in
	WorkingDirectory string

	Logger *slog.Logger

	TracerProvider trace.TracerProvider

	Metrics metrics.Client

	Clock clock.Clock
}

// Runner executes the steps of a single task.
type Runner struct {
	registry *registry.Registry

	workingDirectory string

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics metrics.Client
	clock   clock.Clock
}

func NewRunner(r *registry.Registry, options RunnerOptions) *Runner {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	if options.Metrics == nil {
		options.Metrics = im.NewNoopMetricsClient()
	}

	if options.Clock == nil {
		options.Clock = clock.New()
	}

	if options.WorkingDirectory == "" {
		options.WorkingDirectory = os.TempDir()
	}

	return &Runner{
		registry:         r,
		workingDirectory: options.WorkingDirectory,
		logger:           options.Logger,
		tracer:           tracing.Tracer(options.TracerProvider),
		metrics:          options.Metrics,
		clock:            options.Clock,
	}
}

// Run executes every step of the task in order and returns the result the task should be
// completed with. Step failures are reported as a failed result, never as an error.
func (r *Runner) Run(ctx context.Context, t broker.Task) *Result {
	spec := t.Spec()
	if spec == nil {
		spec = &core.TaskSpec{}
	}

	ctx, span := r.tracer.Start(ctx, "RunTask", trace.WithAttributes(
		attribute.String(tracing.TaskID, t.ID()),
		attribute.Int(tracing.TaskSteps, len(spec.Steps)),
	))
	defer span.End()

	timer := im.NewTimer(r.metrics, r.clock, metrickeys.TaskDuration, metrics.Tags{})
	defer timer.Stop()

	logger := r.logger.With(log.TaskIDKey, t.ID())

	workspacePath := filepath.Join(r.workingDirectory, t.WorkspaceName())
	defer func() {
		if err := os.RemoveAll(workspacePath); err != nil {
			logger.ErrorContext(ctx, "could not remove workspace", "path", workspacePath, "error", err)
		}
	}()

	if err := os.MkdirAll(workspacePath, 0o755); err != nil {
		return failed(span, fmt.Errorf("creating workspace: %w", err))
	}

	r.emit(ctx, logger, t, fmt.Sprintf("Starting up task with %d steps", len(spec.Steps)), nil)

	values := spec.Values
	if values == nil {
		values = map[string]any{}
	}

	steps := map[string]any{}
	templateCtx := map[string]any{
		"parameters": values,
		"steps":      steps,
	}

	for _, step := range spec.Steps {
		cancelled, err := t.Cancelled(ctx)
		if err != nil {
			logger.WarnContext(ctx, "could not check task for cancellation", "error", err)
		} else if cancelled {
			r.emit(ctx, logger, t, "Task was cancelled, skipping remaining steps", map[string]any{"stepId": step.ID})
			logger.DebugContext(ctx, "Task cancelled", log.StepIDKey, step.ID)

			span.SetAttributes(attribute.String(tracing.TaskStatus, string(core.TaskStatusCancelled)))
			return &Result{Status: core.TaskStatusCancelled}
		}

		output, err := r.runStep(ctx, logger, t, spec.BaseURL, step, workspacePath, templateCtx)
		if err != nil {
			return failed(span, err)
		}

		if output != nil {
			steps[step.ID] = map[string]any{"output": output}
		}
	}

	output, err := template.RenderObject(spec.Output, templateCtx)
	if err != nil {
		return failed(span, err)
	}

	span.SetAttributes(attribute.String(tracing.TaskStatus, string(core.TaskStatusCompleted)))

	return &Result{
		Status: core.TaskStatusCompleted,
		Body:   &core.CompletionBody{Output: output},
	}
}

// runStep executes a single step. It returns the step's outputs, or nil if the step was skipped.
func (r *Runner) runStep(
	ctx context.Context, logger *slog.Logger, t broker.Task, baseURL string, step core.Step, workspacePath string, templateCtx map[string]any,
) (_ map[string]any, err error) {
	logger = logger.With(log.StepIDKey, step.ID, log.StepNameKey, step.Name, log.ActionIDKey, step.Action)

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("Step: %s", step.Name), trace.WithAttributes(
		attribute.String(tracing.StepID, step.ID),
		attribute.String(tracing.StepName, step.Name),
		attribute.String(tracing.ActionID, step.Action),
	))
	defer span.End()

	stepMetrics := r.metrics.WithTags(metrics.Tags{metrickeys.ActionID: step.Action})

	status := stepStatusFailed
	defer func() {
		stepMetrics.Counter(metrickeys.StepProcessed, metrics.Tags{metrickeys.Status: status}, 1)
	}()

	defer func() {
		if err != nil {
			tracing.WithSpanError(span, err)
			r.emit(ctx, logger, t, taskerrors.Stack(err), stepMetadata(step, stepStatusFailed))
		}
	}()

	if step.If != nil {
		run, err := shouldRun(step.If, templateCtx)
		if err != nil {
			return nil, err
		}

		if !run {
			status = stepStatusSkipped
			r.emit(ctx, logger, t, fmt.Sprintf("Skipping step %s", step.Name), stepMetadata(step, stepStatusSkipped))
			return nil, nil
		}
	}

	r.emit(ctx, logger, t, fmt.Sprintf("Beginning step %s", step.Name), stepMetadata(step, stepStatusProcessing))

	a, err := r.registry.Get(step.Action)
	if err != nil {
		return nil, err
	}

	input, err := template.RenderObject(step.Input, templateCtx)
	if err != nil {
		return nil, err
	}

	if err := a.Schema.ValidateInput(a.ID, input); err != nil {
		return nil, err
	}

	timer := im.NewTimer(stepMetrics, r.clock, metrickeys.StepDuration, metrics.Tags{})
	defer timer.Stop()

	scope := newStepScope(workspacePath, step.ID)
	defer func() {
		if cerr := scope.cleanup(); cerr != nil {
			logger.ErrorContext(ctx, "could not remove temporary directories", "error", cerr)
		}
	}()

	stream := newLogStream(func(line string) {
		r.emit(ctx, logger, t, line, map[string]any{"stepId": step.ID})
	})
	defer stream.Flush()

	actx := &action.Context{
		StepScope:     scope,
		TaskID:        t.ID(),
		StepID:        step.ID,
		BaseURL:       baseURL,
		Input:         input,
		Secrets:       t.Secrets(),
		Logger:        slog.New(slog.NewTextHandler(stream, &slog.HandlerOptions{Level: slog.LevelDebug})),
		LogStream:     stream,
		WorkspacePath: workspacePath,
	}

	if err := invoke(ctx, a, actx); err != nil {
		return nil, err
	}

	stream.Flush()

	status = stepStatusCompleted
	r.emit(ctx, logger, t, fmt.Sprintf("Finished step %s", step.Name), stepMetadata(step, stepStatusCompleted))

	logger.DebugContext(ctx, "Finished step", log.DurationKey, r.clock.Since(timer.Start()).Milliseconds())

	return scope.output(), nil
}

func invoke(ctx context.Context, a *action.Action, actx *action.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = taskerrors.NewPanicError(r)
		}
	}()

	return a.Handler(ctx, actx)
}

// emit appends a log event to the task. Failures are only reported to the worker's logger, a
// lost log line does not fail the task.
func (r *Runner) emit(ctx context.Context, logger *slog.Logger, t broker.Task, message string, metadata map[string]any) {
	if err := t.EmitLog(ctx, message, metadata); err != nil {
		logger.ErrorContext(ctx, "could not emit task log", "error", err)
	}
}

func shouldRun(condition any, templateCtx map[string]any) (bool, error) {
	switch c := condition.(type) {
	case bool:
		return c, nil
	case string:
		v, err := template.Render(c, templateCtx)
		if err != nil {
			return false, err
		}

		return template.Truthy(v), nil
	}

	return template.Truthy(condition), nil
}

func stepMetadata(step core.Step, status string) map[string]any {
	return map[string]any{
		"stepId": step.ID,
		"status": status,
	}
}

func failed(span trace.Span, err error) *Result {
	tracing.WithSpanError(span, err)
	span.SetAttributes(attribute.String(tracing.TaskStatus, string(core.TaskStatusFailed)))

	return &Result{
		Status: core.TaskStatusFailed,
		Body: &core.CompletionBody{
			Error: taskerrors.FromError(err),
		},
	}
}
