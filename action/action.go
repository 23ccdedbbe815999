// Package action defines the contract between the task worker and the pluggable actions a
// task's steps invoke.
package action

import (
	"context"
	"io"
	"log/slog"

	"github.com/cschleiden/go-scaffolder/core"
)

// HandlerFunc executes an action. Returning an error fails the step and with it the task.
type HandlerFunc func(ctx context.Context, actx *Context) error

type Action struct {
	// ID is the stable identifier steps use to reference the action.
	ID string

	Description string

	// Schema optionally declares JSON schemas for the action's input and output. When an input
	// schema is given, rendered step input is validated before the handler is invoked.
	Schema *Schema

	Handler HandlerFunc
}

// StepScope holds the capabilities that are scoped to a single step execution.
type StepScope interface {
	// Output registers a named result of the step. Later steps and the task output can reference
	// it as `steps.<stepId>.output.<name>`.
	Output(name string, value any)

	// CreateTemporaryDirectory allocates a scratch directory which is removed once the step
	// finishes, whether it succeeded or not.
	CreateTemporaryDirectory() (string, error)
}

// Context is passed to an action's handler.
type Context struct {
	StepScope

	TaskID string

	StepID string

	BaseURL string

	// Input is the rendered and validated step input.
	Input map[string]any

	Secrets core.Secrets

	// Logger writes to the task's event log.
	Logger *slog.Logger

	// LogStream writes raw lines to the task's event log.
	LogStream io.Writer

	// WorkspacePath is a directory shared by all steps of the task.
	WorkspacePath string
}
