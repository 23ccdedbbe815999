package backend

import (
	"context"
	"errors"

	"github.com/cschleiden/go-scaffolder/core"
)

var (
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotClaimed is returned when an operation requires the task to be processing, but it
	// has not been claimed by any worker.
	ErrTaskNotClaimed = errors.New("task is not claimed")
)

// Backend is the durable task store shared by dispatchers and workers.
type Backend interface {
	// CreateTask persists a new open task and returns its identifier
	CreateTask(ctx context.Context, spec *core.TaskSpec, secrets core.Secrets) (string, error)

	// ClaimTask atomically claims the oldest open task, or a processing task whose heartbeat is
	// older than the configured heartbeat timeout. Returns nil if there is no eligible task.
	ClaimTask(ctx context.Context) (*core.Task, error)

	// HeartbeatTask refreshes the heartbeat of a processing task
	HeartbeatTask(ctx context.Context, taskID string) error

	// CompleteTask moves a processing task into a terminal status. For completed and failed tasks a
	// completion event carrying body is appended in the same transaction.
	//
	// Completing a task that is already in a terminal status has no effect.
	CompleteTask(ctx context.Context, taskID string, status core.TaskStatus, body *core.CompletionBody) error

	// CancelTask moves an open or processing task to cancelled and appends a cancelled event
	CancelTask(ctx context.Context, taskID string) error

	// EmitLogEvent appends a log event to the task's event log
	EmitLogEvent(ctx context.Context, taskID string, message string, metadata map[string]any) error

	// ListEvents returns the events of the given task in order. When afterEventID is given, only
	// events after that event are returned.
	ListEvents(ctx context.Context, taskID string, afterEventID *int64) ([]*core.TaskEvent, error)

	// GetTask returns the task with the given id
	GetTask(ctx context.Context, taskID string) (*core.Task, error)

	// GetStats returns stats about the backend
	GetStats(ctx context.Context) (*Stats, error)

	// Options returns the configured options for the backend
	Options() *Options

	// Close closes any underlying resources
	Close() error
}
