// Package memory provides a task store that keeps all state in process memory. It is meant for
// tests and for running dispatcher and worker in a single process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/core"
)

type taskState struct {
	task   core.Task
	events []*core.TaskEvent
}

type memoryBackend struct {
	mu sync.Mutex

	options *backend.Options

	tasks map[string]*taskState

	// Task ids in creation order
	order []string

	lastEventID int64
}

var _ backend.Backend = (*memoryBackend)(nil)

func NewMemoryBackend(opts ...backend.BackendOption) *memoryBackend {
	options := backend.ApplyOptions(opts...)

	return &memoryBackend{
		options: &options,
		tasks:   make(map[string]*taskState),
	}
}

func (mb *memoryBackend) Options() *backend.Options {
	return mb.options
}

func (mb *memoryBackend) Close() error {
	return nil
}

func (mb *memoryBackend) CreateTask(ctx context.Context, spec *core.TaskSpec, secrets core.Secrets) (string, error) {
	if spec == nil {
		return "", fmt.Errorf("creating task: missing spec")
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	id := uuid.NewString()
	mb.tasks[id] = &taskState{
		task: core.Task{
			ID:        id,
			Spec:      spec,
			Status:    core.TaskStatusOpen,
			CreatedAt: mb.options.Clock.Now(),
			Secrets:   secrets,
		},
	}
	mb.order = append(mb.order, id)

	return id, nil
}

func (mb *memoryBackend) ClaimTask(ctx context.Context) (*core.Task, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	for _, id := range mb.order {
		ts := mb.tasks[id]

		switch ts.task.Status {
		case core.TaskStatusOpen:
		case core.TaskStatusProcessing:
			if !mb.options.IsStale(ts.task.LastHeartbeatAt) {
				continue
			}
		default:
			continue
		}

		now := mb.options.Clock.Now()
		ts.task.Status = core.TaskStatusProcessing
		ts.task.LastHeartbeatAt = &now

		return copyTask(&ts.task), nil
	}

	return nil, nil
}

func (mb *memoryBackend) HeartbeatTask(ctx context.Context, taskID string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	ts, ok := mb.tasks[taskID]
	if !ok {
		return backend.ErrTaskNotFound
	}

	if ts.task.Status != core.TaskStatusProcessing {
		return backend.ErrTaskNotClaimed
	}

	now := mb.options.Clock.Now()
	ts.task.LastHeartbeatAt = &now

	return nil
}

func (mb *memoryBackend) CompleteTask(ctx context.Context, taskID string, status core.TaskStatus, body *core.CompletionBody) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot complete task with status %q", status)
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	ts, ok := mb.tasks[taskID]
	if !ok {
		return backend.ErrTaskNotFound
	}

	switch {
	case ts.task.Status.Terminal():
		return nil
	case ts.task.Status != core.TaskStatusProcessing:
		return backend.ErrTaskNotClaimed
	}

	ts.task.Status = status
	if status != core.TaskStatusCancelled {
		mb.appendEvent(ts, core.EventTypeCompletion, core.NewCompletionEventBody(body))
	}

	return nil
}

func (mb *memoryBackend) CancelTask(ctx context.Context, taskID string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	ts, ok := mb.tasks[taskID]
	if !ok {
		return backend.ErrTaskNotFound
	}

	if ts.task.Status.Terminal() {
		return nil
	}

	ts.task.Status = core.TaskStatusCancelled
	mb.appendEvent(ts, core.EventTypeCancelled, core.NewLogBody("Task was cancelled", nil))

	return nil
}

func (mb *memoryBackend) EmitLogEvent(ctx context.Context, taskID string, message string, metadata map[string]any) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	ts, ok := mb.tasks[taskID]
	if !ok {
		return backend.ErrTaskNotFound
	}

	mb.appendEvent(ts, core.EventTypeLog, core.NewLogBody(message, metadata))

	return nil
}

func (mb *memoryBackend) ListEvents(ctx context.Context, taskID string, afterEventID *int64) ([]*core.TaskEvent, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	ts, ok := mb.tasks[taskID]
	if !ok {
		return nil, backend.ErrTaskNotFound
	}

	start := 0
	if afterEventID != nil {
		start = sort.Search(len(ts.events), func(i int) bool {
			return ts.events[i].ID > *afterEventID
		})
	}

	events := make([]*core.TaskEvent, 0, len(ts.events)-start)
	for _, e := range ts.events[start:] {
		ev := *e
		events = append(events, &ev)
	}

	return events, nil
}

func (mb *memoryBackend) GetTask(ctx context.Context, taskID string) (*core.Task, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	ts, ok := mb.tasks[taskID]
	if !ok {
		return nil, backend.ErrTaskNotFound
	}

	t := copyTask(&ts.task)

	// Secrets are only handed out to the worker claiming the task
	t.Secrets = nil

	return t, nil
}

func (mb *memoryBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	s := &backend.Stats{}
	for _, ts := range mb.tasks {
		switch ts.task.Status {
		case core.TaskStatusOpen:
			s.OpenTasks++
		case core.TaskStatusProcessing:
			s.ProcessingTasks++
		}
	}

	return s, nil
}

func (mb *memoryBackend) appendEvent(ts *taskState, eventType core.EventType, body core.EventBody) {
	mb.lastEventID++

	ts.events = append(ts.events, &core.TaskEvent{
		ID:        mb.lastEventID,
		TaskID:    ts.task.ID,
		Type:      eventType,
		Body:      body,
		CreatedAt: mb.options.Clock.Now(),
	})
}

func copyTask(t *core.Task) *core.Task {
	c := *t
	if t.LastHeartbeatAt != nil {
		hb := *t.LastHeartbeatAt
		c.LastHeartbeatAt = &hb
	}

	return &c
}
