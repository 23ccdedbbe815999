package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/backend/memory"
	"github.com/cschleiden/go-scaffolder/core"
)

func testSpec() *core.TaskSpec {
	return &core.TaskSpec{
		Values: map[string]any{"name": "backstage"},
		Steps: []core.Step{
			{ID: "test", Name: "Test", Action: "test-action"},
		},
		Output: map[string]any{"result": "{{ steps.test.output.testOutput }}"},
	}
}

func newTestBroker(b backend.Backend) *Broker {
	return New(b, WithPollingInterval(10*time.Millisecond))
}

func Test_Broker_Dispatch(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(memory.NewMemoryBackend())

	r, err := b.Dispatch(ctx, testSpec())
	require.NoError(t, err)
	require.NotEmpty(t, r.TaskID)

	s, err := b.Get(ctx, r.TaskID)
	require.NoError(t, err)
	require.Equal(t, core.TaskStatusOpen, s.Task.Status)
	require.Equal(t, testSpec(), s.Task.Spec)
	require.Empty(t, s.Events)
}

func Test_Broker_Dispatch_InvalidSpec(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(memory.NewMemoryBackend())

	tests := []struct {
		name string
		spec *core.TaskSpec
	}{
		{"nil spec", nil},
		{"step without action", &core.TaskSpec{Steps: []core.Step{{ID: "a"}}}},
		{"step without id", &core.TaskSpec{Steps: []core.Step{{Action: "debug:log"}}}},
		{"duplicate step ids", &core.TaskSpec{Steps: []core.Step{
			{ID: "a", Action: "debug:log"},
			{ID: "a", Action: "debug:log"},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := b.Dispatch(ctx, tt.spec)
			require.Error(t, err)
			require.Nil(t, r)
		})
	}

	stats, err := b.Backend().GetStats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.OpenTasks)
}

func Test_Broker_Dispatch_WithSecrets(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(memory.NewMemoryBackend())

	r, err := b.Dispatch(ctx, testSpec(), WithSecrets(core.Secrets{"token": "s3cr3t"}))
	require.NoError(t, err)

	s, err := b.Get(ctx, r.TaskID)
	require.NoError(t, err)
	require.Nil(t, s.Task.Secrets)

	task, err := b.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, r.TaskID, task.ID())
	require.Equal(t, core.Secrets{"token": "s3cr3t"}, task.Secrets())
}

func Test_Broker_Claim_WaitsForDispatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := newTestBroker(memory.NewMemoryBackend())

	claimed := make(chan Task, 1)
	go func() {
		task, err := b.Claim(ctx)
		if err == nil {
			claimed <- task
		}
	}()

	time.Sleep(50 * time.Millisecond)

	r, err := b.Dispatch(ctx, testSpec())
	require.NoError(t, err)

	select {
	case task := <-claimed:
		require.Equal(t, r.TaskID, task.ID())
		require.Equal(t, "task-"+r.TaskID, task.WorkspaceName())
		require.Equal(t, testSpec(), task.Spec())
	case <-ctx.Done():
		require.FailNow(t, "task was not claimed")
	}
}

func Test_Broker_Claim_ReturnsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	b := newTestBroker(memory.NewMemoryBackend())

	task, err := b.Claim(ctx)
	require.Nil(t, task)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type flakyBackend struct {
	backend.Backend

	claimFailures    atomic.Int32
	completeFailures atomic.Int32
}

var errUnavailable = errors.New("store unavailable")

func (fb *flakyBackend) ClaimTask(ctx context.Context) (*core.Task, error) {
	if fb.claimFailures.Add(-1) >= 0 {
		return nil, errUnavailable
	}

	return fb.Backend.ClaimTask(ctx)
}

func (fb *flakyBackend) CompleteTask(ctx context.Context, taskID string, status core.TaskStatus, body *core.CompletionBody) error {
	if fb.completeFailures.Add(-1) >= 0 {
		return errUnavailable
	}

	return fb.Backend.CompleteTask(ctx, taskID, status, body)
}

func Test_Broker_Claim_RetriesStoreErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fb := &flakyBackend{Backend: memory.NewMemoryBackend()}
	fb.claimFailures.Store(2)

	b := newTestBroker(fb)

	r, err := b.Dispatch(ctx, testSpec())
	require.NoError(t, err)

	task, err := b.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, r.TaskID, task.ID())
	require.Less(t, fb.claimFailures.Load(), int32(0))
}

func Test_Task_Complete(t *testing.T) {
	ctx := context.Background()

	fb := &flakyBackend{Backend: memory.NewMemoryBackend()}
	fb.completeFailures.Store(1)

	b := newTestBroker(fb)

	r, err := b.Dispatch(ctx, testSpec())
	require.NoError(t, err)

	task, err := b.Claim(ctx)
	require.NoError(t, err)

	require.NoError(t, task.EmitLog(ctx, "hello", map[string]any{"stepId": "test"}))
	require.NoError(t, task.Heartbeat(ctx))

	err = task.Complete(ctx, core.TaskStatusCompleted, &core.CompletionBody{
		Output: map[string]any{"result": "winning"},
	})
	require.NoError(t, err)

	// Second completion has no further effect
	require.NoError(t, task.Complete(ctx, core.TaskStatusFailed, &core.CompletionBody{
		Error: &core.ErrorBody{Name: "Error", Message: "late"},
	}))

	s, err := b.Get(ctx, r.TaskID)
	require.NoError(t, err)
	require.Equal(t, core.TaskStatusCompleted, s.Task.Status)
	require.Len(t, s.Events, 2)
	require.Equal(t, core.EventTypeLog, s.Events[0].Type)
	require.Equal(t, "hello", s.Events[0].Body.Message)
	require.Equal(t, core.EventTypeCompletion, s.Events[1].Type)
	require.Equal(t, map[string]any{"result": "winning"}, s.Events[1].Body.Output)

	after := s.Events[0].ID
	events, err := b.ListEvents(ctx, r.TaskID, &after)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, core.EventTypeCompletion, events[0].Type)
}

func Test_Task_Cancelled(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(memory.NewMemoryBackend())

	r, err := b.Dispatch(ctx, testSpec())
	require.NoError(t, err)

	task, err := b.Claim(ctx)
	require.NoError(t, err)

	cancelled, err := task.Cancelled(ctx)
	require.NoError(t, err)
	require.False(t, cancelled)

	require.NoError(t, b.Cancel(ctx, r.TaskID))

	cancelled, err = task.Cancelled(ctx)
	require.NoError(t, err)
	require.True(t, cancelled)

	require.NoError(t, task.Complete(ctx, core.TaskStatusCancelled, nil))

	s, err := b.Get(ctx, r.TaskID)
	require.NoError(t, err)
	require.Equal(t, core.TaskStatusCancelled, s.Task.Status)
	require.Len(t, s.Events, 1)
	require.Equal(t, core.EventTypeCancelled, s.Events[0].Type)
}

func Test_Broker_Cancel_UnknownTask(t *testing.T) {
	b := newTestBroker(memory.NewMemoryBackend())

	err := b.Cancel(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, backend.ErrTaskNotFound)
}

func Test_Broker_WaitForTask(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(memory.NewMemoryBackend())

	r, err := b.Dispatch(ctx, testSpec())
	require.NoError(t, err)

	_, err = b.WaitForTask(ctx, r.TaskID, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTaskNotFinished)

	task, err := b.Claim(ctx)
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = task.Complete(ctx, core.TaskStatusCompleted, &core.CompletionBody{})
	}()

	s, err := b.WaitForTask(ctx, r.TaskID, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, core.TaskStatusCompleted, s.Status)
}
