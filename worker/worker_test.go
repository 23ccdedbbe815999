package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cschleiden/go-scaffolder/action"
	"github.com/cschleiden/go-scaffolder/backend/memory"
	"github.com/cschleiden/go-scaffolder/broker"
	"github.com/cschleiden/go-scaffolder/core"
	"github.com/cschleiden/go-scaffolder/registry"
)

func testAction() *action.Action {
	return &action.Action{
		ID: "test-action",
		Handler: func(ctx context.Context, actx *action.Context) error {
			actx.Output("testOutput", "winning")
			return nil
		},
	}
}

func testSpec() *core.TaskSpec {
	return &core.TaskSpec{
		Steps: []core.Step{
			{ID: "test", Name: "test", Action: "test-action"},
		},
		Output: map[string]any{"result": "{{ steps.test.output.testOutput }}"},
	}
}

func TestWorker_RegisterAction(t *testing.T) {
	b := broker.New(memory.NewMemoryBackend())
	w := New(b, nil, nil)

	require.NoError(t, w.RegisterAction(testAction()))

	err := w.RegisterAction(testAction())
	var wantErr *registry.ErrActionAlreadyRegistered
	require.ErrorAs(t, err, &wantErr)

	require.NoError(t, w.RegisterAction(testAction(), registry.WithID("alias")))
	require.Equal(t, []string{"alias", "test-action"}, w.registry.Actions())
}

func TestWorker_DefaultsUnsetOptions(t *testing.T) {
	b := broker.New(memory.NewMemoryBackend())

	w := New(b, nil, &Options{Pollers: 2})
	require.Equal(t, 2, w.options.Pollers)
	require.Equal(t, DefaultOptions.HeartbeatInterval, w.options.HeartbeatInterval)
	require.Equal(t, DefaultOptions.WorkingDirectory, w.options.WorkingDirectory)

	w = New(b, nil, &Options{HeartbeatInterval: -time.Second})
	require.Equal(t, 25*time.Second, w.options.HeartbeatInterval)
}

func TestWorker_ProcessesDispatchedTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	b := broker.New(memory.NewMemoryBackend(), broker.WithPollingInterval(10*time.Millisecond))

	w := New(b, nil, &Options{
		Pollers:           2,
		HeartbeatInterval: 50 * time.Millisecond,
		WorkingDirectory:  t.TempDir(),
	})
	require.NoError(t, w.RegisterAction(testAction()))

	workerCtx, cancel := context.WithCancel(ctx)
	require.NoError(t, w.Start(workerCtx))

	var ids []string
	for i := 0; i < 3; i++ {
		r, err := b.Dispatch(ctx, testSpec())
		require.NoError(t, err)
		ids = append(ids, r.TaskID)
	}

	for _, id := range ids {
		task, err := b.WaitForTask(ctx, id, 5*time.Second)
		require.NoError(t, err)
		require.Equal(t, core.TaskStatusCompleted, task.Status)

		s, err := b.Get(ctx, id)
		require.NoError(t, err)

		last := s.Events[len(s.Events)-1]
		require.Equal(t, core.EventTypeCompletion, last.Type)
		require.Equal(t, map[string]any{"result": "winning"}, last.Body.Output)
	}

	cancel()
	require.NoError(t, w.WaitForCompletion())
}

func TestWorker_RunOneTask(t *testing.T) {
	ctx := context.Background()
	b := broker.New(memory.NewMemoryBackend())

	w := New(b, nil, &Options{WorkingDirectory: t.TempDir()})

	r, err := b.Dispatch(ctx, testSpec())
	require.NoError(t, err)

	task, err := b.Claim(ctx)
	require.NoError(t, err)

	require.NoError(t, w.RunOneTask(ctx, task))

	s, err := b.Get(ctx, r.TaskID)
	require.NoError(t, err)
	require.Equal(t, core.TaskStatusFailed, s.Task.Status)

	last := s.Events[len(s.Events)-1]
	require.Equal(t, "Template action with ID 'test-action' is not registered.", last.Body.Error.Message)
}
