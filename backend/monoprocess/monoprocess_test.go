package monoprocess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/backend/memory"
	"github.com/cschleiden/go-scaffolder/backend/sqlite"
	"github.com/cschleiden/go-scaffolder/backend/test"
	"github.com/cschleiden/go-scaffolder/core"
)

func Test_MonoprocessBackend(t *testing.T) {
	test.BackendTest(t, func(options ...backend.BackendOption) backend.Backend {
		return NewMonoprocessBackend(sqlite.NewInMemoryBackend(sqlite.WithBackendOptions(options...)), 0, 10*time.Millisecond)
	}, nil)
}

func Test_EndToEndMonoprocessBackend(t *testing.T) {
	test.EndToEndBackendTest(t, func(options ...backend.BackendOption) backend.Backend {
		return NewMonoprocessBackend(memory.NewMemoryBackend(options...), 1, 0)
	}, nil)
}

func Test_MonoprocessBackend_WakesWaitingClaim(t *testing.T) {
	b := NewMonoprocessBackend(memory.NewMemoryBackend(), 1, time.Minute)
	ctx := context.Background()

	claimed := make(chan *core.Task, 1)
	go func() {
		task, err := b.ClaimTask(ctx)
		if err == nil {
			claimed <- task
		}
		close(claimed)
	}()

	// Give the claim a chance to start waiting
	time.Sleep(10 * time.Millisecond)

	id, err := b.CreateTask(ctx, &core.TaskSpec{}, nil)
	require.NoError(t, err)

	select {
	case task := <-claimed:
		require.NotNil(t, task)
		require.Equal(t, id, task.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("claim was not woken up")
	}
}

func Test_MonoprocessBackend_ClaimReturnsOnContextCancel(t *testing.T) {
	b := NewMonoprocessBackend(memory.NewMemoryBackend(), 0, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	task, err := b.ClaimTask(ctx)
	require.Nil(t, task)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func Test_MonoprocessBackend_CreateTaskDoesNotWaitForWorker(t *testing.T) {
	b := NewMonoprocessBackend(memory.NewMemoryBackend(), 2, time.Minute)
	ctx := context.Background()

	// More tasks than the signal buffer holds, nobody claims
	for i := 0; i < 5; i++ {
		start := time.Now()

		_, err := b.CreateTask(ctx, &core.TaskSpec{}, nil)
		require.NoError(t, err)
		require.Less(t, time.Since(start), 100*time.Millisecond, "task %d", i)
	}

	s, err := b.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), s.OpenTasks)

	// Buffered signals still wake up claimers
	for i := 0; i < 5; i++ {
		task, err := b.ClaimTask(ctx)
		require.NoError(t, err)
		require.NotNil(t, task)
	}
}
