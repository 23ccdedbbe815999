package test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/core"
)

// BackendTest runs the store conformance suite. setup is called for every test and has to
// return an empty store configured with the given options.
func BackendTest(t *testing.T, setup func(options ...backend.BackendOption) backend.Backend, teardown func(b backend.Backend)) {
	tests := []struct {
		name    string
		options []backend.BackendOption
		f       func(t *testing.T, ctx context.Context, b backend.Backend)
	}{
		{
			name: "ClaimTask_ReturnsNilWhenEmpty",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				task, err := b.ClaimTask(ctx)
				require.NoError(t, err)
				require.Nil(t, task)
			},
		},
		{
			name: "CreateTask_PersistsSpecAndSecrets",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				spec := testSpec()

				id, err := b.CreateTask(ctx, spec, core.Secrets{"token": "secret"})
				require.NoError(t, err)
				require.NotEmpty(t, id)

				task, err := b.GetTask(ctx, id)
				require.NoError(t, err)
				require.Equal(t, id, task.ID)
				require.Equal(t, core.TaskStatusOpen, task.Status)
				require.Nil(t, task.LastHeartbeatAt)
				require.Equal(t, spec, task.Spec)

				claimed, err := b.ClaimTask(ctx)
				require.NoError(t, err)
				require.NotNil(t, claimed)
				require.Equal(t, core.Secrets{"token": "secret"}, claimed.Secrets)
				require.Equal(t, spec, claimed.Spec)
			},
		},
		{
			name: "CreateTask_PreservesLargeIntegers",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				spec := testSpec()
				spec.Values["repoId"] = json.Number("9007199254740993")
				spec.Steps[0].Input["limits"] = map[string]any{"size": json.Number("9007199254740993")}

				id, err := b.CreateTask(ctx, spec, nil)
				require.NoError(t, err)

				task, err := b.ClaimTask(ctx)
				require.NoError(t, err)
				require.Equal(t, id, task.ID)
				require.Equal(t, json.Number("9007199254740993"), task.Spec.Values["repoId"])
				require.Equal(t, map[string]any{"size": json.Number("9007199254740993")}, task.Spec.Steps[0].Input["limits"])

				require.NoError(t, b.CompleteTask(ctx, id, core.TaskStatusCompleted, &core.CompletionBody{
					Output: map[string]any{"repoId": json.Number("9007199254740993")},
				}))

				events, err := b.ListEvents(ctx, id, nil)
				require.NoError(t, err)
				require.Len(t, events, 1)
				require.Equal(t, map[string]any{"repoId": json.Number("9007199254740993")}, events[0].Body.Output)
			},
		},
		{
			name: "CreateTask_ReturnsUniqueIDs",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				id1, err := b.CreateTask(ctx, testSpec(), nil)
				require.NoError(t, err)

				id2, err := b.CreateTask(ctx, testSpec(), nil)
				require.NoError(t, err)

				require.NotEqual(t, id1, id2)
			},
		},
		{
			name: "GetTask_ReturnsErrTaskNotFound",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				_, err := b.GetTask(ctx, uuid.NewString())
				require.ErrorIs(t, err, backend.ErrTaskNotFound)
			},
		},
		{
			name: "ClaimTask_ClaimsOldestTaskFirst",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				clk := b.Options().Clock.(*clock.Mock)

				first, err := b.CreateTask(ctx, testSpec(), nil)
				require.NoError(t, err)

				clk.Add(time.Second)

				second, err := b.CreateTask(ctx, testSpec(), nil)
				require.NoError(t, err)

				task, err := b.ClaimTask(ctx)
				require.NoError(t, err)
				require.Equal(t, first, task.ID)
				require.Equal(t, core.TaskStatusProcessing, task.Status)
				require.NotNil(t, task.LastHeartbeatAt)

				task, err = b.ClaimTask(ctx)
				require.NoError(t, err)
				require.Equal(t, second, task.ID)

				task, err = b.ClaimTask(ctx)
				require.NoError(t, err)
				require.Nil(t, task)
			},
		},
		{
			name: "ClaimTask_ConcurrentClaimsAreExclusive",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				const tasks = 10
				const claimers = 4

				for i := 0; i < tasks; i++ {
					_, err := b.CreateTask(ctx, testSpec(), nil)
					require.NoError(t, err)
				}

				var mu sync.Mutex
				claimed := map[string]int{}
				var errs []error

				var wg sync.WaitGroup
				for i := 0; i < claimers; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()

						for {
							task, err := b.ClaimTask(ctx)

							mu.Lock()
							if err != nil {
								errs = append(errs, err)
								mu.Unlock()
								return
							}

							if task == nil {
								mu.Unlock()
								return
							}

							claimed[task.ID]++
							mu.Unlock()
						}
					}()
				}

				wg.Wait()

				require.Empty(t, errs)
				require.Len(t, claimed, tasks)
				for id, n := range claimed {
					require.Equal(t, 1, n, "task %s claimed more than once", id)
				}
			},
		},
		{
			name: "ClaimTask_ReclaimsTaskWithStaleHeartbeat",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				clk := b.Options().Clock.(*clock.Mock)

				id, err := b.CreateTask(ctx, testSpec(), nil)
				require.NoError(t, err)

				task, err := b.ClaimTask(ctx)
				require.NoError(t, err)
				require.Equal(t, id, task.ID)

				clk.Add(b.Options().HeartbeatTimeout / 2)

				task, err = b.ClaimTask(ctx)
				require.NoError(t, err)
				require.Nil(t, task)

				clk.Add(b.Options().HeartbeatTimeout)

				task, err = b.ClaimTask(ctx)
				require.NoError(t, err)
				require.NotNil(t, task)
				require.Equal(t, id, task.ID)
			},
		},
		{
			name: "HeartbeatTask_ExtendsClaim",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				clk := b.Options().Clock.(*clock.Mock)
				timeout := b.Options().HeartbeatTimeout

				id, err := b.CreateTask(ctx, testSpec(), nil)
				require.NoError(t, err)

				_, err = b.ClaimTask(ctx)
				require.NoError(t, err)

				clk.Add(timeout * 3 / 4)
				require.NoError(t, b.HeartbeatTask(ctx, id))

				clk.Add(timeout * 3 / 4)

				task, err := b.ClaimTask(ctx)
				require.NoError(t, err)
				require.Nil(t, task)

				got, err := b.GetTask(ctx, id)
				require.NoError(t, err)
				require.Equal(t, core.TaskStatusProcessing, got.Status)
			},
		},
		{
			name: "HeartbeatTask_ReturnsErrorIfNotClaimed",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				id, err := b.CreateTask(ctx, testSpec(), nil)
				require.NoError(t, err)

				err = b.HeartbeatTask(ctx, id)
				require.ErrorIs(t, err, backend.ErrTaskNotClaimed)

				err = b.HeartbeatTask(ctx, uuid.NewString())
				require.ErrorIs(t, err, backend.ErrTaskNotFound)
			},
		},
		{
			name: "CompleteTask_AppendsCompletionEvent",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				id := createAndClaim(t, ctx, b)

				err := b.CompleteTask(ctx, id, core.TaskStatusCompleted, &core.CompletionBody{
					Output: map[string]any{"result": "winning"},
				})
				require.NoError(t, err)

				task, err := b.GetTask(ctx, id)
				require.NoError(t, err)
				require.Equal(t, core.TaskStatusCompleted, task.Status)

				events, err := b.ListEvents(ctx, id, nil)
				require.NoError(t, err)
				require.Len(t, events, 1)
				require.Equal(t, core.EventTypeCompletion, events[0].Type)
				require.Equal(t, id, events[0].TaskID)
				require.Equal(t, map[string]any{"result": "winning"}, events[0].Body.Output)
				require.Nil(t, events[0].Body.Error)
			},
		},
		{
			name: "CompleteTask_FailedRecordsError",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				id := createAndClaim(t, ctx, b)

				err := b.CompleteTask(ctx, id, core.TaskStatusFailed, &core.CompletionBody{
					Error: &core.ErrorBody{Name: "NotFoundError", Message: "Template action with ID 'x' is not registered."},
				})
				require.NoError(t, err)

				task, err := b.GetTask(ctx, id)
				require.NoError(t, err)
				require.Equal(t, core.TaskStatusFailed, task.Status)

				events, err := b.ListEvents(ctx, id, nil)
				require.NoError(t, err)
				require.Len(t, events, 1)
				require.Equal(t, &core.ErrorBody{Name: "NotFoundError", Message: "Template action with ID 'x' is not registered."}, events[0].Body.Error)
			},
		},
		{
			name: "CompleteTask_IsIdempotent",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				id := createAndClaim(t, ctx, b)

				require.NoError(t, b.CompleteTask(ctx, id, core.TaskStatusCompleted, &core.CompletionBody{}))
				require.NoError(t, b.CompleteTask(ctx, id, core.TaskStatusFailed, &core.CompletionBody{
					Error: &core.ErrorBody{Name: "Error", Message: "late"},
				}))

				task, err := b.GetTask(ctx, id)
				require.NoError(t, err)
				require.Equal(t, core.TaskStatusCompleted, task.Status)

				events, err := b.ListEvents(ctx, id, nil)
				require.NoError(t, err)
				require.Len(t, events, 1)
			},
		},
		{
			name: "CompleteTask_ReturnsErrorIfNotClaimed",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				id, err := b.CreateTask(ctx, testSpec(), nil)
				require.NoError(t, err)

				err = b.CompleteTask(ctx, id, core.TaskStatusCompleted, &core.CompletionBody{})
				require.ErrorIs(t, err, backend.ErrTaskNotClaimed)

				err = b.CompleteTask(ctx, uuid.NewString(), core.TaskStatusCompleted, &core.CompletionBody{})
				require.ErrorIs(t, err, backend.ErrTaskNotFound)
			},
		},
		{
			name: "CancelTask_OpenTaskIsNotClaimed",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				id, err := b.CreateTask(ctx, testSpec(), nil)
				require.NoError(t, err)

				require.NoError(t, b.CancelTask(ctx, id))

				task, err := b.ClaimTask(ctx)
				require.NoError(t, err)
				require.Nil(t, task)

				got, err := b.GetTask(ctx, id)
				require.NoError(t, err)
				require.Equal(t, core.TaskStatusCancelled, got.Status)

				events, err := b.ListEvents(ctx, id, nil)
				require.NoError(t, err)
				require.Len(t, events, 1)
				require.Equal(t, core.EventTypeCancelled, events[0].Type)

				// Cancelling again has no effect
				require.NoError(t, b.CancelTask(ctx, id))
				events, err = b.ListEvents(ctx, id, nil)
				require.NoError(t, err)
				require.Len(t, events, 1)
			},
		},
		{
			name: "CancelTask_ProcessingTaskIgnoresLaterCompletion",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				id := createAndClaim(t, ctx, b)

				require.NoError(t, b.CancelTask(ctx, id))
				require.NoError(t, b.CompleteTask(ctx, id, core.TaskStatusCompleted, &core.CompletionBody{}))

				got, err := b.GetTask(ctx, id)
				require.NoError(t, err)
				require.Equal(t, core.TaskStatusCancelled, got.Status)

				err = b.HeartbeatTask(ctx, id)
				require.ErrorIs(t, err, backend.ErrTaskNotClaimed)
			},
		},
		{
			name: "CancelTask_ReturnsErrTaskNotFound",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				err := b.CancelTask(ctx, uuid.NewString())
				require.ErrorIs(t, err, backend.ErrTaskNotFound)
			},
		},
		{
			name: "EmitLogEvent_EventsAreOrdered",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				id := createAndClaim(t, ctx, b)

				require.NoError(t, b.EmitLogEvent(ctx, id, "Starting up task with 2 steps", nil))
				require.NoError(t, b.EmitLogEvent(ctx, id, "Beginning step Fetch", map[string]any{"stepId": "fetch", "status": "processing"}))
				require.NoError(t, b.EmitLogEvent(ctx, id, "Finished step Fetch", map[string]any{"stepId": "fetch", "status": "completed"}))

				events, err := b.ListEvents(ctx, id, nil)
				require.NoError(t, err)
				require.Len(t, events, 3)

				for i, e := range events {
					require.Equal(t, core.EventTypeLog, e.Type)
					require.Equal(t, id, e.TaskID)
					if i > 0 {
						require.Greater(t, e.ID, events[i-1].ID)
					}
				}

				require.Equal(t, "Starting up task with 2 steps", events[0].Body.Message)
				require.Equal(t, "Beginning step Fetch", events[1].Body.Message)
				require.Equal(t, map[string]any{"stepId": "fetch", "status": "processing"}, events[1].Body.Metadata)

				after, err := b.ListEvents(ctx, id, &events[0].ID)
				require.NoError(t, err)
				require.Len(t, after, 2)
				require.Equal(t, events[1].ID, after[0].ID)

				after, err = b.ListEvents(ctx, id, &events[2].ID)
				require.NoError(t, err)
				require.Empty(t, after)
			},
		},
		{
			name: "EmitLogEvent_EventsAreScopedToTask",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				id1, err := b.CreateTask(ctx, testSpec(), nil)
				require.NoError(t, err)
				id2, err := b.CreateTask(ctx, testSpec(), nil)
				require.NoError(t, err)

				require.NoError(t, b.EmitLogEvent(ctx, id1, "one", nil))
				require.NoError(t, b.EmitLogEvent(ctx, id2, "two", nil))

				events, err := b.ListEvents(ctx, id2, nil)
				require.NoError(t, err)
				require.Len(t, events, 1)
				require.Equal(t, "two", events[0].Body.Message)
			},
		},
		{
			name: "GetStats_CountsOpenAndProcessingTasks",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				id := createAndClaim(t, ctx, b)
				require.NoError(t, b.CompleteTask(ctx, id, core.TaskStatusCompleted, nil))

				_, err := b.CreateTask(ctx, testSpec(), nil)
				require.NoError(t, err)
				_, err = b.CreateTask(ctx, testSpec(), nil)
				require.NoError(t, err)

				task, err := b.ClaimTask(ctx)
				require.NoError(t, err)
				require.NotNil(t, task)

				s, err := b.GetStats(ctx)
				require.NoError(t, err)
				require.Equal(t, int64(1), s.OpenTasks)
				require.Equal(t, int64(1), s.ProcessingTasks)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewMock()
			clk.Set(time.Now().Truncate(time.Second))

			options := append([]backend.BackendOption{
				backend.WithClock(clk),
				backend.WithHeartbeatTimeout(time.Minute),
			}, tt.options...)

			b := setup(options...)
			ctx := context.Background()
			tt.f(t, ctx, b)
			if teardown != nil {
				teardown(b)
			}
		})
	}
}

func testSpec() *core.TaskSpec {
	return &core.TaskSpec{
		BaseURL: "https://github.com/backstage/templates/blob/main/",
		Values: map[string]any{
			"name": "my-service",
		},
		Steps: []core.Step{
			{
				ID:     "fetch",
				Name:   "Fetch",
				Action: "fetch:plain",
				Input:  map[string]any{"url": "./skeleton"},
			},
			{
				ID:     "log",
				Name:   "Log",
				Action: "debug:log",
				Input:  map[string]any{"message": "{{ parameters.name }}"},
				If:     "{{ parameters.name }}",
			},
		},
		Output: map[string]any{
			"result": "{{ steps.fetch.output.path }}",
		},
	}
}

func createAndClaim(t *testing.T, ctx context.Context, b backend.Backend) string {
	t.Helper()

	id, err := b.CreateTask(ctx, testSpec(), nil)
	require.NoError(t, err)

	task, err := b.ClaimTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, id, task.ID)

	return id
}
