package test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cschleiden/go-scaffolder/action"
	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/broker"
	"github.com/cschleiden/go-scaffolder/core"
	"github.com/cschleiden/go-scaffolder/registry"
	"github.com/cschleiden/go-scaffolder/worker"
)

// EndToEndBackendTest dispatches tasks through the broker and runs them with a worker on top of
// the given store.
func EndToEndBackendTest(t *testing.T, setup func(options ...backend.BackendOption) backend.Backend, teardown func(b backend.Backend)) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, b *broker.Broker, r *registry.Registry)
	}{
		{
			name: "SimpleTask",
			f: func(t *testing.T, ctx context.Context, b *broker.Broker, r *registry.Registry) {
				register(t, r, "test-action", func(ctx context.Context, actx *action.Context) error {
					actx.Output("testOutput", "winning")
					return nil
				})

				s := runToCompletion(t, ctx, b, r, &core.TaskSpec{
					Steps: []core.Step{
						{ID: "test", Name: "test", Action: "test-action"},
					},
					Output: map[string]any{"result": "{{ steps.test.output.testOutput }}"},
				})

				require.Equal(t, core.TaskStatusCompleted, s.Task.Status)

				completion := s.Events[len(s.Events)-1]
				require.Equal(t, core.EventTypeCompletion, completion.Type)
				require.Nil(t, completion.Body.Error)
				require.Equal(t, map[string]any{"result": "winning"}, completion.Body.Output)
			},
		},
		{
			name: "StepInputTemplating",
			f: func(t *testing.T, ctx context.Context, b *broker.Broker, r *registry.Registry) {
				observed := make(chan map[string]any, 1)

				register(t, r, "test-action", func(ctx context.Context, actx *action.Context) error {
					actx.Output("testOutput", "winning")
					actx.Output("count", 42)
					return nil
				})
				register(t, r, "test-input", func(ctx context.Context, actx *action.Context) error {
					observed <- actx.Input
					return nil
				})

				s := runToCompletion(t, ctx, b, r, &core.TaskSpec{
					Values: map[string]any{"owner": "backstage"},
					Steps: []core.Step{
						{ID: "test", Name: "test", Action: "test-action"},
						{ID: "second", Name: "second", Action: "test-input", Input: map[string]any{
							"name":  "{{ steps.test.output.testOutput }}",
							"repo":  "{{ parameters.owner }}/{{ steps.test.output.testOutput }}",
							"count": "{{ steps.test.output.count }}",
						}},
					},
					Output: map[string]any{"count": "{{ steps.test.output.count }}"},
				})

				require.Equal(t, core.TaskStatusCompleted, s.Task.Status)
				require.Equal(t, map[string]any{
					"name":  "winning",
					"repo":  "backstage/winning",
					"count": json.Number("42"),
				}, <-observed)

				completion := s.Events[len(s.Events)-1]
				require.Equal(t, map[string]any{"count": json.Number("42")}, completion.Body.Output)
			},
		},
		{
			name: "UnregisteredAction",
			f: func(t *testing.T, ctx context.Context, b *broker.Broker, r *registry.Registry) {
				s := runToCompletion(t, ctx, b, r, &core.TaskSpec{
					Steps: []core.Step{
						{ID: "test", Name: "test", Action: "not-found-action"},
					},
				})

				require.Equal(t, core.TaskStatusFailed, s.Task.Status)

				completion := s.Events[len(s.Events)-1]
				require.Equal(t, core.EventTypeCompletion, completion.Type)
				require.Nil(t, completion.Body.Output)
				require.Equal(t, &core.ErrorBody{
					Name:    "NotFoundError",
					Message: "Template action with ID 'not-found-action' is not registered.",
				}, completion.Body.Error)
			},
		},
		{
			name: "FailingStep",
			f: func(t *testing.T, ctx context.Context, b *broker.Broker, r *registry.Registry) {
				register(t, r, "fail", func(ctx context.Context, actx *action.Context) error {
					return errors.New("could not publish")
				})

				s := runToCompletion(t, ctx, b, r, &core.TaskSpec{
					Steps: []core.Step{
						{ID: "publish", Name: "Publish", Action: "fail"},
					},
				})

				require.Equal(t, core.TaskStatusFailed, s.Task.Status)

				var failed []*core.TaskEvent
				for _, e := range s.Events {
					if e.Type == core.EventTypeLog && e.Body.Metadata["status"] == "failed" {
						failed = append(failed, e)
					}
				}
				require.Len(t, failed, 1)
				require.Equal(t, "publish", failed[0].Body.Metadata["stepId"])
				require.Contains(t, failed[0].Body.Message, "could not publish")

				completion := s.Events[len(s.Events)-1]
				require.Equal(t, &core.ErrorBody{Name: "Error", Message: "could not publish"}, completion.Body.Error)
			},
		},
		{
			name: "SecretsArePassedToActions",
			f: func(t *testing.T, ctx context.Context, b *broker.Broker, r *registry.Registry) {
				register(t, r, "secret", func(ctx context.Context, actx *action.Context) error {
					actx.Output("hasToken", actx.Secrets["token"] == "s3cr3t")
					return nil
				})

				s := runToCompletion(t, ctx, b, r, &core.TaskSpec{
					Steps:  []core.Step{{ID: "secret", Name: "secret", Action: "secret"}},
					Output: map[string]any{"hasToken": "{{ steps.secret.output.hasToken }}"},
				}, broker.WithSecrets(core.Secrets{"token": "s3cr3t"}))

				require.Equal(t, map[string]any{"hasToken": true}, s.Events[len(s.Events)-1].Body.Output)
				require.Nil(t, s.Task.Secrets)
			},
		},
		{
			name: "CancelledTaskIsNotExecuted",
			f: func(t *testing.T, ctx context.Context, b *broker.Broker, r *registry.Registry) {
				called := make(chan struct{}, 1)
				register(t, r, "test-action", func(ctx context.Context, actx *action.Context) error {
					called <- struct{}{}
					return nil
				})

				res, err := b.Dispatch(ctx, &core.TaskSpec{
					Steps: []core.Step{{ID: "test", Name: "test", Action: "test-action"}},
				})
				require.NoError(t, err)

				require.NoError(t, b.Cancel(ctx, res.TaskID))

				stop := startWorker(t, b, r)
				time.Sleep(100 * time.Millisecond)
				stop()

				require.Empty(t, called)

				s, err := b.Get(ctx, res.TaskID)
				require.NoError(t, err)
				require.Equal(t, core.TaskStatusCancelled, s.Task.Status)
				require.Len(t, s.Events, 1)
				require.Equal(t, core.EventTypeCancelled, s.Events[0].Type)
			},
		},
		{
			name: "IncrementalEvents",
			f: func(t *testing.T, ctx context.Context, b *broker.Broker, r *registry.Registry) {
				register(t, r, "log", func(ctx context.Context, actx *action.Context) error {
					for i := 0; i < 3; i++ {
						fmt.Fprintf(actx.LogStream, "line %d\n", i)
					}
					return nil
				})

				s := runToCompletion(t, ctx, b, r, &core.TaskSpec{
					Steps: []core.Step{{ID: "log", Name: "Log", Action: "log"}},
				})

				require.Greater(t, len(s.Events), 3)
				for i := 1; i < len(s.Events); i++ {
					require.Greater(t, s.Events[i].ID, s.Events[i-1].ID)
				}

				var seen []*core.TaskEvent
				var after *int64
				for {
					events, err := b.ListEvents(ctx, s.Task.ID, after)
					require.NoError(t, err)
					if len(events) == 0 {
						break
					}

					// Read in small pages by only advancing past the first event
					seen = append(seen, events[0])
					after = &events[0].ID
				}

				require.Equal(t, len(s.Events), len(seen))
				for i := range seen {
					require.Equal(t, s.Events[i].ID, seen[i].ID)
					require.Equal(t, s.Events[i].Body.Message, seen[i].Body.Message)
				}
			},
		},
		{
			name: "ManyTasks",
			f: func(t *testing.T, ctx context.Context, b *broker.Broker, r *registry.Registry) {
				register(t, r, "test-action", func(ctx context.Context, actx *action.Context) error {
					actx.Output("id", actx.TaskID)
					return nil
				})

				stop := startWorker(t, b, r)
				defer stop()

				var ids []string
				for i := 0; i < 5; i++ {
					res, err := b.Dispatch(ctx, &core.TaskSpec{
						Steps:  []core.Step{{ID: "test", Name: "test", Action: "test-action"}},
						Output: map[string]any{"id": "{{ steps.test.output.id }}"},
					})
					require.NoError(t, err)
					ids = append(ids, res.TaskID)
				}

				for _, id := range ids {
					task, err := b.WaitForTask(ctx, id, 10*time.Second)
					require.NoError(t, err)
					require.Equal(t, core.TaskStatusCompleted, task.Status)

					events, err := b.ListEvents(ctx, id, nil)
					require.NoError(t, err)
					require.Equal(t, map[string]any{"id": id}, events[len(events)-1].Body.Output)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := setup()
			b := broker.New(be, broker.WithPollingInterval(10*time.Millisecond))
			r := registry.New()

			ctx := context.Background()
			tt.f(t, ctx, b, r)

			if teardown != nil {
				teardown(be)
			}
		})
	}
}

func register(t *testing.T, r *registry.Registry, id string, handler action.HandlerFunc) {
	t.Helper()

	require.NoError(t, r.Register(&action.Action{ID: id, Handler: handler}))
}

func startWorker(t *testing.T, b *broker.Broker, r *registry.Registry) func() {
	t.Helper()

	w := worker.New(b, r, &worker.Options{
		Pollers:           2,
		HeartbeatInterval: time.Second,
		WorkingDirectory:  t.TempDir(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	return func() {
		cancel()
		require.NoError(t, w.WaitForCompletion())
	}
}

func runToCompletion(
	t *testing.T, ctx context.Context, b *broker.Broker, r *registry.Registry, spec *core.TaskSpec, opts ...broker.DispatchOption,
) *broker.TaskState {
	t.Helper()

	stop := startWorker(t, b, r)
	defer stop()

	res, err := b.Dispatch(ctx, spec, opts...)
	require.NoError(t, err)

	task, err := b.WaitForTask(ctx, res.TaskID, 10*time.Second)
	require.NoError(t, err)
	require.True(t, task.Status.Terminal())

	s, err := b.Get(ctx, res.TaskID)
	require.NoError(t, err)

	return s
}
