package registry

import (
	"context"
	"testing"

	"github.com/cschleiden/go-scaffolder/action"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, actx *action.Context) error {
	return nil
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		action  *action.Action
		opts    []RegisterOption
		wantID  string
		wantErr bool
	}{
		{
			name:   "valid action",
			action: &action.Action{ID: "fetch:plain", Handler: noop},
			wantID: "fetch:plain",
		},
		{
			name:   "valid action with alias",
			action: &action.Action{ID: "fetch:plain", Handler: noop},
			opts:   []RegisterOption{WithID("fetch:alias")},
			wantID: "fetch:alias",
		},
		{
			name: "valid action with schema",
			action: &action.Action{
				ID:      "publish:github",
				Handler: noop,
				Schema: &action.Schema{
					Input: map[string]any{
						"type":     "object",
						"required": []any{"repoUrl"},
					},
				},
			},
			wantID: "publish:github",
		},
		{
			name:    "nil action",
			wantErr: true,
		},
		{
			name:    "missing id",
			action:  &action.Action{Handler: noop},
			wantErr: true,
		},
		{
			name:    "missing handler",
			action:  &action.Action{ID: "fetch:plain"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()

			err := r.Register(tt.action, tt.opts...)
			if tt.wantErr {
				require.Error(t, err)

				var invalidErr *ErrInvalidAction
				require.ErrorAs(t, err, &invalidErr)
				return
			}

			require.NoError(t, err)

			a, err := r.Get(tt.wantID)
			require.NoError(t, err)
			require.Same(t, tt.action, a)
		})
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := New()

	require.NoError(t, r.Register(&action.Action{ID: "debug:log", Handler: noop}))

	err := r.Register(&action.Action{ID: "debug:log", Handler: noop})
	var dupErr *ErrActionAlreadyRegistered
	require.ErrorAs(t, err, &dupErr)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := New()

	_, err := r.Get("does-not-exist")

	var notFound *ErrActionNotFound
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "Template action with ID 'does-not-exist' is not registered.", err.Error())
	require.Equal(t, "NotFoundError", notFound.Name())
}

func TestRegistry_Actions(t *testing.T) {
	r := New()

	require.NoError(t, r.Register(&action.Action{ID: "b", Handler: noop}))
	require.NoError(t, r.Register(&action.Action{ID: "a", Handler: noop}))

	require.Equal(t, []string{"a", "b"}, r.Actions())
}
