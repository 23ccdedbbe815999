package actiontester

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cschleiden/go-scaffolder/action"
)

func TestActionTester(t *testing.T) {
	var tmpDir string

	a := &action.Action{
		ID: "test:sum",
		Schema: &action.Schema{
			Input: map[string]any{
				"type":     "object",
				"required": []any{"a", "b"},
			},
		},
		Handler: func(ctx context.Context, actx *action.Context) error {
			actx.Logger.Debug("Action is called", "a", actx.Input["a"])
			fmt.Fprintln(actx.LogStream, "raw line")

			var err error
			tmpDir, err = actx.CreateTemporaryDirectory()
			if err != nil {
				return err
			}

			actx.Output("sum", actx.Input["a"].(int)+actx.Input["b"].(int))
			return nil
		},
	}

	r, err := Run(context.Background(), a, map[string]any{"a": 35, "b": 12})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"sum": 47}, r.Output)
	require.Len(t, r.Logs, 2)
	require.Contains(t, r.Logs[0], "Action is called")
	require.Equal(t, "raw line", r.Logs[1])

	_, err = os.Stat(tmpDir)
	require.True(t, os.IsNotExist(err))
}

func TestActionTester_InvalidInput(t *testing.T) {
	called := false

	a := &action.Action{
		ID: "test:strict",
		Schema: &action.Schema{
			Input: map[string]any{
				"type":     "object",
				"required": []any{"name"},
			},
		},
		Handler: func(ctx context.Context, actx *action.Context) error {
			called = true
			return nil
		},
	}

	_, err := Run(context.Background(), a, map[string]any{})

	var inputErr *action.InputError
	require.ErrorAs(t, err, &inputErr)
	require.False(t, called)
}
