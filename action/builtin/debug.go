package builtin

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/cschleiden/go-scaffolder/action"
)

type debugLogInput struct {
	Message       string `mapstructure:"message"`
	ListWorkspace bool   `mapstructure:"listWorkspace"`
}

// DebugLog writes a message and optionally the files in the workspace to the task log.
func DebugLog() *action.Action {
	return &action.Action{
		ID:          "debug:log",
		Description: "Writes a message into the log or lists all files in the workspace.",
		Schema: &action.Schema{
			Input: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type":        "string",
						"description": "Message to output.",
					},
					"listWorkspace": map[string]any{
						"type":        "boolean",
						"description": "List all files in the workspace, if true.",
					},
				},
			},
		},
		Handler: debugLog,
	}
}

func debugLog(ctx context.Context, actx *action.Context) error {
	in, err := decodeInput[debugLogInput](actx.Input)
	if err != nil {
		return err
	}

	if in.Message != "" {
		actx.Logger.Info(in.Message)
	}

	if in.ListWorkspace {
		var files []string
		err := filepath.WalkDir(actx.WorkspacePath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if d.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(actx.WorkspacePath, path)
			if err != nil {
				return err
			}

			files = append(files, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			return err
		}

		actx.Logger.Info("Workspace", "files", files)
	}

	return nil
}
