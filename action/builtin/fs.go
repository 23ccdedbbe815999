package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/cschleiden/go-scaffolder/action"
)

type fsWriteInput struct {
	Path    string `mapstructure:"path"`
	Content string `mapstructure:"content"`
}

// FsWrite creates a file with the given content in the workspace.
func FsWrite() *action.Action {
	return &action.Action{
		ID:          "fs:write",
		Description: "Creates a file with the given content in the given path.",
		Schema: &action.Schema{
			Input: map[string]any{
				"type":     "object",
				"required": []any{"path", "content"},
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Relative path within the workspace.",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Content of the file.",
					},
				},
			},
			Output: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
			},
		},
		Handler: fsWrite,
	}
}

func fsWrite(ctx context.Context, actx *action.Context) error {
	in, err := decodeInput[fsWriteInput](actx.Input)
	if err != nil {
		return err
	}

	target, err := resolveSafeChildPath(actx.WorkspacePath, in.Path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	if err := os.WriteFile(target, []byte(in.Content), 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	actx.Output("path", in.Path)

	return nil
}

type fsDeleteInput struct {
	Files []string `mapstructure:"files"`
}

// FsDelete removes files and directories matching the given glob patterns from the workspace.
func FsDelete() *action.Action {
	return &action.Action{
		ID:          "fs:delete",
		Description: "Deletes files and directories from the workspace",
		Schema: &action.Schema{
			Input: map[string]any{
				"type":     "object",
				"required": []any{"files"},
				"properties": map[string]any{
					"files": map[string]any{
						"type":        "array",
						"description": "A list of files and directories that will be deleted. Glob patterns are supported.",
						"items":       map[string]any{"type": "string"},
					},
				},
			},
		},
		Handler: fsDelete,
	}
}

func fsDelete(ctx context.Context, actx *action.Context) error {
	in, err := decodeInput[fsDeleteInput](actx.Input)
	if err != nil {
		return err
	}

	fsys := os.DirFS(actx.WorkspacePath)

	for _, pattern := range in.Files {
		target, err := resolveSafeChildPath(actx.WorkspacePath, pattern)
		if err != nil {
			return err
		}

		if target == filepath.Clean(actx.WorkspacePath) {
			return fmt.Errorf("deleting the workspace directory is not allowed: %q", pattern)
		}

		matches, err := doublestar.Glob(fsys, filepath.ToSlash(pattern))
		if err != nil {
			return fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}

		for _, match := range matches {
			// Patterns like ** also match the workspace itself
			if match == "." {
				continue
			}

			if err := os.RemoveAll(filepath.Join(actx.WorkspacePath, filepath.FromSlash(match))); err != nil {
				return fmt.Errorf("deleting %s: %w", match, err)
			}

			actx.Logger.Info("File deleted", "path", match)
		}
	}

	return nil
}
