package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cschleiden/go-scaffolder/action"
	"github.com/cschleiden/go-scaffolder/actiontester"
	"github.com/cschleiden/go-scaffolder/registry"
)

func Test_Register(t *testing.T) {
	r := registry.New()
	require.NoError(t, Register(r))
	require.Equal(t, []string{"debug:log", "fetch:plain", "fs:delete", "fs:write"}, r.Actions())

	// Registering twice fails
	require.Error(t, Register(r))
}

func Test_DebugLog(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "README.md"), []byte("hi"), 0o644))

	r, err := actiontester.Run(context.Background(), DebugLog(), map[string]any{
		"message":       "Hello, backstage!",
		"listWorkspace": true,
	}, actiontester.WithWorkspace(workspace))
	require.NoError(t, err)
	require.Len(t, r.Logs, 2)
	require.Contains(t, r.Logs[0], "Hello, backstage!")
	require.Contains(t, r.Logs[1], "README.md")
}

func Test_DebugLog_RejectsUnknownInput(t *testing.T) {
	_, err := actiontester.Run(context.Background(), DebugLog(), map[string]any{"unknown": 1})
	require.Error(t, err)
}

func Test_FsWrite(t *testing.T) {
	workspace := t.TempDir()

	r, err := actiontester.Run(context.Background(), FsWrite(), map[string]any{
		"path":    "docs/index.md",
		"content": "# Hello",
	}, actiontester.WithWorkspace(workspace))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"path": "docs/index.md"}, r.Output)

	b, err := os.ReadFile(filepath.Join(workspace, "docs", "index.md"))
	require.NoError(t, err)
	require.Equal(t, "# Hello", string(b))
}

func Test_FsWrite_InvalidInput(t *testing.T) {
	_, err := actiontester.Run(context.Background(), FsWrite(), map[string]any{"path": "a.txt"})

	var inputErr *action.InputError
	require.ErrorAs(t, err, &inputErr)
}

func Test_FsWrite_RejectsPathOutsideWorkspace(t *testing.T) {
	_, err := actiontester.Run(context.Background(), FsWrite(), map[string]any{
		"path":    "../escape.txt",
		"content": "x",
	}, actiontester.WithWorkspace(t.TempDir()))
	require.ErrorContains(t, err, "outside its parent")
}

func Test_FsDelete(t *testing.T) {
	workspace := t.TempDir()
	for _, f := range []string{"a.txt", "b.md", "nested/c.txt", "nested/deeper/d.txt", "keep/e.md"} {
		p := filepath.Join(workspace, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(f), 0o644))
	}

	_, err := actiontester.Run(context.Background(), FsDelete(), map[string]any{
		"files": []any{"**/*.txt", "b.md"},
	}, actiontester.WithWorkspace(workspace))
	require.NoError(t, err)

	require.NoFileExists(t, filepath.Join(workspace, "a.txt"))
	require.NoFileExists(t, filepath.Join(workspace, "b.md"))
	require.NoFileExists(t, filepath.Join(workspace, "nested", "c.txt"))
	require.NoFileExists(t, filepath.Join(workspace, "nested", "deeper", "d.txt"))
	require.FileExists(t, filepath.Join(workspace, "keep", "e.md"))
}

func Test_FsDelete_KeepsWorkspace(t *testing.T) {
	for _, pattern := range []string{".", "./", "", "nested/..", "**"} {
		t.Run(pattern, func(t *testing.T) {
			workspace := t.TempDir()
			require.NoError(t, os.MkdirAll(filepath.Join(workspace, "nested"), 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(workspace, "nested", "a.txt"), []byte("a"), 0o644))

			_, err := actiontester.Run(context.Background(), FsDelete(), map[string]any{
				"files": []any{pattern},
			}, actiontester.WithWorkspace(workspace))

			require.DirExists(t, workspace)
			if pattern == "**" {
				require.NoError(t, err)
				require.NoDirExists(t, filepath.Join(workspace, "nested"))
				return
			}

			require.Error(t, err)
			require.FileExists(t, filepath.Join(workspace, "nested", "a.txt"))
		})
	}
}

func Test_FetchPlain(t *testing.T) {
	templates := t.TempDir()
	skeleton := filepath.Join(templates, "skeleton")
	require.NoError(t, os.MkdirAll(filepath.Join(skeleton, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skeleton, "src", "main.go"), []byte("package main"), 0o644))

	tests := []struct {
		name    string
		baseURL string
		input   map[string]any
		want    string
		wantErr bool
	}{
		{
			name:    "relative to base directory",
			baseURL: "file://" + filepath.ToSlash(templates),
			input:   map[string]any{"url": "./skeleton"},
			want:    filepath.Join("src", "main.go"),
		},
		{
			name:    "relative to template file",
			baseURL: filepath.Join(templates, "template.yaml"),
			input:   map[string]any{"url": "./skeleton", "targetPath": "out"},
			want:    filepath.Join("out", "src", "main.go"),
		},
		{
			name:  "absolute",
			input: map[string]any{"url": skeleton},
			want:  filepath.Join("src", "main.go"),
		},
		{
			name:    "remote urls are not supported",
			baseURL: "https://github.com/backstage/backstage/tree/master/",
			input:   map[string]any{"url": "./skeleton"},
			wantErr: true,
		},
		{
			name:    "target outside workspace",
			input:   map[string]any{"url": skeleton, "targetPath": "../../"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workspace := t.TempDir()

			_, err := actiontester.Run(context.Background(), FetchPlain(), tt.input,
				actiontester.WithWorkspace(workspace),
				actiontester.WithBaseURL(tt.baseURL),
			)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.FileExists(t, filepath.Join(workspace, tt.want))
		})
	}
}
