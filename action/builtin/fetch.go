package builtin

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/otiai10/copy"

	"github.com/cschleiden/go-scaffolder/action"
)

type fetchPlainInput struct {
	URL        string `mapstructure:"url"`
	TargetPath string `mapstructure:"targetPath"`
}

// FetchPlain copies a directory into the workspace. Relative urls are resolved against the
// task's base url, which has to point to a local directory.
func FetchPlain() *action.Action {
	return &action.Action{
		ID:          "fetch:plain",
		Description: "Downloads content and places it in the workspace, or optionally in a subdirectory specified by the 'targetPath' input option.",
		Schema: &action.Schema{
			Input: map[string]any{
				"type":     "object",
				"required": []any{"url"},
				"properties": map[string]any{
					"url": map[string]any{
						"type":        "string",
						"description": "Relative path or absolute location of the directory tree to fetch",
					},
					"targetPath": map[string]any{
						"type":        "string",
						"description": "Target path within the working directory to download the contents to.",
					},
				},
			},
		},
		Handler: fetchPlain,
	}
}

func fetchPlain(ctx context.Context, actx *action.Context) error {
	in, err := decodeInput[fetchPlainInput](actx.Input)
	if err != nil {
		return err
	}

	source, err := resolveSource(actx.BaseURL, in.URL)
	if err != nil {
		return err
	}

	target, err := resolveSafeChildPath(actx.WorkspacePath, in.TargetPath)
	if err != nil {
		return err
	}

	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("reading %s: %w", in.URL, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", in.URL)
	}

	actx.Logger.Info("Fetching plain content", "url", in.URL)

	if err := copy.Copy(source, target); err != nil {
		return fmt.Errorf("copying %s: %w", in.URL, err)
	}

	return nil
}

func resolveSource(baseURL, location string) (string, error) {
	if location == "" {
		return "", errors.New("missing url")
	}

	if strings.HasPrefix(location, "file://") {
		return localPath(location)
	}

	if filepath.IsAbs(location) {
		return location, nil
	}

	if baseURL == "" {
		return "", fmt.Errorf("cannot resolve relative location %q without a base url", location)
	}

	base, err := localPath(baseURL)
	if err != nil {
		return "", err
	}

	// A base url pointing to a template file refers to its directory
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		base = filepath.Dir(base)
	}

	return filepath.Join(base, location), nil
}

func localPath(location string) (string, error) {
	if !strings.Contains(location, "://") {
		return location, nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid location %q: %w", location, err)
	}

	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported location %q, only local directories can be fetched", location)
	}

	return filepath.FromSlash(u.Path), nil
}
