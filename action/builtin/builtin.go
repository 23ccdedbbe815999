// Package builtin contains actions that ship with the scaffolder.
package builtin

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/cschleiden/go-scaffolder/action"
	"github.com/cschleiden/go-scaffolder/registry"
)

// Actions returns all builtin actions.
func Actions() []*action.Action {
	return []*action.Action{
		DebugLog(),
		FetchPlain(),
		FsWrite(),
		FsDelete(),
	}
}

// Register registers all builtin actions with the given registry.
func Register(r *registry.Registry) error {
	for _, a := range Actions() {
		if err := r.Register(a); err != nil {
			return fmt.Errorf("registering builtin action %s: %w", a.ID, err)
		}
	}

	return nil
}

func decodeInput[T any](input map[string]any) (T, error) {
	var out T

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return out, fmt.Errorf("creating input decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		return out, fmt.Errorf("decoding input: %w", err)
	}

	return out, nil
}

// resolveSafeChildPath resolves p relative to base and makes sure the result does not escape base.
func resolveSafeChildPath(base, p string) (string, error) {
	target := filepath.Join(base, p)

	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("relative path is not allowed to refer to a directory outside its parent: %s", p)
	}

	return target, nil
}
