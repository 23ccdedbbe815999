package worker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cschleiden/go-scaffolder/action"
)

// stepScope collects the outputs of a single step and keeps track of the temporary directories
// it created.
type stepScope struct {
	workspacePath string
	stepID        string

	mu      sync.Mutex
	outputs map[string]any
	tmpDirs []string
}

var _ action.StepScope = (*stepScope)(nil)

func newStepScope(workspacePath, stepID string) *stepScope {
	return &stepScope{
		workspacePath: workspacePath,
		stepID:        stepID,
		outputs:       map[string]any{},
	}
}

func (s *stepScope) Output(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outputs[name] = value
}

// CreateTemporaryDirectory creates a directory next to the task's workspace. Its name starts
// with `<workspace>_step-<stepId>-`.
func (s *stepScope) CreateTemporaryDirectory() (string, error) {
	dir, err := os.MkdirTemp(filepath.Dir(s.workspacePath), fmt.Sprintf("%s_step-%s-", filepath.Base(s.workspacePath), s.stepID))
	if err != nil {
		return "", fmt.Errorf("creating temporary directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tmpDirs = append(s.tmpDirs, dir)

	return dir, nil
}

func (s *stepScope) output() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = v
	}

	return out
}

// cleanup removes all temporary directories created by the step
func (s *stepScope) cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, dir := range s.tmpDirs {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}

	s.tmpDirs = nil

	return errors.Join(errs...)
}
