// Package actiontester runs a single action handler outside of a worker, for unit testing actions.
package actiontester

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cschleiden/go-scaffolder/action"
	"github.com/cschleiden/go-scaffolder/core"
)

type Result struct {
	// Output holds the values the action registered via Output
	Output map[string]any

	// Logs holds every non-empty line the action wrote to its logger or log stream
	Logs []string
}

type options struct {
	workspacePath string
	taskID        string
	stepID        string
	baseURL       string
	secrets       core.Secrets
	logger        *slog.Logger
}

type Option func(*options)

// WithWorkspace runs the action in the given workspace. The workspace is not removed afterwards.
// Without this option a temporary workspace is used.
func WithWorkspace(path string) Option {
	return func(o *options) {
		o.workspacePath = path
	}
}

func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = baseURL
	}
}

func WithSecrets(secrets core.Secrets) Option {
	return func(o *options) {
		o.secrets = secrets
	}
}

func WithStepID(stepID string) Option {
	return func(o *options) {
		o.stepID = stepID
	}
}

// WithLogger additionally sends the action's log lines to the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Run validates the given input against the action's input schema and invokes its handler.
// Temporary directories created by the action are removed before Run returns.
func Run(ctx context.Context, a *action.Action, input map[string]any, opts ...Option) (*Result, error) {
	o := &options{
		taskID: uuid.NewString(),
		stepID: "test",
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := a.Schema.ValidateInput(a.ID, input); err != nil {
		return nil, err
	}

	if o.workspacePath == "" {
		dir, err := os.MkdirTemp("", "actiontester-")
		if err != nil {
			return nil, fmt.Errorf("creating workspace: %w", err)
		}
		defer os.RemoveAll(dir)

		o.workspacePath = dir
	}

	s := &scope{
		workspacePath: o.workspacePath,
		stepID:        o.stepID,
		output:        map[string]any{},
	}
	defer s.cleanup()

	w := &lineWriter{logger: o.logger}

	err := a.Handler(ctx, &action.Context{
		StepScope:     s,
		TaskID:        o.taskID,
		StepID:        o.stepID,
		BaseURL:       o.baseURL,
		Input:         input,
		Secrets:       o.secrets,
		Logger:        slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})),
		LogStream:     w,
		WorkspacePath: o.workspacePath,
	})

	return &Result{
		Output: s.output,
		Logs:   w.lines(),
	}, err
}

type scope struct {
	mu            sync.Mutex
	workspacePath string
	stepID        string
	output        map[string]any
	tmpDirs       []string
}

func (s *scope) Output(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.output[name] = value
}

func (s *scope) CreateTemporaryDirectory() (string, error) {
	dir, err := os.MkdirTemp(filepath.Dir(s.workspacePath), filepath.Base(s.workspacePath)+"_step-"+s.stepID+"-")
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tmpDirs = append(s.tmpDirs, dir)

	return dir, nil
}

func (s *scope) cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, dir := range s.tmpDirs {
		errs = append(errs, os.RemoveAll(dir))
	}

	return errors.Join(errs...)
}

type lineWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	logger *slog.Logger
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.logger != nil {
		w.logger.Debug(strings.TrimSpace(string(p)))
	}

	return w.buf.Write(p)
}

func (w *lineWriter) lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var lines []string
	for _, l := range strings.Split(w.buf.String(), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	return lines
}
