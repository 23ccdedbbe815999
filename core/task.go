package core

import (
	"database/sql"
	"fmt"
	"time"
)

type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

var _ sql.Scanner = (*TaskStatus)(nil)

// Terminal returns true once no worker will ever pick up the task again.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusFailed, TaskStatusCompleted, TaskStatusCancelled:
		return true
	}

	return false
}

func (s *TaskStatus) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		*s = TaskStatus(v)
	case []byte:
		*s = TaskStatus(v)
	default:
		return fmt.Errorf("cannot scan %T into task status", value)
	}

	return nil
}

// Step is one named invocation of a registered action.
type Step struct {
	ID     string         `json:"id" yaml:"id" validate:"required"`
	Name   string         `json:"name" yaml:"name"`
	Action string         `json:"action" yaml:"action" validate:"required"`
	Input  map[string]any `json:"input,omitempty" yaml:"input,omitempty"`

	// If is either a boolean or a template expression. When it evaluates to a falsy value the
	// step is skipped.
	If any `json:"if,omitempty" yaml:"if,omitempty"`
}

// TaskSpec is the immutable description of the work a task performs.
type TaskSpec struct {
	BaseURL string         `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Values  map[string]any `json:"values" yaml:"values"`
	Steps   []Step         `json:"steps" yaml:"steps" validate:"unique=ID,dive"`
	Output  map[string]any `json:"output" yaml:"output"`
}

// Secrets is an optional credential bag associated with a task when it is dispatched.
type Secrets map[string]string

type Task struct {
	ID string `json:"id"`

	Spec *TaskSpec `json:"spec"`

	Status TaskStatus `json:"status"`

	CreatedAt time.Time `json:"createdAt"`

	LastHeartbeatAt *time.Time `json:"lastHeartbeatAt,omitempty"`

	Secrets Secrets `json:"-"`
}
