package core

import (
	"database/sql"
	"fmt"
	"time"
)

type EventType string

const (
	EventTypeLog        EventType = "log"
	EventTypeCompletion EventType = "completion"
	EventTypeCancelled  EventType = "cancelled"
)

var _ sql.Scanner = (*EventType)(nil)

func (t *EventType) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		*t = EventType(v)
	case []byte:
		*t = EventType(v)
	default:
		return fmt.Errorf("cannot scan %T into event type", value)
	}

	return nil
}

// TaskEvent is a single, append-only entry in a task's event log.
type TaskEvent struct {
	// ID is strictly increasing within a task.
	ID int64 `json:"id"`

	TaskID string `json:"taskId"`

	Type EventType `json:"type"`

	Body EventBody `json:"body"`

	CreatedAt time.Time `json:"createdAt"`
}

// EventBody holds the payload of an event. Log events use Message and Metadata, completion
// events use Output or Error.
type EventBody struct {
	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	Output map[string]any `json:"output,omitempty"`
	Error  *ErrorBody     `json:"error,omitempty"`
}

// CompletionBody is the result recorded when a task reaches a terminal status.
type CompletionBody struct {
	Output map[string]any `json:"output,omitempty"`
	Error  *ErrorBody     `json:"error,omitempty"`
}

type ErrorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func NewLogBody(message string, metadata map[string]any) EventBody {
	return EventBody{
		Message:  message,
		Metadata: metadata,
	}
}

func NewCompletionEventBody(body *CompletionBody) EventBody {
	if body == nil {
		return EventBody{}
	}

	return EventBody{
		Output: body.Output,
		Error:  body.Error,
	}
}
