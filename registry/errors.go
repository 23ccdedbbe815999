package registry

import "fmt"

type ErrInvalidAction struct {
	msg string
}

func (e *ErrInvalidAction) Error() string {
	return e.msg
}

type ErrActionAlreadyRegistered struct {
	msg string
}

func (e *ErrActionAlreadyRegistered) Error() string {
	return e.msg
}

// ErrActionNotFound is returned when a step references an action that is not registered.
type ErrActionNotFound struct {
	ID string
}

func (e *ErrActionNotFound) Error() string {
	return fmt.Sprintf("Template action with ID '%s' is not registered.", e.ID)
}

func (e *ErrActionNotFound) Name() string {
	return "NotFoundError"
}
