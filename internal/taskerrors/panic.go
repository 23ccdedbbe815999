package taskerrors

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// PanicError is returned in place of a panic raised by an action handler.
type PanicError struct {
	message    string
	stacktrace string
}

// NewPanicError converts a recovered value. It has to be called from the deferred function
// that recovered the panic so that the stack still points to the panicking code.
func NewPanicError(v any) *PanicError {
	return &PanicError{
		message:    fmt.Sprintf("%v", v),
		stacktrace: string(goerrors.Wrap(v, 2).Stack()),
	}
}

var _ error = (*PanicError)(nil)

func (pe *PanicError) Error() string {
	return pe.message
}

func (pe *PanicError) Name() string {
	return "PanicError"
}

func (pe *PanicError) Stack() string {
	return pe.stacktrace
}
