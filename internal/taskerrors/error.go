// Package taskerrors converts errors raised while running a task into the persisted
// {name, message} form.
package taskerrors

import (
	"errors"

	"github.com/cschleiden/go-scaffolder/core"
)

// DefaultName is used for errors that do not carry a name of their own.
const DefaultName = "Error"

type namedError interface {
	error
	Name() string
}

// FromError returns the persisted form of the given error
func FromError(err error) *core.ErrorBody {
	if err == nil {
		return nil
	}

	return &core.ErrorBody{
		Name:    Name(err),
		Message: err.Error(),
	}
}

// Name returns the name of the first error in the chain that has one, or DefaultName
func Name(err error) string {
	var ne namedError
	if errors.As(err, &ne) {
		return ne.Name()
	}

	return DefaultName
}
