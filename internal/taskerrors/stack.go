package taskerrors

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

type stackTracer interface {
	Stack() string
}

// Stack formats the given error with its name, message and a stack trace. If err, or any error
// it wraps, carries a stack trace, that trace is used. For all other errors the trace is
// captured at the call to Stack, not where err was created.
func Stack(err error) string {
	if err == nil {
		return ""
	}

	header := fmt.Sprintf("%s: %s", Name(err), err.Error())

	var st stackTracer
	if errors.As(err, &st) {
		return header + "\n" + st.Stack()
	}

	var ge *goerrors.Error
	if errors.As(err, &ge) {
		return header + "\n" + string(ge.Stack())
	}

	return header + "\n" + string(goerrors.Wrap(err, 1).Stack())
}
