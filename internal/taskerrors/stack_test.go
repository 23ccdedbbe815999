package taskerrors

import (
	"errors"
	"fmt"
	"testing"

	goerrors "github.com/go-errors/errors"
	"github.com/stretchr/testify/require"
)

func Test_Stack(t *testing.T) {
	fn := func() {
		s := Stack(errors.New("boom"))

		require.Contains(t, s, "Error: boom\n")
		// In Go 1.24+, anonymous functions are named with .func1, .func2, etc.
		require.Contains(t, s, "Test_Stack.func1")
	}

	foo(fn)
}

func Test_Stack_PanicKeepsOwnTrace(t *testing.T) {
	var err *PanicError

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = NewPanicError(r)
			}
		}()

		panicky()
	}()

	require.NotNil(t, err)
	s := Stack(err)
	require.Contains(t, s, "PanicError: kaboom\n")
	require.Contains(t, s, "panicky")
}

func Test_Stack_WrappedKeepsOriginTrace(t *testing.T) {
	err := fmt.Errorf("running step: %w", origin())

	s := Stack(err)
	require.Contains(t, s, "running step: at origin\n")
	// Only the trace captured at creation has a frame for origin
	require.Contains(t, s, "\torigin: ")
}

func Test_Stack_WrappedPanicKeepsOwnTrace(t *testing.T) {
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("step failed: %w", NewPanicError(r))
			}
		}()

		panicky()
	}()

	s := Stack(err)
	require.Contains(t, s, "step failed: kaboom\n")
	require.Contains(t, s, "panicky")
}

func origin() error {
	return goerrors.Errorf("at origin")
}

func panicky() {
	panic("kaboom")
}

func foo(fn func()) {
	bar(fn)
}

func bar(fn func()) {
	fn()
}
