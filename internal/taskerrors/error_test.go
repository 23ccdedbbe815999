package taskerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cschleiden/go-scaffolder/core"
)

type notFoundError struct{}

func (notFoundError) Error() string { return "not here" }
func (notFoundError) Name() string  { return "NotFoundError" }

func Test_FromError_Nil(t *testing.T) {
	require.Nil(t, FromError(nil))
}

func Test_FromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want *core.ErrorBody
	}{
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: &core.ErrorBody{Name: "Error", Message: "boom"},
		},
		{
			name: "named error",
			err:  notFoundError{},
			want: &core.ErrorBody{Name: "NotFoundError", Message: "not here"},
		},
		{
			name: "wrapped named error keeps name",
			err:  fmt.Errorf("running step: %w", notFoundError{}),
			want: &core.ErrorBody{Name: "NotFoundError", Message: "running step: not here"},
		},
		{
			name: "panic",
			err:  NewPanicError("oops"),
			want: &core.ErrorBody{Name: "PanicError", Message: "oops"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, FromError(tt.err))
		})
	}
}
