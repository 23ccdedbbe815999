package tracing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type notFoundError struct{}

func (notFoundError) Error() string { return "Template action with ID 'x' is not registered." }

func (notFoundError) Name() string { return "NotFoundError" }

func recordSpan(t *testing.T, err error) sdktrace.ReadOnlySpan {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	_, span := tp.Tracer("test").Start(context.Background(), "Step: test")
	require.Equal(t, err, WithSpanError(span, err))
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)

	return spans[0]
}

func Test_WithSpanError(t *testing.T) {
	span := recordSpan(t, fmt.Errorf("running step: %w", notFoundError{}))

	require.Equal(t, codes.Error, span.Status().Code)
	require.Equal(t, "NotFoundError: running step: Template action with ID 'x' is not registered.", span.Status().Description)

	require.Len(t, span.Events(), 1)
	require.Contains(t, span.Events()[0].Attributes, attribute.String(ErrorName, "NotFoundError"))
}

func Test_WithSpanError_UnnamedError(t *testing.T) {
	span := recordSpan(t, errors.New("boom"))

	require.Equal(t, codes.Error, span.Status().Code)
	require.Equal(t, "Error: boom", span.Status().Description)
}

func Test_WithSpanError_IgnoresNilAndCancellation(t *testing.T) {
	require.Equal(t, codes.Unset, recordSpan(t, nil).Status().Code)

	span := recordSpan(t, fmt.Errorf("claiming: %w", context.Canceled))
	require.Equal(t, codes.Unset, span.Status().Code)
	require.Empty(t, span.Events())
}
