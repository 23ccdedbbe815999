package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cschleiden/go-scaffolder/internal/taskerrors"
)

// WithSpanError records err on the span, tagged with the name it is persisted under, and
// returns it. Cancellation is not an error, the span keeps an unset status.
func WithSpanError(span trace.Span, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}

	name := taskerrors.Name(err)
	span.RecordError(err, trace.WithAttributes(attribute.String(ErrorName, name)))
	span.SetStatus(codes.Error, name+": "+err.Error())

	return err
}
