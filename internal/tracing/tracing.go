package tracing

import (
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "go-scaffolder"

// Tracer returns the package tracer from the given provider, falling back to a no-op tracer.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = trace.NewNoopTracerProvider()
	}

	return tp.Tracer(TracerName)
}
