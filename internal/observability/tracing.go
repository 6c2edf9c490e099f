package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/example/go-eonorm"

// Tracer returns the tracer used for band pipeline spans. It resolves against
// the global provider, which is a no-op until InstallStdoutTracing is called.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InstallStdoutTracing installs a global tracer provider exporting spans to w.
// The returned function flushes and shuts the provider down.
func InstallStdoutTracing(w io.Writer) (func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("observability: stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
