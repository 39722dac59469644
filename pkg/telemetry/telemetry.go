// pkg/telemetry/telemetry.go
package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	cerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	tracer   trace.Tracer = noop.NewTracerProvider().Tracer("fabtemplate")
	shutdown              = func(context.Context) error { return nil }
)

// Init configures OpenTelemetry; call this early in main().
// Spans are written as JSON lines to the state directory when
// FABTEMPLATE_TELEMETRY is on, and discarded otherwise.
func Init(service string) error {
	if !Enabled() {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		tracer = tp.Tracer(service)
		return nil
	}

	dir := filepath.Join(os.TempDir(), "fabtemplate")
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".local", "state", "fabtemplate")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return cerr.Wrap(err, "failed to create telemetry directory")
	}

	file, err := os.OpenFile(filepath.Join(dir, "telemetry.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return cerr.Wrap(err, "failed to open telemetry file")
	}

	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(file),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		_ = file.Close()
		return cerr.Wrap(err, "failed to create file exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", service),
			attribute.String("host.name", hostname()),
		)),
	)
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(service)
	shutdown = func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		_ = file.Close()
		return err
	}
	return nil
}

// Start a telemetry span with optional attributes.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown flushes pending spans.
func Shutdown(ctx context.Context) error {
	return shutdown(ctx)
}

func Enabled() bool {
	switch strings.ToLower(os.Getenv("FABTEMPLATE_TELEMETRY")) {
	case "on", "1", "true", "yes":
		return true
	}
	return false
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

// TruncateArgs keeps span attributes small.
func TruncateArgs(args []string) string {
	full := strings.Join(args, " ")
	if len(full) > 256 {
		return full[:256] + "..."
	}
	return full
}
