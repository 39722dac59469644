// pkg/fab_io/context.go

package fab_io

import (
	"context"
	"os"
	"os/user"
	"runtime"
	"strings"
	"time"

	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type RuntimeContext struct {
	Ctx        context.Context
	Log        *zap.Logger
	Timestamp  time.Time
	Span       trace.Span
	Command    string
	Component  string
	RunID      string
	Attributes map[string]string
}

// NewContext sets up tracing and a scoped logger for one command invocation.
func NewContext(parent context.Context, cmdName string) *RuntimeContext {
	if parent == nil {
		parent = context.Background()
	}
	ctx, span := telemetry.Start(parent, cmdName)
	runID := uuid.New().String()[:8]

	comp, _ := resolveCallContext(2)
	logger := zap.L().With(
		zap.String("command", cmdName),
		zap.String("run_id", runID),
		zap.String("trace_id", span.SpanContext().TraceID().String()),
	).Named(comp)

	logEnv(logger)

	return &RuntimeContext{
		Ctx:        ctx,
		Span:       span,
		Log:        logger,
		Timestamp:  time.Now(),
		Component:  comp,
		Command:    cmdName,
		RunID:      runID,
		Attributes: make(map[string]string),
	}
}

// WithContext returns a shallow copy bound to ctx, sharing logger and span.
// Per-host workers use it so cancellation stays scoped.
func (rc *RuntimeContext) WithContext(ctx context.Context) *RuntimeContext {
	cp := *rc
	cp.Ctx = ctx
	return &cp
}

// Step opens a child span for one workflow step and returns a context bound to it.
func (rc *RuntimeContext) Step(name string, attrs ...attribute.KeyValue) (*RuntimeContext, func()) {
	ctx, span := telemetry.Start(rc.Ctx, name, attrs...)
	cp := *rc
	cp.Ctx = ctx
	cp.Span = span
	return &cp, func() { span.End() }
}

// HandlePanic recovers panics, logs them, and converts to an error.
func (rc *RuntimeContext) HandlePanic(errPtr *error) {
	if r := recover(); r != nil {
		*errPtr = cerr.WithStack(cerr.AssertionFailedf("panic: %v", r))
		rc.Log.Error("panic recovered", zap.Any("panic", r))
	}
}

// End logs the outcome, records span attributes, and ends the span.
func (rc *RuntimeContext) End(errPtr *error) {
	defer rc.Span.End()

	var err error
	if errPtr != nil {
		err = *errPtr
	}
	duration := time.Since(rc.Timestamp)

	switch {
	case err == nil:
		rc.Log.Info("Command completed", zap.Duration("duration", duration))
	case fab_err.IsExpectedUserError(err):
		rc.Log.Warn("Command stopped", zap.Duration("duration", duration), zap.Error(err))
	default:
		rc.Log.Error("Command failed", zap.Duration("duration", duration), zap.Error(err))
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("success", err == nil),
		attribute.Int64("duration_ms", duration.Milliseconds()),
		attribute.String("os", runtime.GOOS),
		attribute.String("args", telemetry.TruncateArgs(os.Args[1:])),
		attribute.String("version", shared.Version),
		attribute.String("run_id", rc.RunID),
		attribute.String("error_type", classifyError(err)),
	}
	for k, v := range rc.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	rc.Span.SetAttributes(attrs...)
}

func logEnv(log *zap.Logger) {
	if u, err := user.Current(); err == nil {
		log.Debug("user context",
			zap.String("username", u.Username),
			zap.String("uid", u.Uid),
			zap.String("home", u.HomeDir),
		)
	}
}

func resolveCallContext(skip int) (component, action string) {
	pc, file, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown", "unknown"
	}
	parts := strings.Split(file, "/")
	if len(parts) >= 2 {
		component = parts[len(parts)-2]
	} else {
		component = "unknown"
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		fields := strings.Split(fn.Name(), ".")
		action = fields[len(fields)-1]
	} else {
		action = "unknown"
	}
	return component, action
}

func classifyError(err error) string {
	if err == nil {
		return ""
	}
	return fab_err.Category(err).String()
}
