// pkg/execute/execute.go

package execute

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Options configures Run, which invokes a host-side tool directly
// (no shell) on the operator's machine.
type Options struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
	Logger  *zap.Logger
}

const defaultTimeout = 10 * time.Minute

// Run executes a local program and returns its combined output.
func Run(ctx context.Context, opts Options) (string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.L()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := telemetry.Start(ctx, "execute.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("command", opts.Command),
		attribute.String("args", strings.Join(opts.Args, " ")),
	)

	line := opts.Command + " " + QuoteAll(opts.Args)
	logger.Debug("Starting execution", zap.String("command", line), zap.String("dir", opts.Dir))

	cmd := exec.CommandContext(ctx, opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()
	if err != nil {
		span.RecordError(err)
		summary := fab_err.ExtractSummary(output, 2)
		logger.Error("Execution failed",
			zap.String("command", line),
			zap.String("summary", summary),
			zap.Error(err))
		return output, cerr.WithHint(cerr.Wrapf(err, "%s failed", opts.Command), summary)
	}

	logger.Debug("Execution succeeded", zap.String("command", line))
	return output, nil
}
