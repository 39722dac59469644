// pkg/verify/check.go

package verify

import (
	"strings"
	"time"

	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Options bound the probe retries.
type Options struct {
	Attempts int
	Delay    time.Duration
}

// DefaultOptions retries for about ten seconds.
var DefaultOptions = Options{Attempts: shared.ProbeAttempts, Delay: shared.ProbeDelay}

// StartAndCheck runs the start commands and then the probes with DefaultOptions.
func StartAndCheck(rc *fab_io.RuntimeContext, ex execute.Executor, starts []*execute.Cmd, probes ...Probe) (Outcome, error) {
	return StartAndCheckWith(rc, ex, starts, DefaultOptions, probes...)
}

// StartAndCheckWith runs each start command, failing on the first error, and
// then retries the probes until all pass or the attempts run out. The
// verdict is printed; a failed verdict is returned with a nil error.
func StartAndCheckWith(rc *fab_io.RuntimeContext, ex execute.Executor, starts []*execute.Cmd, opts Options, probes ...Probe) (Outcome, error) {
	ctx, span := telemetry.Start(rc.Ctx, "verify.StartAndCheck")
	defer span.End()
	log := otelzap.Ctx(ctx)

	if opts.Attempts < 1 {
		opts.Attempts = 1
	}

	// INTERVENE
	for _, cmd := range starts {
		if _, err := ex.Run(ctx, cmd); err != nil {
			return Outcome{}, cerr.Wrap(err, "failed to start the service")
		}
	}

	// EVALUATE
	if len(probes) == 0 {
		out := Outcome{OK: true, Detail: "started; nothing to probe"}
		logger.Success(ctx, "Service started", zap.String("host", ex.Host().Label()))
		return out, nil
	}

	var failed []string
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		failed = failed[:0]
		for _, p := range probes {
			if out := p.Check(ctx); !out.OK {
				failed = append(failed, out.Detail)
			}
		}
		if len(failed) == 0 {
			logger.Success(ctx, "Service is up and answering", zap.String("host", ex.Host().Label()))
			return Outcome{OK: true, Detail: probeNames(probes)}, nil
		}
		log.Debug("Probe failed", zap.Int("attempt", attempt), zap.Strings("failures", failed))
		if attempt == opts.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return Outcome{}, cerr.Wrap(ctx.Err(), "verification interrupted")
		case <-time.After(opts.Delay):
		}
	}

	out := Outcome{Detail: strings.Join(failed, "; ")}
	logger.Failure(ctx, "Service verification failed",
		zap.String("host", ex.Host().Label()),
		zap.String("detail", out.Detail))
	return out, nil
}

func probeNames(probes []Probe) string {
	names := make([]string, len(probes))
	for i, p := range probes {
		names[i] = p.Name()
	}
	return strings.Join(names, ", ") + " ok"
}
