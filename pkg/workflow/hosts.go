// pkg/workflow/hosts.go

package workflow

import (
	"context"
	"sync"

	"github.com/ICRAR/fabtemplate/pkg/appspec"
	"github.com/ICRAR/fabtemplate/pkg/config"
	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/inventory"
	"github.com/ICRAR/fabtemplate/pkg/remote"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ExecutorFactory connects to a host.
type ExecutorFactory func(ctx context.Context, host inventory.Host) (execute.Executor, error)

// HostFunc is work done against one host.
type HostFunc func(rc *fab_io.RuntimeContext, t *Target) error

// DefaultFactory runs local hosts in-process and dials everything else over SSH.
func DefaultFactory(cfg *config.Config) ExecutorFactory {
	return func(ctx context.Context, host inventory.Host) (execute.Executor, error) {
		if host.IsLocal() {
			return execute.NewLocalExecutor(), nil
		}
		return remote.Dial(ctx, host, remote.Options{StrictHostKeys: cfg.StrictHostKeys})
	}
}

// RunOptions carries the per-run knobs of RunHosts.
type RunOptions struct {
	Factory ExecutorFactory
	Profile appspec.Profile
}

// RunHosts runs fn once per host, one after the other or, when the
// configuration asks for it, in parallel up to MaxParallel at a time.
// Hosts do not wait for each other; every host's error is collected.
func RunHosts(rc *fab_io.RuntimeContext, cfg *config.Config, hosts []inventory.Host, opts RunOptions, fn HostFunc) ([]*Report, error) {
	if opts.Factory == nil {
		opts.Factory = DefaultFactory(cfg)
	}
	if len(hosts) == 0 {
		hosts = []inventory.Host{{}}
	}

	reports := make([]*Report, len(hosts))
	var (
		mu     sync.Mutex
		result error
	)
	one := func(i int, host inventory.Host) {
		report, err := runHost(rc, cfg, host, opts, fn)
		reports[i] = report
		if err != nil {
			mu.Lock()
			result = multierror.Append(result, cerr.Wrapf(err, "%s", host.Label()))
			mu.Unlock()
		}
	}

	if !cfg.Parallel || len(hosts) == 1 {
		for i, h := range hosts {
			if rc.Ctx.Err() != nil {
				result = multierror.Append(result, rc.Ctx.Err())
				break
			}
			one(i, h)
		}
		return reports, result
	}

	limit := cfg.MaxParallel
	if limit < 1 {
		limit = shared.DefaultMaxParallel
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, h := range hosts {
		g.Go(func() error {
			one(i, h)
			return nil
		})
	}
	_ = g.Wait()
	return reports, result
}

func runHost(rc *fab_io.RuntimeContext, cfg *config.Config, host inventory.Host, opts RunOptions, fn HostFunc) (report *Report, err error) {
	hostRC, end := rc.Step("workflow.host", attribute.String("host", host.Label()))
	defer end()
	defer hostRC.HandlePanic(&err)

	report = &Report{Host: host.Label()}
	ex, err := opts.Factory(hostRC.Ctx, host)
	if err != nil {
		report.add(StepResult{Step: "connect", Detail: err.Error()})
		return report, err
	}
	defer ex.Close()

	t, err := NewTarget(hostRC.Ctx, ex, cfg, opts.Profile)
	if err != nil {
		report.add(StepResult{Step: "connect", Detail: err.Error()})
		return report, err
	}
	t.Report = report

	hostRC.Log.Debug("Target ready",
		zap.String("host", host.Label()),
		zap.String("source", t.Layout.SourceDir),
		zap.String("install", t.Layout.InstallDir),
		zap.String("root", t.Layout.RootDir))
	return report, fn(hostRC, t)
}
