// pkg/workflow/target.go

// Package workflow strings the installation steps together and runs them
// against one or more hosts.
package workflow

import (
	"context"
	"path"

	"github.com/ICRAR/fabtemplate/pkg/appspec"
	"github.com/ICRAR/fabtemplate/pkg/config"
	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/inventory"
	"github.com/ICRAR/fabtemplate/pkg/platform"
	"github.com/ICRAR/fabtemplate/pkg/verify"
	cerr "github.com/cockroachdb/errors"
)

// Target binds the run configuration to one host. It is never shared
// between hosts.
type Target struct {
	Host    inventory.Host
	Exec    execute.Executor
	Config  *config.Config
	Profile appspec.Profile
	Layout  config.Layout
	Flavor  platform.Flavor
	Verify  verify.Options
	Report  *Report
}

// NewTarget resolves the directory layout for the executor's user.
func NewTarget(ctx context.Context, ex execute.Executor, cfg *config.Config, profile appspec.Profile) (*Target, error) {
	home, err := ex.Home(ctx)
	if err != nil {
		return nil, cerr.Wrapf(err, "failed to find the home directory on %s", ex.Host().Label())
	}
	return &Target{
		Host:    ex.Host(),
		Exec:    ex,
		Config:  cfg,
		Profile: profile,
		Layout:  cfg.Layout(home),
		Report:  &Report{Host: ex.Host().Label()},
	}, nil
}

// As returns a target for the same host reached as user. The report and
// the detected flavor carry over.
func (t *Target) As(ctx context.Context, user string) (*Target, error) {
	ex, err := t.Exec.AsUser(ctx, user)
	if err != nil {
		return nil, cerr.Wrapf(err, "failed to connect to %s as %s", t.Host.Label(), user)
	}
	next, err := NewTarget(ctx, ex, t.Config, t.Profile)
	if err != nil {
		return nil, err
	}
	next.Flavor = t.Flavor
	next.Verify = t.Verify
	next.Report = t.Report
	return next, nil
}

// Env is the view the profile hooks get.
func (t *Target) Env(configFile string) appspec.Env {
	return appspec.Env{
		Exec:       t.Exec,
		Config:     t.Config,
		Layout:     t.Layout,
		Flavor:     t.Flavor,
		ConfigFile: configFile,
		Verify:     t.Verify,
	}
}

// DetectFlavor identifies the target platform once.
func (t *Target) DetectFlavor(rc *fab_io.RuntimeContext) (platform.Flavor, error) {
	if t.Flavor != "" {
		return t.Flavor, nil
	}
	f, err := platform.Detect(rc, t.Exec)
	if err != nil {
		return f, err
	}
	t.Flavor = f
	return f, nil
}

// UserLayout resolves the directory layout for another account on the
// same host without connecting as it.
func (t *Target) UserLayout(rc *fab_io.RuntimeContext, user string) (config.Layout, error) {
	if user == "" || user == t.Exec.Host().User {
		return t.Layout, nil
	}
	home, err := execute.Output(rc.Ctx, t.Exec,
		execute.Shell(`getent passwd `+execute.Quote(user)+` | cut -d: -f6`).Silent())
	if err != nil {
		return config.Layout{}, err
	}
	if home == "" {
		home = "/home/" + user
	}
	return t.Config.Layout(home), nil
}

// ConfigPath is where the profile's server configuration lives once the
// root directory is prepared.
func (t *Target) ConfigPath() string {
	if t.Profile.ConfigFile == "" {
		return ""
	}
	return path.Join(t.Layout.RootDir, t.Profile.ConfigFile)
}
