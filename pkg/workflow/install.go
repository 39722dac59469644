// pkg/workflow/install.go

package workflow

import (
	"time"

	"github.com/ICRAR/fabtemplate/pkg/build"
	"github.com/ICRAR/fabtemplate/pkg/datadir"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/pkgmgr"
	"github.com/ICRAR/fabtemplate/pkg/profile"
	"github.com/ICRAR/fabtemplate/pkg/sources"
	"github.com/ICRAR/fabtemplate/pkg/sysv"
	"github.com/ICRAR/fabtemplate/pkg/venv"
	"github.com/ICRAR/fabtemplate/pkg/verify"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Step names as they appear in reports.
const (
	StepPlatform    = "platform"
	StepPackages    = "packages"
	StepUser        = "user"
	StepCopy        = "copy"
	StepEnvironment = "environment"
	StepBuild       = "build"
	StepDataDir     = "datadir"
	StepProfile     = "profile"
	StepVerify      = "verify"
	StepInit        = "init"
)

// run executes one step in its own span and records the result.
func (t *Target) run(rc *fab_io.RuntimeContext, name string, fn func(*fab_io.RuntimeContext) (string, error)) error {
	stepRC, end := rc.Step("workflow."+name, attribute.String("host", t.Host.Label()))
	defer end()

	start := time.Now()
	detail, err := fn(stepRC)
	res := StepResult{Step: name, OK: err == nil, Detail: detail, Duration: time.Since(start)}
	if err != nil {
		res.Detail = err.Error()
		stepRC.Span.RecordError(err)
	}
	t.Report.add(res)
	return err
}

// BuildStep installs the profile's extra packages and runs its build command.
func (t *Target) BuildStep(rc *fab_io.RuntimeContext) error {
	flavor, err := t.DetectFlavor(rc)
	if err != nil {
		return err
	}
	cmd := t.Profile.Command(build.Context{Config: t.Config, Layout: t.Layout, Flavor: flavor})
	return build.Build(rc, t.Exec, t.Config, t.Layout, t.Profile.PythonExtras(t.Config), cmd)
}

// PrepareDataDir prepares the root directory and returns the server
// configuration path inside it.
func (t *Target) PrepareDataDir(rc *fab_io.RuntimeContext) (string, error) {
	return datadir.PrepareDataDir(rc, t.Exec, t.Config, t.Layout, t.Profile.DataDir())
}

// InstallAndCheck runs the per-user installation in order, stopping at the
// first failing step. A failed verification is recorded but is not an
// error. It returns the server configuration path.
func InstallAndCheck(rc *fab_io.RuntimeContext, t *Target) (string, error) {
	log := rc.Log
	log.Info("Installing",
		zap.String("app", t.Config.App),
		zap.String("host", t.Host.Label()),
		zap.String("user", t.Exec.Host().User),
		zap.String("revision", t.Config.Revision))

	var cfgFile string
	steps := []struct {
		name string
		fn   func(*fab_io.RuntimeContext) (string, error)
	}{
		{StepCopy, func(rc *fab_io.RuntimeContext) (string, error) {
			return t.Layout.SourceDir, sources.CopySources(rc, t.Exec, t.Config, t.Layout)
		}},
		{StepEnvironment, func(rc *fab_io.RuntimeContext) (string, error) {
			return t.Layout.InstallDir, venv.VirtualenvSetup(rc, t.Exec, t.Config, t.Layout)
		}},
		{StepBuild, func(rc *fab_io.RuntimeContext) (string, error) {
			return "", t.BuildStep(rc)
		}},
		{StepDataDir, func(rc *fab_io.RuntimeContext) (string, error) {
			f, err := t.PrepareDataDir(rc)
			cfgFile = f
			return f, err
		}},
		{StepProfile, func(rc *fab_io.RuntimeContext) (string, error) {
			return "", profile.InstallUserProfile(rc, t.Exec, t.Config, t.Layout)
		}},
	}
	for _, s := range steps {
		if err := t.run(rc, s.name, s.fn); err != nil {
			return "", err
		}
	}

	if _, err := StartAndCheck(rc, t, cfgFile); err != nil {
		return "", err
	}
	return cfgFile, nil
}

// StartAndCheck runs the profile's check and records its outcome.
func StartAndCheck(rc *fab_io.RuntimeContext, t *Target, cfgFile string) (verify.Outcome, error) {
	stepRC, end := rc.Step("workflow."+StepVerify, attribute.String("host", t.Host.Label()))
	defer end()

	start := time.Now()
	out, err := t.Profile.Check(stepRC, t.Env(cfgFile))
	res := StepResult{Step: StepVerify, OK: err == nil && out.OK, Detail: out.Detail, Duration: time.Since(start)}
	if err != nil {
		res.Detail = err.Error()
	}
	t.Report.add(res)
	return out, err
}

// InstallInit installs the service scripts as the connecting user.
func InstallInit(rc *fab_io.RuntimeContext, t *Target, sourceDir, cfgFile string) error {
	return t.run(rc, StepInit, func(rc *fab_io.RuntimeContext) (string, error) {
		p := sysv.InitParams{SourceDir: sourceDir, User: t.Config.User, ConfigFile: cfgFile}
		return "", t.Profile.Init(rc, t.Env(cfgFile), p)
	})
}

// PrepareInstallAndCheck takes a bare host to a running service: system
// packages and the application user first, then the installation as that
// user, then the init scripts. Nothing is undone on failure.
func PrepareInstallAndCheck(rc *fab_io.RuntimeContext, t *Target) error {
	if err := t.run(rc, StepPlatform, func(rc *fab_io.RuntimeContext) (string, error) {
		f, err := t.DetectFlavor(rc)
		return f.String(), err
	}); err != nil {
		return err
	}
	if err := t.run(rc, StepPackages, func(rc *fab_io.RuntimeContext) (string, error) {
		return "", pkgmgr.InstallSystemPackages(rc, t.Exec, t.Flavor, t.Profile.Packages)
	}); err != nil {
		return err
	}
	if err := t.run(rc, StepUser, func(rc *fab_io.RuntimeContext) (string, error) {
		return t.Config.User, pkgmgr.CreateUser(rc, t.Exec, t.Flavor, t.Config.User)
	}); err != nil {
		return err
	}

	app, err := t.As(rc.Ctx, t.Config.User)
	if err != nil {
		return err
	}
	if app.Exec != t.Exec {
		defer app.Exec.Close()
	}

	cfgFile, err := InstallAndCheck(rc, app)
	if err != nil {
		return err
	}
	if err := InstallInit(rc, t, app.Layout.SourceDir, cfgFile); err != nil {
		return err
	}

	if t.Report.OK() {
		logger.Success(rc.Ctx, t.Config.App+" installed", zap.String("host", t.Host.Label()))
	} else {
		logger.Warn(rc.Ctx, t.Config.App+" installed but did not pass its check", zap.String("host", t.Host.Label()))
	}
	return nil
}
