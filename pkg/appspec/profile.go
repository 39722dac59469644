// pkg/appspec/profile.go

// Package appspec holds the per-application knowledge: system packages,
// data layout, build command, init scripts and the post-install check.
package appspec

import (
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/build"
	"github.com/ICRAR/fabtemplate/pkg/config"
	"github.com/ICRAR/fabtemplate/pkg/datadir"
	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/pkgmgr"
	"github.com/ICRAR/fabtemplate/pkg/platform"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/sysv"
	"github.com/ICRAR/fabtemplate/pkg/verify"
	cerr "github.com/cockroachdb/errors"
)

// Env is what a profile hook gets to work with on one host.
type Env struct {
	Exec   execute.Executor
	Config *config.Config
	Layout config.Layout
	Flavor platform.Flavor
	// ConfigFile is the server configuration inside the root directory,
	// "" when the application has none.
	ConfigFile string
	// Verify overrides the probe retry policy; the zero value means the default.
	Verify verify.Options
}

type (
	BuildFunc func(build.Context) *execute.Cmd
	InitFunc  func(rc *fab_io.RuntimeContext, env Env, p sysv.InitParams) error
	CheckFunc func(rc *fab_io.RuntimeContext, p Profile, env Env) (verify.Outcome, error)
)

// Profile specialises the generic installation for one application.
type Profile struct {
	Name          string
	Packages      pkgmgr.Manifest
	ExtraPython   []string
	DataFiles     []string
	ConfigFile    string
	PrepareScript string
	PythonPackage string
	// ServerPattern identifies the running server for process checks.
	ServerPattern string
	ServiceUser   string
	HealthPort    int

	BuildCommand  BuildFunc
	InstallInit   InitFunc
	StartAndCheck CheckFunc
}

var profiles = map[string]Profile{}

func register(p Profile) {
	profiles[strings.ToUpper(p.Name)] = p
}

// Lookup finds a built-in profile by name, ignoring case.
func Lookup(name string) (Profile, error) {
	p, ok := profiles[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fab_err.NewExpectedError(cerr.WithHint(
			cerr.Newf("unknown application %q", name),
			"known applications: "+strings.Join(Names(), ", ")))
	}
	return p, nil
}

// Names lists the built-in profiles.
func Names() []string {
	return slices.Sorted(maps.Keys(profiles))
}

// Package is the python package the profile installs from.
func (p Profile) Package() string {
	if p.PythonPackage == "" {
		return shared.DefaultPythonPackage
	}
	return p.PythonPackage
}

// PythonExtras is the profile's extra packages followed by its own package,
// or nil when neither the profile nor cfg asks for extras. The build adds
// the configured extras after these.
func (p Profile) PythonExtras(cfg *config.Config) []string {
	if len(p.ExtraPython) == 0 && len(cfg.ExtraPythonPackages) == 0 {
		return nil
	}
	return append(slices.Clone(p.ExtraPython), p.Package())
}

// processPattern is ServerPattern, or the installation's bin directory so
// that any program started from the environment counts.
func (p Profile) processPattern(env Env) string {
	if p.ServerPattern != "" {
		return p.ServerPattern
	}
	return strings.TrimRight(env.Layout.InstallDir, "/") + "/bin/"
}

// Defaults are the configuration values the profile contributes below
// every explicit source.
func (p Profile) Defaults() map[string]any {
	d := map[string]any{}
	if p.ServiceUser != "" {
		d[config.KeyUser] = p.ServiceUser
	}
	return d
}

// DataDir describes the root directory layout.
func (p Profile) DataDir() datadir.Spec {
	return datadir.Spec{PrepareScript: p.PrepareScript, DataFiles: p.DataFiles, ConfigFile: p.ConfigFile}
}

// Command renders the build command, nil when there is nothing to run.
func (p Profile) Command(bc build.Context) *execute.Cmd {
	if p.BuildCommand == nil {
		return nil
	}
	return p.BuildCommand(bc)
}

// Init installs the service scripts. Profiles without their own hook get
// the application's SysV init script.
func (p Profile) Init(rc *fab_io.RuntimeContext, env Env, ip sysv.InitParams) error {
	if p.InstallInit != nil {
		return p.InstallInit(rc, env, ip)
	}
	return sysv.InstallSysVInitScript(rc, env.Exec, env.Config, env.Flavor, ip)
}

// Check starts the service and verifies it. Profiles without a hook only
// report that nothing was checked.
func (p Profile) Check(rc *fab_io.RuntimeContext, env Env) (verify.Outcome, error) {
	if p.StartAndCheck == nil {
		return verify.Outcome{OK: true, Detail: "no check defined for " + p.Name}, nil
	}
	return p.StartAndCheck(rc, p, env)
}

func (e Env) probeOptions() verify.Options {
	if e.Verify.Attempts == 0 {
		return verify.DefaultOptions
	}
	return e.Verify
}

// healthURL points at the target host as seen from the machine running
// the deployment.
func healthURL(env Env, port int, path string) string {
	host := env.Exec.Host().Address
	if env.Exec.IsLocal() || host == "" {
		host = "localhost"
	}
	if port != 0 && port != 80 {
		host = net.JoinHostPort(host, strconv.Itoa(port))
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "http://" + host + path
}
