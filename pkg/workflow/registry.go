// pkg/workflow/registry.go

package workflow

import (
	"maps"
	"path"
	"slices"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/container"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/pkgmgr"
	"github.com/ICRAR/fabtemplate/pkg/profile"
	"github.com/ICRAR/fabtemplate/pkg/sources"
	"github.com/ICRAR/fabtemplate/pkg/venv"
	cerr "github.com/cockroachdb/errors"
)

// Task is a named unit the CLI can run against each host.
type Task struct {
	Name        string
	Description string
	Run         HostFunc
}

// Registry maps task names to tasks.
type Registry map[string]Task

// NewRegistry returns every task the CLI knows about.
func NewRegistry() Registry {
	r := Registry{}
	add := func(name, desc string, fn HostFunc) {
		r[name] = Task{Name: name, Description: desc, Run: fn}
	}

	add("copy_sources", "Copy the application sources to the target", func(rc *fab_io.RuntimeContext, t *Target) error {
		return t.run(rc, StepCopy, func(rc *fab_io.RuntimeContext) (string, error) {
			return t.Layout.SourceDir, sources.CopySources(rc, t.Exec, t.Config, t.Layout)
		})
	})
	add("virtualenv_setup", "Create the python environment", func(rc *fab_io.RuntimeContext, t *Target) error {
		return t.run(rc, StepEnvironment, func(rc *fab_io.RuntimeContext) (string, error) {
			return t.Layout.InstallDir, venv.VirtualenvSetup(rc, t.Exec, t.Config, t.Layout)
		})
	})
	add("build", "Install extra python packages and build the application", func(rc *fab_io.RuntimeContext, t *Target) error {
		return t.run(rc, StepBuild, func(rc *fab_io.RuntimeContext) (string, error) {
			return "", t.BuildStep(rc)
		})
	})
	add("prepare_data_dir", "Create the application root directory", func(rc *fab_io.RuntimeContext, t *Target) error {
		return t.run(rc, StepDataDir, t.PrepareDataDir)
	})
	add("install_user_profile", "Hook the environment into ~/.bash_profile", func(rc *fab_io.RuntimeContext, t *Target) error {
		return t.run(rc, StepProfile, func(rc *fab_io.RuntimeContext) (string, error) {
			return "", profile.InstallUserProfile(rc, t.Exec, t.Config, t.Layout)
		})
	})
	add("install_sysv_init_script", "Install and enable the service init scripts", func(rc *fab_io.RuntimeContext, t *Target) error {
		if _, err := t.DetectFlavor(rc); err != nil {
			return err
		}
		layout, err := t.UserLayout(rc, t.Config.User)
		if err != nil {
			return err
		}
		cfgFile := ""
		if t.Profile.ConfigFile != "" {
			cfgFile = path.Join(layout.RootDir, t.Profile.ConfigFile)
		}
		return InstallInit(rc, t, layout.SourceDir, cfgFile)
	})
	add("install_system_packages", "Install the system packages the application needs", func(rc *fab_io.RuntimeContext, t *Target) error {
		return t.run(rc, StepPackages, func(rc *fab_io.RuntimeContext) (string, error) {
			flavor, err := t.DetectFlavor(rc)
			if err != nil {
				return "", err
			}
			return flavor.String(), pkgmgr.InstallSystemPackages(rc, t.Exec, flavor, t.Profile.Packages)
		})
	})
	add("create_user", "Create the application user", func(rc *fab_io.RuntimeContext, t *Target) error {
		return t.run(rc, StepUser, func(rc *fab_io.RuntimeContext) (string, error) {
			flavor, err := t.DetectFlavor(rc)
			if err != nil {
				return "", err
			}
			return t.Config.User, pkgmgr.CreateUser(rc, t.Exec, flavor, t.Config.User)
		})
	})
	add("start_and_check", "Start the application and check that it answers", func(rc *fab_io.RuntimeContext, t *Target) error {
		_, err := StartAndCheck(rc, t, t.ConfigPath())
		return err
	})
	add("install_and_check", "Install as the connecting user and check", func(rc *fab_io.RuntimeContext, t *Target) error {
		_, err := InstallAndCheck(rc, t)
		return err
	})
	add("prepare_install_and_check", "Prepare the host, install as the application user and check", PrepareInstallAndCheck)
	add("cleanup_container", "Trim a docker installation target before committing it", func(rc *fab_io.RuntimeContext, t *Target) error {
		return t.run(rc, "cleanup", func(rc *fab_io.RuntimeContext) (string, error) {
			layout, err := t.UserLayout(rc, t.Config.User)
			if err != nil {
				return "", err
			}
			return "", container.Cleanup(rc, t.Exec, t.Config, layout)
		})
	})
	return r
}

// Names lists the registered tasks.
func (r Registry) Names() []string {
	return slices.Sorted(maps.Keys(r))
}

// Lookup finds a task by name.
func (r Registry) Lookup(name string) (Task, error) {
	if t, ok := r[strings.TrimSpace(name)]; ok {
		return t, nil
	}
	return Task{}, fab_err.NewExpectedError(cerr.WithHint(
		cerr.Newf("unknown task %q", name),
		"known tasks: "+strings.Join(r.Names(), ", ")))
}

// Sequence runs tasks one after the other on the same target.
func Sequence(tasks ...Task) HostFunc {
	return func(rc *fab_io.RuntimeContext, t *Target) error {
		for _, task := range tasks {
			if err := task.Run(rc, t); err != nil {
				return cerr.Wrapf(err, "task %s", task.Name)
			}
		}
		return nil
	}
}
