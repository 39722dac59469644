// pkg/appspec/eagle.go

package appspec

import (
	"path"

	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/sysv"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	"github.com/ICRAR/fabtemplate/pkg/verify"
	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	uwsgiOptions = "/etc/uwsgi/uwsgi.ini"
	uwsgiBinary  = "/usr/local/bin/uwsgi"
)

// installEagleInit installs uwsgi system-wide with its init script and
// points nginx at it.
func installEagleInit(rc *fab_io.RuntimeContext, env Env, p sysv.InitParams) error {
	ctx, span := telemetry.Start(rc.Ctx, "appspec.installEagleInit")
	defer span.End()

	src := path.Join(p.SourceDir, sysv.ScriptDir)

	// INTERVENE
	// uwsgi was installed into the environment as an extra python package
	steps := []*execute.Cmd{
		execute.Command("cp", path.Join(env.Layout.InstallDir, "bin", "uwsgi"), uwsgiBinary).AsRoot(),
		execute.Command("chmod", "755", uwsgiBinary).AsRoot(),
		execute.Command("cp", path.Join(src, "uwsgi"), sysv.InitDir+"/").AsRoot(),
		execute.Command("chmod", "755", path.Join(sysv.InitDir, "uwsgi")).AsRoot(),
		execute.Command("mkdir", "-p", path.Dir(uwsgiOptions)).AsRoot(),
		execute.Command("cp", path.Join(src, "uwsgi.ini"), uwsgiOptions).AsRoot(),
		execute.Command("chmod", "644", uwsgiOptions).AsRoot(),
	}
	for _, cmd := range steps {
		if _, err := env.Exec.Run(ctx, cmd); err != nil {
			return cerr.Wrap(err, "failed to install the uwsgi init script")
		}
	}
	if err := sysv.Register(rc.WithContext(ctx), env.Exec, "uwsgi"); err != nil {
		return err
	}

	nginx := []*execute.Cmd{
		execute.Command("cp", path.Join(src, "nginx.conf"), "/etc/nginx/").AsRoot(),
		execute.Command("cp", path.Join(src, "eagle.conf"), "/etc/nginx/conf.d/").AsRoot(),
	}
	for _, cmd := range nginx {
		if _, err := env.Exec.Run(ctx, cmd); err != nil {
			return cerr.Wrap(err, "failed to configure nginx")
		}
	}

	// EVALUATE
	logger.Success(ctx, "Init scripts installed", zap.String("service", "uwsgi"))
	return nil
}

func checkEagle(rc *fab_io.RuntimeContext, p Profile, env Env) (verify.Outcome, error) {
	starts := []*execute.Cmd{
		execute.Command("service", "nginx", "start").AsRoot(),
		execute.Command("service", "uwsgi", "start").AsRoot(),
	}
	probe := verify.HTTPProbe{
		URL:    healthURL(env, p.HealthPort, "/static/html/index.html"),
		Expect: "eagle-s-user-documentation",
	}
	return verify.StartAndCheckWith(rc, env.Exec, starts, env.probeOptions(), probe)
}
