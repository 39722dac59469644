// pkg/sysv/sysv.go

// Package sysv installs System V init scripts and registers them for boot.
package sysv

import (
	"path"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/config"
	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/platform"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	InitDir = "/etc/init.d"
	// ScriptDir holds the init scripts inside the application sources.
	ScriptDir = "fabfile/init/sysv"
)

// InitParams are the values written into the service options file.
type InitParams struct {
	SourceDir  string
	User       string
	ConfigFile string
}

// OptionsFile is where the init script reads its options from on flavor.
func OptionsFile(flavor platform.Flavor, app string) string {
	if flavor.UsesDebianLayout() {
		return path.Join("/etc/default", app)
	}
	return path.Join("/etc/sysconfig", app)
}

// ServiceName is the init script name for app.
func ServiceName(app string) string {
	return app + "-server"
}

// InstallSysVInitScript copies the application's init script and options
// file into place, fills in the options and enables the service at boot.
// There is no undo; a later run overwrites the same files.
func InstallSysVInitScript(rc *fab_io.RuntimeContext, ex execute.Executor, cfg *config.Config, flavor platform.Flavor, p InitParams) error {
	app := cfg.Lower()
	service := ServiceName(app)
	ctx, span := telemetry.Start(rc.Ctx, "sysv.InstallSysVInitScript",
		attribute.String("service", service))
	defer span.End()
	log := otelzap.Ctx(ctx)

	// ASSESS
	opts := OptionsFile(flavor, app)
	script := path.Join(InitDir, service)
	src := path.Join(p.SourceDir, ScriptDir)
	log.Info("Installing init script", zap.String("script", script), zap.String("options", opts))

	// INTERVENE
	steps := []*execute.Cmd{
		execute.Command("cp", path.Join(src, service), InitDir+"/").AsRoot(),
		execute.Command("chmod", "755", script).AsRoot(),
		execute.Command("cp", path.Join(src, service+".options"), opts).AsRoot(),
		execute.Command("chmod", "644", opts).AsRoot(),
		SetOption(opts, "USER", p.User),
		SetOption(opts, "CFGFILE", p.ConfigFile),
	}
	switch cfg.ServerType {
	case config.ServerTypeCache:
		steps = append(steps, SetOption(opts, "CACHE", "YES"))
	case config.ServerTypeDataMover:
		steps = append(steps, SetOption(opts, "DATA_MOVER", "YES"))
	}
	for _, cmd := range steps {
		if _, err := ex.Run(ctx, cmd); err != nil {
			return cerr.Wrapf(err, "failed to install %s", service)
		}
	}
	if err := Register(rc.WithContext(ctx), ex, service); err != nil {
		return err
	}

	// EVALUATE
	logger.Success(ctx, cfg.App+" init script installed", zap.String("service", service))
	return nil
}

// SetOption rewrites the KEY=... line of an options file in place.
func SetOption(file, key, value string) *execute.Cmd {
	expr := "s|^" + key + "=.*|" + key + "=" + sedEscape(value) + "|"
	return execute.Command("sed", "-i", "-e", expr, file).AsRoot()
}

// Register enables service at boot with update-rc.d where available and
// chkconfig otherwise.
func Register(rc *fab_io.RuntimeContext, ex execute.Executor, service string) error {
	ctx := rc.Ctx
	hasUpdateRC, err := execute.HasCommand(ctx, ex, "update-rc.d")
	if err != nil {
		return err
	}
	cmd := execute.Command("chkconfig", "--add", service).AsRoot()
	if hasUpdateRC {
		cmd = execute.Command("update-rc.d", service, "defaults").AsRoot()
	}
	if _, err := ex.Run(ctx, cmd); err != nil {
		return cerr.Wrapf(err, "failed to enable %s at boot", service)
	}
	return nil
}

func sedEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `|`, `\|`, `&`, `\&`).Replace(s)
}
