// pkg/venv/venv.go

// Package venv creates the isolated python environment an application is
// installed into.
package venv

import (
	_ "embed"
	"os"
	"path"
	"path/filepath"

	"github.com/ICRAR/fabtemplate/pkg/config"
	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/python"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ScriptName is looked up in the source directory before the embedded copy is used.
const ScriptName = "create_venv.sh"

//go:embed create_venv.sh
var defaultScript []byte

// Wrap makes cmd run with the environment at install activated.
func Wrap(install string, cmd *execute.Cmd) *execute.Cmd {
	return cmd.InVirtualenv(install)
}

// VirtualenvSetup creates a fresh environment at the install directory and
// seeds it with the baseline packages. An existing environment is only
// replaced when OverwriteInstallation is set.
func VirtualenvSetup(rc *fab_io.RuntimeContext, ex execute.Executor, cfg *config.Config, layout config.Layout) error {
	ctx, span := telemetry.Start(rc.Ctx, "venv.VirtualenvSetup")
	defer span.End()
	log := otelzap.Ctx(ctx)
	install := layout.InstallDir

	// ASSESS
	exists, err := execute.DirExists(ctx, ex, install)
	if err != nil {
		return err
	}
	if exists {
		if !cfg.OverwriteInstallation {
			return fab_err.OverwriteRequired(install, cfg.Key("OVERWRITE_INSTALLATION"), cfg.Key("INSTALL_DIR"))
		}
		log.Info("Removing existing environment", zap.String("dir", install))
		if _, err := ex.Run(ctx, execute.Command("rm", "-rf", install)); err != nil {
			return err
		}
	}

	py, err := python.Resolve(rc.WithContext(ctx), ex, cfg.PythonPath)
	if err != nil {
		return err
	}

	// INTERVENE
	if err := ensureScript(rc.WithContext(ctx), ex, layout.SourceDir); err != nil {
		return err
	}
	if _, err := ex.Run(ctx, execute.Command("./"+ScriptName, "-p", py, install).In(layout.SourceDir)); err != nil {
		return cerr.Wrapf(err, "failed to create the environment at %s", install)
	}

	if cfg.UseCustomPipCert {
		if err := installPipCert(rc.WithContext(ctx), ex, layout.Home); err != nil {
			return err
		}
	}

	baseline := append([]string{"install", "-U"}, shared.BaselinePythonPackages...)
	if _, err := ex.Run(ctx, Wrap(install, execute.Command("pip", baseline...))); err != nil {
		return cerr.Wrap(err, "failed to upgrade the baseline python packages")
	}

	// EVALUATE
	logger.Success(ctx, "Virtualenv setup completed", zap.String("dir", install), zap.String("python", py))
	return nil
}

// ensureScript uploads the embedded create_venv.sh unless the sources ship
// an executable one.
func ensureScript(rc *fab_io.RuntimeContext, ex execute.Executor, srcDir string) error {
	ctx := rc.Ctx
	remote := path.Join(srcDir, ScriptName)

	ok, err := execute.Check(ctx, ex, execute.Command("test", "-x", remote))
	if err != nil || ok {
		return err
	}

	tmp, err := execute.StagingDir(shared.BinaryName + "-venv-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	local := filepath.Join(tmp, ScriptName)
	if err := os.WriteFile(local, defaultScript, 0o755); err != nil {
		return cerr.Wrap(err, "failed to stage "+ScriptName)
	}
	if err := os.Chmod(local, 0o755); err != nil {
		return cerr.Wrap(err, "failed to stage "+ScriptName)
	}
	if err := ex.Put(ctx, local, remote); err != nil {
		return cerr.Wrapf(err, "failed to upload %s", ScriptName)
	}
	_, err = ex.Run(ctx, execute.Command("chmod", "755", remote))
	return err
}

func installPipCert(rc *fab_io.RuntimeContext, ex execute.Executor, home string) error {
	ctx := rc.Ctx
	pipDir := path.Join(home, ".pip")
	cert := path.Join(pipDir, "cacert.pem")
	conf := path.Join(pipDir, "pip.conf")

	steps := []*execute.Cmd{
		execute.Command("mkdir", "-p", pipDir),
		execute.Command("curl", "-fsSL", "-o", cert, shared.PipCertURL),
		execute.Shell("printf '%s\\n' '[global]' " + execute.Quote("cert = "+cert) + " > " + execute.Quote(conf)),
	}
	for _, cmd := range steps {
		if _, err := ex.Run(ctx, cmd); err != nil {
			return cerr.Wrap(err, "failed to install the pip certificate")
		}
	}
	otelzap.Ctx(ctx).Info("Custom pip certificate installed", zap.String("conf", conf))
	return nil
}
