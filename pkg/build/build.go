// pkg/build/build.go

// Package build installs the application into its python environment.
package build

import (
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/config"
	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/platform"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	"github.com/ICRAR/fabtemplate/pkg/venv"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Context is what a build command is derived from.
type Context struct {
	Config *config.Config
	Layout config.Layout
	Flavor platform.Flavor
}

// MacPortsPrefix is where MacPorts installs berkeley-db.
const MacPortsPrefix = "/opt/local"

// Build installs the extra python packages, then runs command in the
// source directory with the environment activated. A nil or empty command
// only installs the extras.
func Build(rc *fab_io.RuntimeContext, ex execute.Executor, cfg *config.Config, layout config.Layout, extras []string, command *execute.Cmd) error {
	ctx, span := telemetry.Start(rc.Ctx, "build.Build")
	defer span.End()
	log := otelzap.Ctx(ctx)

	// ASSESS
	pkgs := append(append([]string{}, extras...), cfg.ExtraPythonPackages...)

	// INTERVENE
	if len(pkgs) > 0 {
		log.Info("Installing extra python packages", zap.Strings("packages", pkgs))
		pip := execute.Command("pip", append([]string{"install"}, pkgs...)...).In(layout.SourceDir)
		if _, err := ex.Run(ctx, venv.Wrap(layout.InstallDir, pip)); err != nil {
			return cerr.Wrap(err, "failed to install extra python packages")
		}
	} else {
		log.Info("No extra python packages")
	}

	if command == nil || (command.Raw == "" && command.Name == "") {
		log.Info("No build command for this application")
	} else {
		log.Info("Building", zap.String("command", command.String()))
		if _, err := ex.Run(ctx, venv.Wrap(layout.InstallDir, command.In(layout.SourceDir))); err != nil {
			return cerr.Wrapf(err, "%s build failed", cfg.App)
		}
	}

	// EVALUATE
	logger.Success(ctx, cfg.App+" built and installed")
	return nil
}

// AppCommand is the build.sh invocation of the generic template. On macOS
// it points the build at the berkeley-db from brew or MacPorts.
func AppCommand(bc Context) *execute.Cmd {
	cfg := bc.Config
	var flags []string
	if !cfg.NoClient {
		flags = append(flags, "-c")
	}
	if cfg.Develop {
		flags = append(flags, "-d")
	}
	if !cfg.NoDocDependencies {
		flags = append(flags, "-D")
	}
	crcKey := cfg.Key("NO_CRC32C")

	if bc.Flavor == platform.FlavorDarwinBrew {
		// the keg path is only known on the target
		parts := []string{`db="$(brew --prefix berkeley-db)" &&`, `BERKELEYDB_DIR="$db"`}
		if !cfg.NoClient {
			parts = append(parts, `CFLAGS="-I$db/include"`, `LDFLAGS="-L$db/lib"`)
		}
		parts = append(parts, "YES_I_HAVE_THE_RIGHT_TO_USE_THIS_BERKELEY_DB_VERSION=1")
		if cfg.NoCRC32C {
			parts = append(parts, crcKey+"=1")
		}
		parts = append(parts, "./build.sh")
		return execute.Shell(strings.Join(append(parts, flags...), " "))
	}

	cmd := execute.Command("./build.sh", flags...)
	if bc.Flavor.IsDarwin() {
		incdir := MacPortsPrefix + "/include/db60"
		libdir := MacPortsPrefix + "/lib/db60"
		cmd.WithEnv("BERKELEYDB_INCDIR", incdir).WithEnv("BERKELEYDB_LIBDIR", libdir)
		if !cfg.NoClient {
			cmd.WithEnv("CFLAGS", "-I"+incdir).WithEnv("LDFLAGS", "-L"+libdir)
		}
		cmd.WithEnv("YES_I_HAVE_THE_RIGHT_TO_USE_THIS_BERKELEY_DB_VERSION", "1")
	}
	if cfg.NoCRC32C {
		cmd.WithEnv(crcKey, "1")
	}
	return cmd
}

// PipInstallCommand installs the package in the source directory itself.
func PipInstallCommand(Context) *execute.Cmd {
	return execute.Command("pip", "install", ".")
}
