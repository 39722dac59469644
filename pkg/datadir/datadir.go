// pkg/datadir/datadir.go

// Package datadir prepares the application's root (data) directory.
package datadir

import (
	"path"

	"github.com/ICRAR/fabtemplate/pkg/config"
	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ExitRootExists is what a prepare script exits with when the root
// directory is already there and -f was not given.
const ExitRootExists = 2

// Spec describes how an application lays out its root directory.
type Spec struct {
	// PrepareScript, relative to the source directory, is called as
	// "<script> [-f] <root>". When empty, DataFiles are copied instead.
	PrepareScript string
	// DataFiles are copied from the source directory into the root.
	DataFiles []string
	// ConfigFile is the server configuration, relative to the root.
	ConfigFile string
}

// PrepareDataDir creates the root directory and returns the path of the
// configuration file inside it, or "" when the application has none.
func PrepareDataDir(rc *fab_io.RuntimeContext, ex execute.Executor, cfg *config.Config, layout config.Layout, spec Spec) (string, error) {
	ctx, span := telemetry.Start(rc.Ctx, "datadir.PrepareDataDir")
	defer span.End()
	log := otelzap.Ctx(ctx)
	root := layout.RootDir

	// ASSESS
	exists, err := execute.DirExists(ctx, ex, root)
	if err != nil {
		return "", err
	}
	if exists && !cfg.OverwriteRoot {
		return "", rootExists(cfg, root)
	}

	// INTERVENE
	log.Info("Preparing root directory", zap.String("root", root))
	if spec.PrepareScript != "" {
		args := []string{}
		if cfg.OverwriteRoot {
			args = append(args, "-f")
		}
		cmd := execute.Command(spec.PrepareScript, append(args, root)...).In(layout.SourceDir).AllowFailure()
		res, err := ex.Run(ctx, cmd)
		if err != nil {
			return "", err
		}
		switch {
		case res.ExitCode == ExitRootExists:
			return "", rootExists(cfg, root)
		case !res.OK():
			return "", cerr.Wrapf(execute.NewCommandFailure(ex.Host().Label(), cmd.String(), res),
				"root directory preparation under %s failed", root)
		}
	} else {
		steps := []*execute.Cmd{execute.Command("mkdir", "-p", root)}
		for _, item := range spec.DataFiles {
			steps = append(steps, execute.Command("cp", "-r", path.Join(layout.SourceDir, item), root+"/"))
		}
		for _, cmd := range steps {
			if _, err := ex.Run(ctx, cmd); err != nil {
				return "", cerr.Wrapf(err, "root directory preparation under %s failed", root)
			}
		}
	}

	// EVALUATE
	logger.Success(ctx, cfg.App+" data directory ready", zap.String("root", root))
	if spec.ConfigFile == "" {
		return "", nil
	}
	return path.Join(root, spec.ConfigFile), nil
}

func rootExists(cfg *config.Config, root string) error {
	err := cerr.Newf("%s already exists. Specify %s to overwrite, or a different %s location",
		root, cfg.Key("OVERWRITE_ROOT"), cfg.Key("ROOT_DIR"))
	return fab_err.NewExpectedError(cerr.WithHint(err,
		"export "+cfg.Key("OVERWRITE_ROOT")+"=1 or pass --overwrite-root"))
}
