// pkg/profile/profile.go

// Package profile hooks the application environment into the login shell
// of the user that runs it.
package profile

import (
	"fmt"
	"path"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/config"
	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	bashProfile = ".bash_profile"
	backup      = ".bash_profile_orig"
)

// Snippet is appended to ~/.bash_profile. It activates the environment and
// exports <APP>_PREFIX.
func Snippet(cfg *config.Config, layout config.Layout) string {
	return strings.Join([]string{
		fmt.Sprintf(`if [ -f "%s/bin/activate" ]`, layout.InstallDir),
		"then",
		fmt.Sprintf(`   source "%s/bin/activate"`, layout.InstallDir),
		"fi",
		fmt.Sprintf(`export %s="%s"`, cfg.Key("PREFIX"), layout.RootDir),
	}, "\n")
}

// InstallUserProfile rewrites ~/.bash_profile from its pristine backup and
// appends Snippet. Repeated runs leave exactly one copy of the snippet.
func InstallUserProfile(rc *fab_io.RuntimeContext, ex execute.Executor, cfg *config.Config, layout config.Layout) error {
	ctx, span := telemetry.Start(rc.Ctx, "profile.InstallUserProfile")
	defer span.End()
	log := otelzap.Ctx(ctx)

	// ASSESS
	if cfg.NoBashProfile {
		logger.Info(ctx, "Leaving ~/.bash_profile untouched", zap.String("reason", "--no-bash-profile"))
		return nil
	}
	optOut := cfg.Key("DONT_MODIFY_BASHPROFILE")
	res, err := ex.Run(ctx, execute.Command("printenv", optOut).AllowFailure().Silent())
	if err != nil {
		return err
	}
	if res.Output() != "" {
		logger.Info(ctx, "Leaving ~/.bash_profile untouched", zap.String("reason", optOut+" is set"))
		return nil
	}

	home := layout.Home
	profile := path.Join(home, bashProfile)
	orig := path.Join(home, backup)
	haveBackup, err := execute.Exists(ctx, ex, orig)
	if err != nil {
		return err
	}

	// INTERVENE
	if !haveBackup {
		// a missing .bash_profile is fine; the append below creates it
		if _, err := ex.Run(ctx, execute.Command("cp", profile, orig).AllowFailure()); err != nil {
			return err
		}
	} else {
		log.Debug("Restoring pristine profile", zap.String("from", orig))
		if _, err := ex.Run(ctx, execute.Command("cp", orig, profile)); err != nil {
			return cerr.Wrap(err, "failed to restore ~/.bash_profile")
		}
	}

	appendCmd := execute.Shell(fmt.Sprintf("printf '%%s\\n' %s >> %s",
		execute.Quote(Snippet(cfg, layout)), execute.Quote(profile)))
	if _, err := ex.Run(ctx, appendCmd); err != nil {
		return cerr.Wrap(err, "failed to edit ~/.bash_profile")
	}

	// EVALUATE
	logger.Success(ctx, "~/.bash_profile edited for automatic virtualenv sourcing")
	return nil
}
