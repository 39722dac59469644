// pkg/pkgmgr/user.go

package pkgmgr

import (
	"path"
	"regexp"

	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/platform"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

var validUsername = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

// ValidateUsername checks a POSIX account name.
func ValidateUsername(name string) error {
	if !validUsername.MatchString(name) {
		return fab_err.NewExpectedError(cerr.Newf(
			"invalid user name %q: use lowercase letters, digits, '_' or '-' (max 32)", name))
	}
	return nil
}

// CreateUser makes sure user exists on the target and can be reached with
// the connecting user's SSH keys. Existing accounts are left untouched.
func CreateUser(rc *fab_io.RuntimeContext, ex execute.Executor, flavor platform.Flavor, user string) error {
	ctx, span := telemetry.Start(rc.Ctx, "pkgmgr.CreateUser")
	defer span.End()
	log := otelzap.Ctx(ctx)

	// ASSESS
	if err := ValidateUsername(user); err != nil {
		return err
	}
	exists, err := execute.Check(ctx, ex, execute.Command("id", "-u", user))
	if err != nil {
		return err
	}
	if exists {
		log.Info("User already exists", zap.String("user", user))
		return nil
	}
	if flavor.IsDarwin() {
		return fab_err.NewExpectedError(cerr.Newf(
			"user %s does not exist and cannot be created automatically on %s", user, flavor))
	}

	// INTERVENE
	log.Info("Creating user", zap.String("user", user), zap.String("host", ex.Host().Label()))
	if _, err := ex.Run(ctx, execute.Command("useradd", "-m", "-s", "/bin/bash", user).AsRoot()); err != nil {
		return cerr.Wrapf(err, "failed to create user %s", user)
	}

	connectingHome, err := ex.Home(ctx)
	if err != nil {
		return err
	}
	userHome, err := execute.Output(ctx, ex,
		execute.Shell(`getent passwd `+execute.Quote(user)+` | cut -d: -f6`).Silent())
	if err != nil || userHome == "" {
		userHome = "/home/" + user
	}

	authKeys := path.Join(connectingHome, ".ssh", "authorized_keys")
	hasKeys, err := execute.Exists(ctx, ex, authKeys)
	if err != nil {
		return err
	}
	if hasKeys {
		sshDir := path.Join(userHome, ".ssh")
		steps := []*execute.Cmd{
			execute.Command("mkdir", "-p", sshDir).AsRoot(),
			execute.Command("cp", authKeys, sshDir+"/").AsRoot(),
			execute.Command("chown", "-R", user+":", sshDir).AsRoot(),
			execute.Command("chmod", "700", sshDir).AsRoot(),
			execute.Command("chmod", "600", path.Join(sshDir, "authorized_keys")).AsRoot(),
		}
		for _, cmd := range steps {
			if _, err := ex.Run(ctx, cmd); err != nil {
				return cerr.Wrapf(err, "failed to install SSH keys for %s", user)
			}
		}
	} else {
		log.Warn("No authorized_keys to copy; the new user may not accept SSH logins",
			zap.String("user", user))
	}

	// EVALUATE
	logger.Success(ctx, "User created", zap.String("user", user))
	return nil
}
