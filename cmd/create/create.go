// cmd/create/create.go

package create

import (
	"time"

	"github.com/ICRAR/fabtemplate/pkg/config"
	fab "github.com/ICRAR/fabtemplate/pkg/fab_cli"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/inventory"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/remote"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	flagInstall     = "install"
	flagWaitTimeout = "wait-timeout"
	flagSSHTimeout  = "ssh-timeout"
	flagSave        = "save-inventory"
)

// CreateCmd groups the commands that bring up installation targets.
var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create installation targets on AWS, Azure, Hetzner Cloud or Docker",
	Long: `Create virtual machines or a local container to install onto. With --install
the full installation runs on the new targets once SSH answers.`,
}

func init() {
	CreateCmd.AddCommand(awsCmd, azureCmd, hetznerCmd, dockerCmd)
}

// addTargetFlags registers what every create command shares, including the
// per-run settings used when --install is given.
func addTargetFlags(fs *pflag.FlagSet) {
	fs.Bool(flagInstall, false, "run prepare_install_and_check on the new targets")
	fs.Duration(flagSSHTimeout, shared.SSHReadyTimeout, "how long to wait for SSH on each target")
	fs.String(flagSave, "", "write the new targets to this inventory file")
	config.AddFlags(fs)
}

// waitAndInstall saves the hosts when asked, waits for SSH on every one and,
// when --install was given, runs the full installation on them.
func waitAndInstall(rc *fab_io.RuntimeContext, cmd *cobra.Command, sess *fab.Session, hosts []inventory.Host) error {
	if path, _ := cmd.Flags().GetString(flagSave); path != "" {
		if err := inventory.Save(rc.Ctx, path, hosts); err != nil {
			return err
		}
		rc.Log.Info("Inventory written", zap.String("path", path), zap.Int("hosts", len(hosts)))
	}

	timeout, _ := cmd.Flags().GetDuration(flagSSHTimeout)
	opts := remote.Options{StrictHostKeys: sess.Config.StrictHostKeys}

	var result error
	for _, h := range hosts {
		if err := remote.WaitForSSH(rc.Ctx, h, opts, timeout); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		return result
	}
	logger.Success(rc.Ctx, "Targets reachable", zap.Int("hosts", len(hosts)))

	if install, _ := cmd.Flags().GetBool(flagInstall); !install {
		for _, h := range hosts {
			rc.Log.Info("Install with", zap.String("command",
				shared.BinaryName+" install --app "+sess.Config.App+" -H "+h.String()))
		}
		return nil
	}
	return fab.RunTasks(rc, cmd.OutOrStdout(), sess, hosts, "prepare_install_and_check")
}

func waitTimeout(cmd *cobra.Command) time.Duration {
	d, _ := cmd.Flags().GetDuration(flagWaitTimeout)
	return d
}
