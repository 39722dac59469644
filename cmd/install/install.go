// cmd/install/install.go

package install

import (
	"github.com/ICRAR/fabtemplate/pkg/config"
	fab "github.com/ICRAR/fabtemplate/pkg/fab_cli"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/spf13/cobra"
)

// InstallCmd is the full installation: system preparation, user creation,
// installation as that user, init script and start check.
var InstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Prepare the hosts, install the application and check that it starts",
	Long: `Same as 'run prepare_install_and_check'. The connecting user needs sudo on
each host; the installation itself runs as the application user.

Examples:
  fabtemplate install -H ubuntu@10.0.0.5 --app NGAS
  NGAS_OVERWRITE_INSTALLATION=1 fabtemplate install -i hosts.yaml --parallel`,
	Args: cobra.NoArgs,
	RunE: fab.Wrap(func(rc *fab_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
		sess, err := fab.LoadSession(rc, cmd)
		if err != nil {
			return err
		}
		return fab.RunTasks(rc, cmd.OutOrStdout(), sess, sess.Hosts, "prepare_install_and_check")
	}),
}

func init() {
	fab.AddHostFlags(InstallCmd.Flags())
	config.AddFlags(InstallCmd.Flags())
}
