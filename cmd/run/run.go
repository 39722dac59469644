// cmd/run/run.go

package run

import (
	"fmt"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/config"
	fab "github.com/ICRAR/fabtemplate/pkg/fab_cli"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/workflow"
	"github.com/spf13/cobra"
)

// RunCmd runs registry tasks against each host.
var RunCmd = &cobra.Command{
	Use:   "run <task>...",
	Short: "Run one or more tasks on every target host",
	Long: fmt.Sprintf(`Run the named tasks, in order, on every host given with --hosts or
--inventory. Without hosts the tasks run on the local machine.

Tasks: %s

Examples:
  fabtemplate run copy_sources virtualenv_setup -H deploy@archive01
  fabtemplate run prepare_install_and_check --app NGAS -i hosts.yaml --parallel`,
		strings.Join(workflow.NewRegistry().Names(), ", ")),
	Args: cobra.MinimumNArgs(1),
	ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return workflow.NewRegistry().Names(), cobra.ShellCompDirectiveNoFileComp
	},
	RunE: fab.Wrap(func(rc *fab_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		sess, err := fab.LoadSession(rc, cmd)
		if err != nil {
			return err
		}
		return fab.RunTasks(rc, cmd.OutOrStdout(), sess, sess.Hosts, args...)
	}),
}

func init() {
	fab.AddHostFlags(RunCmd.Flags())
	config.AddFlags(RunCmd.Flags())
}
