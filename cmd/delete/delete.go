// cmd/delete/delete.go

package delete

import (
	"github.com/ICRAR/fabtemplate/pkg/cloud/aws"
	"github.com/ICRAR/fabtemplate/pkg/cloud/hetzner"
	"github.com/ICRAR/fabtemplate/pkg/container"
	fab "github.com/ICRAR/fabtemplate/pkg/fab_cli"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/spf13/cobra"
)

// DeleteCmd groups the commands that remove installation targets.
var DeleteCmd = &cobra.Command{
	Use:     "delete",
	Aliases: []string{"terminate"},
	Short:   "Remove installation targets",
}

var awsFlags struct {
	region, profile string
}

var awsCmd = &cobra.Command{
	Use:   "aws <instance-id>...",
	Short: "Terminate EC2 instances",
	Long: `Terminate the instances after confirmation. Instances created by someone
else are pointed out before asking.

Example:
  fabtemplate delete aws i-0abc123 i-0def456 --yes`,
	Args: cobra.MinimumNArgs(1),
	RunE: fab.Wrap(func(rc *fab_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		api, err := aws.NewClient(rc.Ctx, awsFlags.region, awsFlags.profile)
		if err != nil {
			return err
		}
		return aws.Terminate(rc, api, args, fab.Prompter(cmd), "")
	}),
}

var hetznerCmd = &cobra.Command{
	Use:   "hetzner <server>...",
	Short: "Delete Hetzner Cloud servers by name or id",
	Args:  cobra.MinimumNArgs(1),
	RunE: fab.Wrap(func(rc *fab_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		client, err := hetzner.NewClient()
		if err != nil {
			return err
		}
		return hetzner.Delete(rc, &client.Server, args, fab.Prompter(cmd))
	}),
}

var dockerCmd = &cobra.Command{
	Use:   "docker",
	Short: "Stop and remove the application's installation target container",
	Args:  cobra.NoArgs,
	RunE: fab.Wrap(func(rc *fab_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
		app, _ := cmd.Flags().GetString(fab.FlagApp)
		if app == "" {
			app = shared.DefaultApp
		}
		eng, err := container.New(rc.Ctx)
		if err != nil {
			return err
		}
		defer eng.Close()
		return container.Delete(rc, eng, container.Name(app))
	}),
}

func init() {
	awsCmd.Flags().StringVar(&awsFlags.region, "region", aws.DefaultRegion, "AWS region")
	awsCmd.Flags().StringVar(&awsFlags.profile, "profile", aws.DefaultProfile, "shared credentials profile")
	DeleteCmd.AddCommand(awsCmd, hetznerCmd, dockerCmd)
}
