// cmd/list/list.go

package list

import (
	"fmt"

	"github.com/ICRAR/fabtemplate/pkg/appspec"
	"github.com/ICRAR/fabtemplate/pkg/cloud"
	"github.com/ICRAR/fabtemplate/pkg/cloud/aws"
	"github.com/ICRAR/fabtemplate/pkg/cloud/hetzner"
	fab "github.com/ICRAR/fabtemplate/pkg/fab_cli"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/workflow"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

// ListCmd groups the read-only listings.
var ListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks, application profiles or cloud instances",
}

var all bool

var awsFlags struct {
	region, profile, keyName string
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the tasks 'run' accepts",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		reg := workflow.NewRegistry()
		rows := make([][]string, 0, len(reg))
		for _, name := range reg.Names() {
			rows = append(rows, []string{name, reg[name].Description})
		}
		fmt.Fprintln(cmd.OutOrStdout(), render([]string{"TASK", "DESCRIPTION"}, rows))
	},
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List the application profiles --app accepts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rows := [][]string{}
		for _, name := range appspec.Names() {
			p, err := appspec.Lookup(name)
			if err != nil {
				return err
			}
			rows = append(rows, []string{p.Name, p.Package(), p.ServiceUser})
		}
		fmt.Fprintln(cmd.OutOrStdout(), render([]string{"APP", "PACKAGE", "SERVICE USER"}, rows))
		return nil
	},
}

var awsCmd = &cobra.Command{
	Use:   "aws",
	Short: "List the EC2 instances created for the application",
	Args:  cobra.NoArgs,
	RunE: fab.Wrap(func(rc *fab_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
		api, err := aws.NewClient(rc.Ctx, awsFlags.region, awsFlags.profile)
		if err != nil {
			return err
		}
		app := appName(cmd)
		instances, err := aws.List(rc, api, app, all)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cloud.RenderInstances(app, instances, aws.KeyFile("~/.ssh", awsFlags.keyName)))
		return nil
	}),
}

var hetznerCmd = &cobra.Command{
	Use:   "hetzner",
	Short: "List the Hetzner Cloud servers created for the application",
	Args:  cobra.NoArgs,
	RunE: fab.Wrap(func(rc *fab_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
		client, err := hetzner.NewClient()
		if err != nil {
			return err
		}
		app := appName(cmd)
		instances, err := hetzner.List(rc, &client.Server, app, all)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cloud.RenderInstances(app, instances, "~/.ssh/"+shared.BinaryName+"_hetzner"))
		return nil
	}),
}

func appName(cmd *cobra.Command) string {
	if app, _ := cmd.Flags().GetString(fab.FlagApp); app != "" {
		return app
	}
	return shared.DefaultApp
}

var cell = lipgloss.NewStyle().Padding(0, 1)

func render(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(int, int) lipgloss.Style { return cell }).
		String()
}

func init() {
	awsCmd.Flags().StringVar(&awsFlags.region, "region", aws.DefaultRegion, "AWS region")
	awsCmd.Flags().StringVar(&awsFlags.profile, "profile", aws.DefaultProfile, "shared credentials profile")
	awsCmd.Flags().StringVar(&awsFlags.keyName, "key-name", aws.DefaultKeyName, "key pair shown in the connect column")
	for _, c := range []*cobra.Command{awsCmd, hetznerCmd} {
		c.Flags().BoolVar(&all, "all", false, "include instances of every application")
	}
	ListCmd.AddCommand(tasksCmd, appsCmd, awsCmd, hetznerCmd)
}
