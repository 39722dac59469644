// cmd/root.go

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/ICRAR/fabtemplate/cmd/create"
	"github.com/ICRAR/fabtemplate/cmd/delete"
	"github.com/ICRAR/fabtemplate/cmd/install"
	"github.com/ICRAR/fabtemplate/cmd/list"
	"github.com/ICRAR/fabtemplate/cmd/run"
	"github.com/ICRAR/fabtemplate/cmd/upload"
	fab "github.com/ICRAR/fabtemplate/pkg/fab_cli"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootCmd is the base command.
var RootCmd = &cobra.Command{
	Use:   shared.BinaryName,
	Short: "Install Python applications on remote hosts, cloud instances and containers",
	Long: `fabtemplate copies an application's sources to one or more hosts, builds it into
a virtualenv owned by a dedicated user, prepares its data directory, installs its
init script and checks that it starts.

Targets are named with --hosts or --inventory, or created first on AWS, Azure,
Hetzner Cloud or a local Docker container with the create commands.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		debug, _ := cmd.Flags().GetBool(fab.FlagDebug)
		logger.InitFallback(debug)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", shared.BinaryName, shared.Version)
	},
}

// RegisterCommands adds all subcommands to the root command.
func RegisterCommands() {
	fab.AddGlobalFlags(RootCmd.PersistentFlags())
	for _, sub := range []*cobra.Command{
		run.RunCmd,
		install.InstallCmd,
		list.ListCmd,
		create.CreateCmd,
		delete.DeleteCmd,
		upload.UploadCmd,
		versionCmd,
	} {
		RootCmd.AddCommand(sub)
	}
}

// Execute runs the root command and exits with the code matching the
// error category.
func Execute() {
	if err := telemetry.Init(shared.BinaryName); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
	}

	ctx, stop := fab.SignalContext(context.Background())
	RegisterCommands()
	err := RootCmd.ExecuteContext(ctx)
	stop()

	_ = telemetry.Shutdown(context.Background())
	if err == nil {
		logger.Sync()
		return
	}
	if fab_err.IsExpectedUserError(err) || fab_err.Category(err) != fab_err.CategorySystem {
		logger.L().Warn("Stopped", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		for _, hint := range cerr.GetAllHints(err) {
			fmt.Fprintln(os.Stderr, "hint:", hint)
		}
	} else {
		logger.L().Error("Failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "%+v\n", err)
	}
	logger.Sync()
	os.Exit(fab_err.GetExitCode(err))
}
