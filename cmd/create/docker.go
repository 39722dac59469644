// cmd/create/docker.go

package create

import (
	"fmt"
	"path"

	"github.com/ICRAR/fabtemplate/pkg/config"
	"github.com/ICRAR/fabtemplate/pkg/container"
	fab "github.com/ICRAR/fabtemplate/pkg/fab_cli"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/inventory"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/remote"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var dockerFlags struct {
	image    string
	hostPort int
	keyPath  string
	command  string
	noCommit bool
}

var dockerCmd = &cobra.Command{
	Use:   "docker",
	Short: "Install into a local container and commit it as an image",
	Long: fmt.Sprintf(`Start a %s container reachable over SSH on localhost, run the full
installation in it, trim it and commit it as icrar/<app>:latest.

A failed installation leaves the container running for inspection; remove it
with 'fabtemplate delete docker'.

Examples:
  fabtemplate create docker --app NGAS
  fabtemplate create docker --keep-sources --cmd "ngas_rt/bin/ngamsServer -cfg NGAS/cfg/ngamsServer.conf"`,
		shared.DefaultDockerImage),
	Args: cobra.NoArgs,
	RunE: fab.Wrap(func(rc *fab_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
		sess, err := fab.LoadSession(rc, cmd)
		if err != nil {
			return err
		}
		eng, err := container.New(rc.Ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		host, id, err := container.Setup(rc, eng, container.SetupOptions{
			App:      sess.Config.App,
			Image:    dockerFlags.image,
			HostPort: dockerFlags.hostPort,
			KeyPath:  dockerFlags.keyPath,
		})
		if err != nil {
			return err
		}
		timeout, _ := cmd.Flags().GetDuration(flagSSHTimeout)
		if err := remote.WaitForSSH(rc.Ctx, host, remote.Options{}, timeout); err != nil {
			return err
		}

		if err := fab.RunTasks(rc, cmd.OutOrStdout(), sess, []inventory.Host{host},
			"prepare_install_and_check", "cleanup_container"); err != nil {
			logger.Failure(rc.Ctx, "Installation failed, the container is left in place",
				zap.String("container", container.Name(sess.Config.App)))
			return err
		}
		if dockerFlags.noCommit {
			return nil
		}

		line := dockerFlags.command
		if line == "" {
			line = defaultServerLine(sess.Config, sess.Profile.Name)
		}
		return container.CommitImage(rc, eng, id, container.Repository(sess.Config.App),
			container.ServerCommand(sess.Config.User, line))
	}),
}

// defaultServerLine is the image command for profiles that run a server.
func defaultServerLine(cfg *config.Config, profile string) string {
	if profile != "NGAS" {
		return ""
	}
	layout := cfg.Layout(path.Join("/home", cfg.User))
	return fmt.Sprintf("%s -cfg %s -autoOnline -force -v 4",
		path.Join(layout.InstallDir, "bin", "ngamsServer"),
		path.Join(layout.RootDir, "cfg", "ngamsServer.conf"))
}

func init() {
	fs := dockerCmd.Flags()
	fs.StringVar(&dockerFlags.image, "image", shared.DefaultDockerImage, "base image")
	fs.IntVar(&dockerFlags.hostPort, "host-port", shared.DockerSSHHostPort, "host port mapped to the container's SSH port")
	fs.StringVar(&dockerFlags.keyPath, "key", "", "private key to reach the container (default: ~/.ssh/fabtemplate_docker, generated when missing)")
	fs.StringVar(&dockerFlags.command, "cmd", "", "command the image runs as the application user")
	fs.BoolVar(&dockerFlags.noCommit, "no-commit", false, "leave the installed container running instead of committing it")
	fs.Duration(flagSSHTimeout, shared.SSHReadyTimeout, "how long to wait for SSH in the container")
	config.AddFlags(fs)
}
