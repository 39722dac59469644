// cmd/create/hetzner.go

package create

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ICRAR/fabtemplate/pkg/cloud"
	"github.com/ICRAR/fabtemplate/pkg/cloud/hetzner"
	fab "github.com/ICRAR/fabtemplate/pkg/fab_cli"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/sshkeys"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var hetznerFlags struct {
	name       string
	count      int
	serverType string
	image      string
	location   string
	keyName    string
	keyPath    string
}

var hetznerCmd = &cobra.Command{
	Use:   "hetzner",
	Short: "Start Hetzner Cloud servers to install onto",
	Long: fmt.Sprintf(`Start one or more servers labelled for the application and wait until they
run and answer SSH as root. The public key is registered under --key-name
when no key of that name exists.

The API token is read from %s.

Examples:
  fabtemplate create hetzner --app NGAS --location fsn1 --install
  fabtemplate create hetzner --count 3 --server-type cx32`, hetzner.TokenEnv),
	Args: cobra.NoArgs,
	RunE: fab.Wrap(func(rc *fab_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
		sess, err := fab.LoadSession(rc, cmd)
		if err != nil {
			return err
		}
		keyPath := hetznerFlags.keyPath
		if keyPath == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return cerr.Wrap(err, "locating home directory")
			}
			keyPath = filepath.Join(home, ".ssh", shared.BinaryName+"_hetzner")
		}
		key, err := sshkeys.Ensure(rc, keyPath, shared.BinaryName+"-hetzner")
		if err != nil {
			return err
		}

		client, err := hetzner.NewClient()
		if err != nil {
			return err
		}
		sshKey, err := hetzner.EnsureSSHKey(rc, &client.SSHKey, hetznerFlags.keyName, key.PublicKey)
		if err != nil {
			return err
		}

		name := hetznerFlags.name
		if name == "" {
			name = sess.Config.App + "_" + sess.Config.Revision
		}
		instances, err := hetzner.Create(rc, &client.Server, hetzner.CreateOptions{
			App:         sess.Config.App,
			AppUser:     sess.Config.User,
			BaseName:    name,
			Count:       hetznerFlags.count,
			ServerType:  hetznerFlags.serverType,
			Image:       hetznerFlags.image,
			Location:    hetznerFlags.location,
			SSHKey:      sshKey,
			WaitTimeout: waitTimeout(cmd),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cloud.RenderInstances(sess.Config.App, instances, key.PrivatePath))

		return waitAndInstall(rc, cmd, sess, cloud.ToHosts(instances, hetzner.DefaultUser, key.PrivatePath))
	}),
}

func init() {
	fs := hetznerCmd.Flags()
	fs.StringVar(&hetznerFlags.name, "name", "", "server name (default: <app>-<revision>)")
	fs.IntVar(&hetznerFlags.count, "count", 1, "number of servers")
	fs.StringVar(&hetznerFlags.serverType, "server-type", hetzner.DefaultServerType, "server type")
	fs.StringVar(&hetznerFlags.image, "image", hetzner.DefaultImage, "image to boot")
	fs.StringVar(&hetznerFlags.location, "location", "", "location, e.g. fsn1 or nbg1 (default: chosen by Hetzner)")
	fs.StringVar(&hetznerFlags.keyName, "key-name", hetzner.DefaultKeyName, "name of the registered SSH key")
	fs.StringVar(&hetznerFlags.keyPath, "key", "", "private key to connect with (default: ~/.ssh/fabtemplate_hetzner, generated when missing)")
	fs.Duration(flagWaitTimeout, shared.InstanceWaitTimeout, "how long to wait for the servers to run")
	addTargetFlags(fs)
}
