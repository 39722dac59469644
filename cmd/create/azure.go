// cmd/create/azure.go

package create

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ICRAR/fabtemplate/pkg/cloud"
	"github.com/ICRAR/fabtemplate/pkg/cloud/azure"
	fab "github.com/ICRAR/fabtemplate/pkg/fab_cli"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/sshkeys"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var azureFlags struct {
	location  string
	size      string
	adminUser string
	keyPath   string
}

var azureCmd = &cobra.Command{
	Use:   "azure",
	Short: "Start an Azure VM to install onto",
	Long: fmt.Sprintf(`Create the resource group <APP>-rg with an availability set, public IP,
virtual network, subnet, network interface and the VM %s, then wait for SSH.
Existing resources of the same names are updated in place.

Credentials come from the environment, a managed identity or 'az login'; the
subscription from %s.

Examples:
  fabtemplate create azure --app NGAS --install
  fabtemplate create azure --location australiaeast --size Standard_B2s`,
		azure.VMName, azure.SubscriptionEnv),
	Args: cobra.NoArgs,
	RunE: fab.Wrap(func(rc *fab_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
		sess, err := fab.LoadSession(rc, cmd)
		if err != nil {
			return err
		}
		keyPath := azureFlags.keyPath
		if keyPath == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return cerr.Wrap(err, "locating home directory")
			}
			keyPath = filepath.Join(home, ".ssh", shared.BinaryName+"_azure")
		}
		key, err := sshkeys.Ensure(rc, keyPath, shared.BinaryName+"-azure")
		if err != nil {
			return err
		}

		clients, err := azure.NewClients()
		if err != nil {
			return err
		}
		vm, err := azure.Create(rc, clients, azure.CreateOptions{
			App:       sess.Config.App,
			AppUser:   sess.Config.User,
			Location:  azureFlags.location,
			Size:      azureFlags.size,
			AdminUser: azureFlags.adminUser,
			PublicKey: key.PublicKey,
		})
		if err != nil {
			return err
		}
		instances := []cloud.Instance{vm}
		fmt.Fprintln(cmd.OutOrStdout(), cloud.RenderInstances(sess.Config.App, instances, key.PrivatePath))

		return waitAndInstall(rc, cmd, sess, cloud.ToHosts(instances, azureFlags.adminUser, key.PrivatePath))
	}),
}

func init() {
	fs := azureCmd.Flags()
	fs.StringVar(&azureFlags.location, "location", azure.DefaultLocation, "Azure region")
	fs.StringVar(&azureFlags.size, "size", azure.DefaultVMSize, "VM size")
	fs.StringVar(&azureFlags.adminUser, "admin-user", azure.DefaultAdminUser, "VM administrator account")
	fs.StringVar(&azureFlags.keyPath, "key", "", "private key for the administrator (default: ~/.ssh/fabtemplate_azure, generated when missing)")
	addTargetFlags(fs)
}
