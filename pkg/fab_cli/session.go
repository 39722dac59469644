// pkg/fab_cli/session.go

package fab_cli

import (
	"github.com/ICRAR/fabtemplate/pkg/appspec"
	"github.com/ICRAR/fabtemplate/pkg/config"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/interaction"
	"github.com/ICRAR/fabtemplate/pkg/inventory"
	"github.com/ICRAR/fabtemplate/pkg/params"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/sources"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Flags shared by every command.
const (
	FlagApp       = "app"
	FlagConfig    = "config"
	FlagEnvFile   = "env-file"
	FlagDebug     = "debug"
	FlagYes       = "yes"
	FlagHosts     = "hosts"
	FlagInventory = "inventory"
	FlagSSHUser   = "ssh-user"
	FlagSSHPort   = "ssh-port"
	FlagSSHKey    = "ssh-key"
	FlagPassword  = "ssh-password"
)

// AddGlobalFlags registers the flags every command understands.
func AddGlobalFlags(fs *pflag.FlagSet) {
	fs.String(FlagApp, shared.DefaultApp, "application profile to deploy")
	fs.String(FlagConfig, "", "YAML file with settings keyed like the flags")
	fs.String(FlagEnvFile, "", "dotenv file with <APP>_ settings (default: ./.env when present)")
	fs.Bool(FlagDebug, false, "log at debug level")
	fs.BoolP(FlagYes, "y", false, "answer yes to every confirmation")
}

// AddHostFlags registers how target hosts are named and reached.
func AddHostFlags(fs *pflag.FlagSet) {
	fs.StringSliceP(FlagHosts, "H", nil, "target hosts as [user@]address[:port]; none means the local machine")
	fs.StringP(FlagInventory, "i", "", "YAML inventory of target hosts")
	fs.String(FlagSSHUser, "", "user to connect as when a host names none")
	fs.Int(FlagSSHPort, 0, "SSH port when a host names none")
	fs.String(FlagSSHKey, "", "private key to authenticate with")
	fs.String(FlagPassword, "", "SSH password, when keys and the agent are not an option")
}

// Session is what a host-facing command needs: the frozen configuration,
// the application profile and the hosts to act on.
type Session struct {
	Config  *config.Config
	Params  *params.Store
	Profile appspec.Profile
	Hosts   []inventory.Host
}

// LoadSession resolves the profile named by --app, loads the configuration
// with the profile's defaults underneath, and collects the target hosts.
func LoadSession(rc *fab_io.RuntimeContext, cmd *cobra.Command) (*Session, error) {
	fs := cmd.Flags()
	app, _ := fs.GetString(FlagApp)
	if app == "" {
		app = shared.DefaultApp
	}
	profile, err := appspec.Lookup(app)
	if err != nil {
		return nil, err
	}

	configFile, _ := fs.GetString(FlagConfig)
	envFile, _ := fs.GetString(FlagEnvFile)
	cfg, store, err := config.Load(rc.Ctx, config.LoadOptions{
		App:        app,
		Flags:      fs,
		ConfigFile: configFile,
		EnvFile:    envFile,
		Defaults:   profile.Defaults(),
		Revision:   sources.Revision,
	})
	if err != nil {
		if fab_err.Category(err) == fab_err.CategorySystem {
			return nil, fab_err.NewExpectedError(err)
		}
		return nil, err
	}

	hosts, err := Hosts(rc, fs)
	if err != nil {
		return nil, err
	}

	rc.Attributes["app"] = cfg.App
	rc.Log.Info("Session ready",
		zap.String("app", cfg.App),
		zap.String("user", cfg.User),
		zap.String("revision", cfg.Revision),
		zap.Int("hosts", len(hosts)))
	return &Session{Config: cfg, Params: store, Profile: profile, Hosts: hosts}, nil
}

// Hosts reads the inventory file, when given, followed by the --hosts
// entries. Connection flags fill whatever a host leaves unset.
func Hosts(rc *fab_io.RuntimeContext, fs *pflag.FlagSet) ([]inventory.Host, error) {
	defaults := HostDefaults(fs)

	var hosts []inventory.Host
	if path, _ := fs.GetString(FlagInventory); path != "" {
		loaded, err := inventory.Load(rc.Ctx, path)
		if err != nil {
			return nil, fab_err.NewExpectedError(cerr.Wrapf(err, "inventory %s", path))
		}
		for _, h := range loaded {
			hosts = append(hosts, h.Merge(defaults))
		}
	}

	specs, _ := fs.GetStringSlice(FlagHosts)
	parsed, err := inventory.ParseHosts(specs, defaults)
	if err != nil {
		return nil, fab_err.NewExpectedError(err)
	}
	return append(hosts, parsed...), nil
}

// HostDefaults are the connection settings given on the command line.
func HostDefaults(fs *pflag.FlagSet) inventory.Host {
	user, _ := fs.GetString(FlagSSHUser)
	port, _ := fs.GetInt(FlagSSHPort)
	key, _ := fs.GetString(FlagSSHKey)
	password, _ := fs.GetString(FlagPassword)
	return inventory.Host{User: user, Port: port, KeyPath: key, Password: password}
}

// Prompter asks on the terminal unless --yes was given.
func Prompter(cmd *cobra.Command) interaction.Prompter {
	yes, _ := cmd.Flags().GetBool(FlagYes)
	return interaction.Stdio(yes)
}
