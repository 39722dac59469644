// pkg/config/load.go

package config

import (
	"context"
	"os"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/params"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Keys double as flag names. The environment form is <APP>_ plus the key
// upper-cased with '-' replaced by '_'.
const (
	KeyUser                  = "user"
	KeySourceDir             = "src-dir"
	KeyInstallDir            = "install-dir"
	KeyRootDir               = "root-dir"
	KeyRevision              = "rev"
	KeyServerType            = "server-type"
	KeyPython                = "python"
	KeyExtraPythonPackages   = "extra-python-packages"
	KeyOverwriteInstallation = "overwrite-installation"
	KeyOverwriteRoot         = "overwrite-root"
	KeyUseCustomPipCert      = "use-custom-pip-cert"
	KeyNoDocDependencies     = "no-doc-dependencies"
	KeyNoBashProfile         = "no-bash-profile"
	KeyNoClient              = "no-client"
	KeyDevelop               = "develop"
	KeyNoCRC32C              = "no-crc32c"
	KeyKeepSources           = "keep-sources"
	KeyKeepRoot              = "keep-root"
	KeyParallel              = "parallel"
	KeyMaxParallel           = "max-parallel"
	KeyStrictHostKeys        = "strict-host-keys"
)

var flagKeys = []string{
	KeyOverwriteInstallation, KeyOverwriteRoot, KeyUseCustomPipCert, KeyNoDocDependencies,
	KeyNoBashProfile, KeyNoClient, KeyDevelop, KeyNoCRC32C, KeyKeepSources, KeyKeepRoot,
	KeyParallel, KeyStrictHostKeys,
}

var valueKeys = []string{
	KeyUser, KeySourceDir, KeyInstallDir, KeyRootDir, KeyRevision, KeyServerType, KeyPython,
}

// RevisionFunc returns the revision to deploy from repoRoot.
type RevisionFunc func(repoRoot string) (string, error)

// LoadOptions controls where Load looks for settings.
type LoadOptions struct {
	// App is the application placeholder; it selects the <APP>_ env prefix.
	App string
	// Flags, when given, are bound over every other source.
	Flags *pflag.FlagSet
	// ConfigFile is an optional YAML file.
	ConfigFile string
	// EnvFile defaults to ".env" in the working directory; a missing file is ignored.
	EnvFile string
	// RepoRoot defaults to the working directory.
	RepoRoot string
	// Defaults are application-profile values, applied below every explicit source.
	Defaults map[string]any
	// Revision resolves the revision when none is configured.
	Revision RevisionFunc
}

// AddFlags registers the per-run settings on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(KeyUser, "", "OS user that owns the installation (default: lower-case app name)")
	fs.String(KeySourceDir, "", "source directory, relative to the user's home")
	fs.String(KeyInstallDir, "", "virtualenv directory, relative to the user's home")
	fs.String(KeyRootDir, "", "data/root directory, relative to the user's home")
	fs.String(KeyRevision, "", "revision to deploy (default: current branch)")
	fs.String(KeyServerType, "", "server type: normal, cache or data-mover")
	fs.String(KeyPython, "", "python interpreter on the target, skips discovery")
	fs.StringSlice(KeyExtraPythonPackages, nil, "extra python packages to install")
	fs.Bool(KeyOverwriteInstallation, false, "remove an existing virtualenv")
	fs.Bool(KeyOverwriteRoot, false, "reuse an existing root directory")
	fs.Bool(KeyUseCustomPipCert, false, "install a CA bundle for pip")
	fs.Bool(KeyNoDocDependencies, false, "skip documentation dependencies in the build")
	fs.Bool(KeyNoBashProfile, false, "leave ~/.bash_profile untouched")
	fs.Bool(KeyNoClient, false, "do not build the client")
	fs.Bool(KeyDevelop, false, "build in development mode")
	fs.Bool(KeyNoCRC32C, false, "build without the crc32c extension")
	fs.Bool(KeyKeepSources, false, "keep sources when cleaning a container")
	fs.Bool(KeyKeepRoot, false, "keep the root directory when cleaning a container")
	fs.Bool(KeyParallel, false, "run hosts in parallel")
	fs.Int(KeyMaxParallel, shared.DefaultMaxParallel, "maximum hosts handled at once with --parallel")
	fs.Bool(KeyStrictHostKeys, false, "verify host keys against ~/.ssh/known_hosts")
}

// Load builds the Config for one run. Sources, highest first: flags,
// <APP>_ environment variables, the config file, the .env file,
// profile defaults, built-in defaults.
func Load(ctx context.Context, opts LoadOptions) (*Config, *params.Store, error) {
	log := otelzap.Ctx(ctx)

	app := strings.ToUpper(strings.TrimSpace(opts.App))
	if app == "" {
		app = shared.DefaultApp
	}

	v := viper.New()
	v.SetEnvPrefix(app)
	v.AllowEmptyEnv(true)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault(KeyMaxParallel, shared.DefaultMaxParallel)

	if err := loadEnvFile(v, app, opts.EnvFile); err != nil {
		return nil, nil, err
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, cerr.WithHint(
				cerr.Wrapf(err, "failed to read config file %s", opts.ConfigFile),
				"the config file is YAML with keys matching the flag names")
		}
		log.Debug("Config file loaded", zap.String("path", v.ConfigFileUsed()))
	}

	if opts.Flags != nil {
		var result error
		opts.Flags.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(f.Name, f); err != nil {
				result = multierror.Append(result, err)
			}
		})
		if result != nil {
			return nil, nil, cerr.Wrap(result, "failed to bind flags")
		}
	}

	store := params.New()
	for _, k := range valueKeys {
		if v.IsSet(k) {
			store.Set(k, strings.TrimSpace(v.GetString(k)))
		}
	}
	for _, k := range flagKeys {
		if v.IsSet(k) {
			store.Set(k, params.Truthy(v.GetString(k)))
		}
	}
	if v.IsSet(KeyExtraPythonPackages) {
		if s, ok := v.Get(KeyExtraPythonPackages).(string); ok {
			store.Set(KeyExtraPythonPackages, params.SplitList(s))
		} else {
			store.Set(KeyExtraPythonPackages, v.GetStringSlice(KeyExtraPythonPackages))
		}
	}
	store.Set(KeyMaxParallel, v.GetInt(KeyMaxParallel))

	for k, def := range opts.Defaults {
		store.GetOrDefault(k, def)
	}

	cfg, err := build(app, store, opts)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	log.Debug("Configuration loaded", zap.Any("params", store.Snapshot()))
	return cfg, store, nil
}

// build fills the remaining built-in defaults and freezes the store into a Config.
func build(app string, store *params.Store, opts LoadOptions) (*Config, error) {
	lower := strings.ToLower(app)

	repoRoot := opts.RepoRoot
	if repoRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, cerr.Wrap(err, "failed to determine working directory")
		}
		repoRoot = wd
	}

	revision := opts.Revision
	if revision == nil {
		revision = func(string) (string, error) { return "local", nil }
	}
	rev, err := store.GetOrDefaultE(KeyRevision, func() (string, error) { return revision(repoRoot) })
	if err != nil {
		return nil, cerr.Wrap(err, "failed to determine the revision to deploy")
	}
	if s, _ := rev.(string); s == "" {
		store.Set(KeyRevision, "HEAD")
	}

	cfg := &Config{
		App:        app,
		User:       nonEmpty(store, KeyUser, lower),
		SourceDir:  nonEmpty(store, KeySourceDir, lower+"_src"),
		InstallDir: nonEmpty(store, KeyInstallDir, lower+"_rt"),
		RootDir:    nonEmpty(store, KeyRootDir, app),
		RepoRoot:   repoRoot,
		Revision:   store.String(KeyRevision, "HEAD"),
		ServerType: store.String(KeyServerType, ServerTypeNormal),
		PythonPath: store.String(KeyPython, ""),

		ExtraPythonPackages: store.Strings(KeyExtraPythonPackages, nil),

		OverwriteInstallation: store.Bool(KeyOverwriteInstallation, false),
		OverwriteRoot:         store.Bool(KeyOverwriteRoot, false),
		UseCustomPipCert:      store.Bool(KeyUseCustomPipCert, false),
		NoDocDependencies:     store.Bool(KeyNoDocDependencies, false),
		NoBashProfile:         store.Bool(KeyNoBashProfile, false),
		NoClient:              store.Bool(KeyNoClient, false),
		Develop:               store.Bool(KeyDevelop, false),
		NoCRC32C:              store.Bool(KeyNoCRC32C, false),
		KeepSources:           store.Bool(KeyKeepSources, false),
		KeepRoot:              store.Bool(KeyKeepRoot, false),
		Parallel:              store.Bool(KeyParallel, false),
		StrictHostKeys:        store.Bool(KeyStrictHostKeys, false),
	}
	if n, ok := store.GetOrDefault(KeyMaxParallel, shared.DefaultMaxParallel).(int); ok {
		cfg.MaxParallel = n
	}
	return cfg, nil
}

// nonEmpty treats an empty explicit value like an unset one.
func nonEmpty(store *params.Store, key, def string) string {
	if s := store.String(key, def); s != "" {
		return s
	}
	return def
}

// loadEnvFile applies <APP>_ entries from a dotenv file as defaults, so the
// real environment, the config file and flags all win over it.
func loadEnvFile(v *viper.Viper, app, file string) error {
	explicit := file != ""
	if !explicit {
		file = ".env"
	}
	if _, err := os.Stat(file); err != nil {
		if explicit {
			return cerr.Wrapf(err, "env file %s", file)
		}
		return nil
	}
	values, err := godotenv.Read(file)
	if err != nil {
		return cerr.Wrapf(err, "failed to parse env file %s", file)
	}
	prefix := app + "_"
	for name, value := range values {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, prefix)), "_", "-")
		v.SetDefault(key, value)
	}
	return nil
}
