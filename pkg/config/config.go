// pkg/config/config.go

// Package config assembles the immutable deployment configuration for one run.
package config

import (
	"fmt"
	"path"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

// Server types accepted for <APP>_SERVER_TYPE.
const (
	ServerTypeNormal    = "normal"
	ServerTypeCache     = "cache"
	ServerTypeDataMover = "data-mover"
)

// Config is built once by Load and never modified afterwards.
type Config struct {
	// App is the upper-case application placeholder, e.g. APP or NGAS.
	App  string `validate:"required,excludesall=/ "`
	User string `validate:"required"`

	// Directory settings as given; relative values hang off the user's home.
	SourceDir  string `validate:"required"`
	InstallDir string `validate:"required"`
	RootDir    string `validate:"required"`

	RepoRoot   string `validate:"required"`
	Revision   string `validate:"required"`
	ServerType string `validate:"omitempty,oneof=normal cache data-mover"`
	PythonPath string

	ExtraPythonPackages []string

	OverwriteInstallation bool
	OverwriteRoot         bool
	UseCustomPipCert      bool
	NoDocDependencies     bool
	NoBashProfile         bool
	NoClient              bool
	Develop               bool
	NoCRC32C              bool
	KeepSources           bool
	KeepRoot              bool

	Parallel       bool
	MaxParallel    int `validate:"min=1"`
	StrictHostKeys bool
}

// Key returns the <APP>_<suffix> name used for environment variables and
// operator-facing messages.
func (c *Config) Key(suffix string) string {
	return strings.ToUpper(c.App) + "_" + suffix
}

// Lower is the lower-case application name used in file names.
func (c *Config) Lower() string {
	return strings.ToLower(c.App)
}

// Layout is the set of directories for one target, resolved against its home.
type Layout struct {
	Home       string
	SourceDir  string
	InstallDir string
	RootDir    string
}

// Layout resolves the configured directories for a user whose home is home.
func (c *Config) Layout(home string) Layout {
	return Layout{
		Home:       home,
		SourceDir:  resolve(home, c.SourceDir),
		InstallDir: resolve(home, c.InstallDir),
		RootDir:    resolve(home, c.RootDir),
	}
}

func resolve(home, dir string) string {
	switch {
	case path.IsAbs(dir):
		return path.Clean(dir)
	case dir == "~":
		return home
	case strings.HasPrefix(dir, "~/"):
		return path.Join(home, dir[2:])
	default:
		return path.Join(home, dir)
	}
}

var fieldKeys = map[string]string{
	"User":        KeyUser,
	"SourceDir":   KeySourceDir,
	"InstallDir":  KeyInstallDir,
	"RootDir":     KeyRootDir,
	"Revision":    KeyRevision,
	"ServerType":  KeyServerType,
	"MaxParallel": KeyMaxParallel,
}

// Validate checks the struct tags and reports the first problem as an
// operator error.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if cerr.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			name, hint := fe.Field(), "check the application name"
			if key, ok := fieldKeys[name]; ok {
				name = c.Key(strings.ToUpper(strings.ReplaceAll(key, "-", "_")))
				hint = "check --" + key + " or " + name
			}
			return fab_err.NewExpectedError(fab_err.NewValidationError(
				fmt.Sprintf("invalid configuration: %s=%v fails the %q rule", name, fe.Value(), fe.Tag()), hint))
		}
		return cerr.Wrap(err, "invalid configuration")
	}
	return nil
}
