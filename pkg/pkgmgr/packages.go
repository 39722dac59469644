// pkg/pkgmgr/packages.go

package pkgmgr

import (
	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/platform"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Manifest lists the system packages an application needs, per package manager.
type Manifest struct {
	YUM  []string `yaml:"yum,omitempty"`
	APT  []string `yaml:"apt,omitempty"`
	SLES []string `yaml:"sles,omitempty"`
	Brew []string `yaml:"brew,omitempty"`
	Port []string `yaml:"port,omitempty"`
}

// For returns the package list for a package-manager family.
func (m Manifest) For(family string) []string {
	switch family {
	case "yum":
		return m.YUM
	case "apt":
		return m.APT
	case "zypper":
		return m.SLES
	case "brew":
		return m.Brew
	case "port":
		return m.Port
	}
	return nil
}

// With returns a copy of m with extra packages appended to every list.
func (m Manifest) With(extra ...string) Manifest {
	add := func(list []string) []string {
		out := make([]string, 0, len(list)+len(extra))
		return append(append(out, list...), extra...)
	}
	return Manifest{YUM: add(m.YUM), APT: add(m.APT), SLES: add(m.SLES), Brew: add(m.Brew), Port: add(m.Port)}
}

// Commands returns the commands that install pkgs on flavor, in order.
func Commands(flavor platform.Flavor, pkgs []string) ([]*execute.Cmd, error) {
	family := flavor.Family()
	if family == "" {
		return nil, fab_err.NewExpectedError(
			cerr.Wrapf(fab_err.ErrUnknownFlavor, "cannot install system packages on %q", flavor))
	}
	if len(pkgs) == 0 {
		return nil, nil
	}

	switch family {
	case "yum":
		return []*execute.Cmd{
			execute.Command("yum", append([]string{"--assumeyes", "--quiet", "install"}, pkgs...)...).AsRoot(),
		}, nil
	case "apt":
		return []*execute.Cmd{
			execute.Command("apt-get", "-qq", "-y", "update").AsRoot(),
			execute.Command("apt-get", append([]string{"-qq", "-y", "install"}, pkgs...)...).
				WithEnv("DEBIAN_FRONTEND", "noninteractive").AsRoot(),
		}, nil
	case "zypper":
		return []*execute.Cmd{
			execute.Command("zypper", append([]string{"--non-interactive", "install"}, pkgs...)...).AsRoot(),
		}, nil
	case "brew":
		// brew refuses to run as root
		return []*execute.Cmd{execute.Command("brew", append([]string{"install"}, pkgs...)...)}, nil
	default:
		return []*execute.Cmd{execute.Command("port", append([]string{"install"}, pkgs...)...).AsRoot()}, nil
	}
}

// InstallSystemPackages installs the manifest entries for flavor on the target.
func InstallSystemPackages(rc *fab_io.RuntimeContext, ex execute.Executor, flavor platform.Flavor, m Manifest) error {
	ctx, span := telemetry.Start(rc.Ctx, "pkgmgr.InstallSystemPackages",
		attribute.String("flavor", flavor.String()))
	defer span.End()
	log := otelzap.Ctx(ctx)

	// ASSESS
	pkgs := m.For(flavor.Family())
	cmds, err := Commands(flavor, pkgs)
	if err != nil {
		return err
	}
	if len(cmds) == 0 {
		log.Info("No system packages to install", zap.String("flavor", flavor.String()))
		return nil
	}

	// INTERVENE
	log.Info("Installing system packages",
		zap.String("host", ex.Host().Label()),
		zap.String("manager", flavor.Family()),
		zap.Strings("packages", pkgs))
	for _, cmd := range cmds {
		if _, err := ex.Run(ctx, cmd); err != nil {
			span.RecordError(err)
			return cerr.Wrapf(err, "%s package installation failed", flavor.Family())
		}
	}

	// EVALUATE
	logger.Success(ctx, "System packages installed", zap.Int("count", len(pkgs)))
	return nil
}
