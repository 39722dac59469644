// pkg/platform/flavor.go

package platform

import (
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Flavor names the operating system of a target host.
type Flavor string

const (
	FlavorUbuntu      Flavor = "Ubuntu"
	FlavorDebian      Flavor = "Debian"
	FlavorCentOS      Flavor = "CentOS"
	FlavorAmazonLinux Flavor = "Amazon Linux"
	FlavorSUSE        Flavor = "SUSE"
	FlavorDarwin      Flavor = "Darwin"
	FlavorDarwinBrew  Flavor = "Darwin (brew)"
	FlavorDarwinPort  Flavor = "Darwin (MacPorts)"
	FlavorUnknown     Flavor = "Unknown"
)

const (
	osReleasePath = "/etc/os-release"

	packageFamilyYum      = "yum"
	packageFamilyApt      = "apt"
	packageFamilyZypper   = "zypper"
	packageFamilyBrew     = "brew"
	packageFamilyMacPorts = "port"
)

// Family returns the package manager used on this flavour, or "" if unknown.
func (f Flavor) Family() string {
	switch f {
	case FlavorCentOS, FlavorAmazonLinux:
		return packageFamilyYum
	case FlavorUbuntu, FlavorDebian:
		return packageFamilyApt
	case FlavorSUSE:
		return packageFamilyZypper
	case FlavorDarwinBrew:
		return packageFamilyBrew
	case FlavorDarwinPort:
		return packageFamilyMacPorts
	}
	return ""
}

// UsesDebianLayout is true where service options live in /etc/default.
func (f Flavor) UsesDebianLayout() bool {
	return f == FlavorUbuntu || f == FlavorDebian
}

// IsDarwin covers macOS with or without a package manager.
func (f Flavor) IsDarwin() bool {
	return f == FlavorDarwin || f == FlavorDarwinBrew || f == FlavorDarwinPort
}

func (f Flavor) String() string { return string(f) }

// Detect identifies the flavour of the host behind ex.
func Detect(rc *fab_io.RuntimeContext, ex execute.Executor) (Flavor, error) {
	logger := otelzap.Ctx(rc.Ctx)

	kernel, err := execute.Output(rc.Ctx, ex, execute.Command("uname", "-s").Silent())
	if err != nil {
		return FlavorUnknown, cerr.Wrap(err, "failed to identify target kernel")
	}

	var flavor Flavor
	switch strings.TrimSpace(kernel) {
	case "Darwin":
		flavor, err = detectDarwin(rc, ex)
	case "Linux":
		flavor, err = detectLinux(rc, ex)
	default:
		flavor = FlavorUnknown
	}
	if err != nil {
		return FlavorUnknown, err
	}

	logger.Info("Detected target platform",
		zap.String("host", ex.Host().Label()),
		zap.String("kernel", kernel),
		zap.String("flavor", flavor.String()))
	return flavor, nil
}

func detectDarwin(rc *fab_io.RuntimeContext, ex execute.Executor) (Flavor, error) {
	if ok, err := execute.HasCommand(rc.Ctx, ex, "brew"); err != nil {
		return FlavorUnknown, err
	} else if ok {
		return FlavorDarwinBrew, nil
	}
	if ok, err := execute.HasCommand(rc.Ctx, ex, "port"); err != nil {
		return FlavorUnknown, err
	} else if ok {
		return FlavorDarwinPort, nil
	}
	return FlavorDarwin, nil
}

func detectLinux(rc *fab_io.RuntimeContext, ex execute.Executor) (Flavor, error) {
	res, err := ex.Run(rc.Ctx, execute.Command("cat", osReleasePath).AllowFailure().Silent())
	if err != nil {
		return FlavorUnknown, err
	}
	if !res.OK() {
		otelzap.Ctx(rc.Ctx).Warn("No os-release file on target", zap.String("host", ex.Host().Label()))
		return FlavorUnknown, nil
	}
	return FromOSRelease(ParseOSRelease(res.Stdout)), nil
}

// OSRelease holds the fields of /etc/os-release used for detection.
type OSRelease struct {
	ID        string
	IDLike    []string
	VersionID string
	Pretty    string
}

// ParseOSRelease reads KEY=value lines, dropping comments and quotes.
func ParseOSRelease(content string) OSRelease {
	var rel OSRelease
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch strings.TrimSpace(key) {
		case "ID":
			rel.ID = strings.ToLower(value)
		case "ID_LIKE":
			rel.IDLike = strings.Fields(strings.ToLower(value))
		case "VERSION_ID":
			rel.VersionID = value
		case "PRETTY_NAME":
			rel.Pretty = value
		}
	}
	return rel
}

// FromOSRelease maps ID, then each ID_LIKE entry, to a flavour.
func FromOSRelease(rel OSRelease) Flavor {
	for _, id := range append([]string{rel.ID}, rel.IDLike...) {
		if f := flavorForID(id); f != FlavorUnknown {
			return f
		}
	}
	return FlavorUnknown
}

func flavorForID(id string) Flavor {
	switch {
	case id == "ubuntu":
		return FlavorUbuntu
	case id == "debian":
		return FlavorDebian
	case id == "centos", id == "rhel", id == "rocky", id == "almalinux", id == "fedora":
		return FlavorCentOS
	case id == "amzn":
		return FlavorAmazonLinux
	case id == "sles", id == "suse", strings.HasPrefix(id, "opensuse"):
		return FlavorSUSE
	}
	return FlavorUnknown
}
