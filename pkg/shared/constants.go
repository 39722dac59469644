// pkg/shared/constants.go

package shared

import "time"

var Version = "0.3.0-dev"

const (
	BinaryName = "fabtemplate"

	// DefaultApp is the placeholder profile name.
	DefaultApp = "APP"

	// DefaultPythonPackage is installed when a profile names no package of its own.
	DefaultPythonPackage = "git+https://github.com/ICRAR/fabfileTemplate"

	// PipCertURL is the CA bundle fetched when a custom pip certificate is requested.
	PipCertURL = "http://curl.haxx.se/ca/cacert.pem"

	DefaultSSHPort     = 22
	DefaultArchivePort = 7777
	DockerSSHHostPort  = 2222
	DefaultMaxParallel = 4
	DefaultDockerImage = "centos:7"
	DefaultDockerRepo  = "icrar"

	// RemoteTarballFormat takes the upper-case app name.
	RemoteTarballFormat = "/tmp/%s_tmp.tar"
)

const (
	SSHReadyTimeout     = 300 * time.Second
	InstanceWaitTimeout = 10 * time.Minute
	PollInterval        = 5 * time.Second
	ProbeAttempts       = 5
	ProbeDelay          = 2 * time.Second
)

// BaselinePythonPackages are upgraded or installed into every new environment.
var BaselinePythonPackages = []string{"pip", "wheel", "setuptools", "python-daemon"}
