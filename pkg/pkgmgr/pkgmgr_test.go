package pkgmgr

import (
	"testing"

	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/inventory"
	"github.com/ICRAR/fabtemplate/pkg/platform"
	"github.com/ICRAR/fabtemplate/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var manifest = Manifest{
	YUM:  []string{"gcc", "openssl-devel"},
	APT:  []string{"gcc", "libssl-dev"},
	SLES: []string{"gcc", "openssl"},
	Brew: []string{"wget"},
	Port: []string{"db60"},
}

func TestInstallSystemPackagesPerFlavor(t *testing.T) {
	t.Parallel()

	tests := []testutil.TableTest[struct {
		flavor platform.Flavor
		want   []string
	}]{
		{Name: "centos", Input: struct {
			flavor platform.Flavor
			want   []string
		}{platform.FlavorCentOS, []string{"sudo -n -H yum --assumeyes --quiet install gcc openssl-devel"}}},
		{Name: "amazon linux", Input: struct {
			flavor platform.Flavor
			want   []string
		}{platform.FlavorAmazonLinux, []string{"sudo -n -H yum --assumeyes --quiet install gcc openssl-devel"}}},
		{Name: "ubuntu", Input: struct {
			flavor platform.Flavor
			want   []string
		}{platform.FlavorUbuntu, []string{
			"sudo -n -H apt-get -qq -y update",
			"sudo -n -H env DEBIAN_FRONTEND=noninteractive apt-get -qq -y install gcc libssl-dev",
		}}},
		{Name: "suse", Input: struct {
			flavor platform.Flavor
			want   []string
		}{platform.FlavorSUSE, []string{"sudo -n -H zypper --non-interactive install gcc openssl"}}},
		{Name: "brew runs unprivileged", Input: struct {
			flavor platform.Flavor
			want   []string
		}{platform.FlavorDarwinBrew, []string{"brew install wget"}}},
		{Name: "macports", Input: struct {
			flavor platform.Flavor
			want   []string
		}{platform.FlavorDarwinPort, []string{"sudo -n -H port install db60"}}},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			t.Parallel()
			ex := testutil.NewFakeExecutor(inventory.Host{})
			require.NoError(t, InstallSystemPackages(testutil.RC(t), ex, tt.Input.flavor, manifest))
			assert.Equal(t, tt.Input.want, ex.Lines())
		})
	}
}

func TestInstallSystemPackagesUnknownFlavor(t *testing.T) {
	t.Parallel()

	ex := testutil.NewFakeExecutor(inventory.Host{})
	err := InstallSystemPackages(testutil.RC(t), ex, platform.FlavorUnknown, manifest)
	require.Error(t, err)
	assert.True(t, fab_err.IsExpectedUserError(err))
	assert.Contains(t, err.Error(), "Unknown")
	assert.Empty(t, ex.Lines())
}

func TestInstallSystemPackagesEmptyListIsNoop(t *testing.T) {
	t.Parallel()

	ex := testutil.NewFakeExecutor(inventory.Host{})
	require.NoError(t, InstallSystemPackages(testutil.RC(t), ex, platform.FlavorUbuntu, Manifest{YUM: []string{"gcc"}}))
	assert.Empty(t, ex.Lines())
}

func TestInstallSystemPackagesFailurePropagates(t *testing.T) {
	t.Parallel()

	ex := testutil.NewFakeExecutor(inventory.Host{}).OnExit("yum", 1)
	err := InstallSystemPackages(testutil.RC(t), ex, platform.FlavorCentOS, manifest)
	require.Error(t, err)
	var cmdErr *execute.CommandError
	assert.ErrorAs(t, err, &cmdErr)
}

func TestInstallAsRootDropsSudo(t *testing.T) {
	t.Parallel()

	ex := testutil.NewFakeExecutor(inventory.Host{User: "root"})
	require.NoError(t, InstallSystemPackages(testutil.RC(t), ex, platform.FlavorCentOS, manifest))
	assert.Equal(t, []string{"yum --assumeyes --quiet install gcc openssl-devel"}, ex.Lines())
}

func TestManifestWith(t *testing.T) {
	t.Parallel()

	m := manifest.With("nginx")
	assert.Equal(t, []string{"gcc", "libssl-dev", "nginx"}, m.APT)
	assert.Equal(t, []string{"gcc", "libssl-dev"}, manifest.APT)
}

func TestCreateUserExisting(t *testing.T) {
	t.Parallel()

	ex := testutil.NewFakeExecutor(inventory.Host{})
	require.NoError(t, CreateUser(testutil.RC(t), ex, platform.FlavorUbuntu, "ngas"))
	assert.Equal(t, []string{"id -u ngas"}, ex.Lines())
}

func TestCreateUserNew(t *testing.T) {
	t.Parallel()

	ex := testutil.NewFakeExecutor(inventory.Host{User: "ubuntu"}).
		OnExit("id -u ngas", 1).
		OnOutput("getent passwd ngas", "/home/ngas\n")
	require.NoError(t, CreateUser(testutil.RC(t), ex, platform.FlavorUbuntu, "ngas"))

	lines := ex.Lines()
	assert.Contains(t, lines, "sudo -n -H useradd -m -s /bin/bash ngas")
	assert.Contains(t, lines, "sudo -n -H cp /home/ubuntu/.ssh/authorized_keys /home/ngas/.ssh/")
	assert.Contains(t, lines, "sudo -n -H chown -R ngas: /home/ngas/.ssh")
	assert.Contains(t, lines, "sudo -n -H chmod 600 /home/ngas/.ssh/authorized_keys")
	assert.Less(t, ex.IndexOf("useradd"), ex.IndexOf("authorized_keys /home/ngas"))
}

func TestCreateUserRejectsDarwinAndBadNames(t *testing.T) {
	t.Parallel()

	ex := testutil.NewFakeExecutor(inventory.Host{}).OnExit("id -u", 1)
	err := CreateUser(testutil.RC(t), ex, platform.FlavorDarwinBrew, "ngas")
	require.Error(t, err)
	assert.True(t, fab_err.IsExpectedUserError(err))

	err = CreateUser(testutil.RC(t), ex, platform.FlavorUbuntu, "bad name;")
	require.Error(t, err)
	assert.True(t, fab_err.IsExpectedUserError(err))
}
