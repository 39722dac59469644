package sysv

import (
	"testing"

	"github.com/ICRAR/fabtemplate/pkg/config"
	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/inventory"
	"github.com/ICRAR/fabtemplate/pkg/platform"
	"github.com/ICRAR/fabtemplate/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var params = InitParams{
	SourceDir:  "/home/ngas/ngas_src",
	User:       "ngas",
	ConfigFile: "/home/ngas/NGAS/cfg/ngamsServer.conf",
}

func TestOptionsFile(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/etc/default/ngas", OptionsFile(platform.FlavorDebian, "ngas"))
	assert.Equal(t, "/etc/default/ngas", OptionsFile(platform.FlavorUbuntu, "ngas"))
	assert.Equal(t, "/etc/sysconfig/ngas", OptionsFile(platform.FlavorCentOS, "ngas"))
	assert.Equal(t, "/etc/sysconfig/ngas", OptionsFile(platform.FlavorSUSE, "ngas"))
}

func TestInstallSysVInitScriptDebian(t *testing.T) {
	t.Parallel()

	ex := testutil.NewFakeExecutor(inventory.Host{User: "ubuntu"})
	cfg := &config.Config{App: "NGAS", ServerType: config.ServerTypeNormal}
	require.NoError(t, InstallSysVInitScript(testutil.RC(t), ex, cfg, platform.FlavorUbuntu, params))

	assert.Equal(t, []string{
		"sudo -n -H cp /home/ngas/ngas_src/fabfile/init/sysv/ngas-server /etc/init.d/",
		"sudo -n -H chmod 755 /etc/init.d/ngas-server",
		"sudo -n -H cp /home/ngas/ngas_src/fabfile/init/sysv/ngas-server.options /etc/default/ngas",
		"sudo -n -H chmod 644 /etc/default/ngas",
		"sudo -n -H sed -i -e " + execute.Quote("s|^USER=.*|USER=ngas|") + " /etc/default/ngas",
		"sudo -n -H sed -i -e " + execute.Quote("s|^CFGFILE=.*|CFGFILE=/home/ngas/NGAS/cfg/ngamsServer.conf|") + " /etc/default/ngas",
		"command -v update-rc.d >/dev/null 2>&1",
		"sudo -n -H update-rc.d ngas-server defaults",
	}, ex.Lines())
}

func TestInstallSysVInitScriptChkconfig(t *testing.T) {
	t.Parallel()

	ex := testutil.NewFakeExecutor(inventory.Host{User: "root"}).OnExit("command -v update-rc.d", 1)
	cfg := &config.Config{App: "NGAS"}
	require.NoError(t, InstallSysVInitScript(testutil.RC(t), ex, cfg, platform.FlavorCentOS, params))

	assert.True(t, ex.Ran("cp /home/ngas/ngas_src/fabfile/init/sysv/ngas-server.options /etc/sysconfig/ngas"))
	assert.True(t, ex.Ran("chkconfig --add ngas-server"))
	assert.False(t, ex.Ran("update-rc.d ngas-server"))
	assert.False(t, ex.Ran("sudo"), "root connections need no sudo")
}

func TestInstallSysVInitScriptServerTypes(t *testing.T) {
	t.Parallel()

	tests := []testutil.TableTest[struct {
		serverType string
		want       string
		notWant    string
	}]{
		{Name: "cache", Input: struct {
			serverType string
			want       string
			notWant    string
		}{config.ServerTypeCache, "CACHE=YES", "DATA_MOVER=YES"}},
		{Name: "data mover", Input: struct {
			serverType string
			want       string
			notWant    string
		}{config.ServerTypeDataMover, "DATA_MOVER=YES", "CACHE=YES"}},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			t.Parallel()
			ex := testutil.NewFakeExecutor(inventory.Host{})
			cfg := &config.Config{App: "NGAS", ServerType: tt.Input.serverType}
			require.NoError(t, InstallSysVInitScript(testutil.RC(t), ex, cfg, platform.FlavorCentOS, params))
			assert.True(t, ex.Ran(tt.Input.want))
			assert.False(t, ex.Ran(tt.Input.notWant))
		})
	}
}

func TestInstallSysVInitScriptStopsOnFailure(t *testing.T) {
	t.Parallel()

	ex := testutil.NewFakeExecutor(inventory.Host{}).OnExit("cp /home/ngas/ngas_src/fabfile/init/sysv/ngas-server /etc", 1)
	err := InstallSysVInitScript(testutil.RC(t), ex, &config.Config{App: "NGAS"}, platform.FlavorCentOS, params)
	require.Error(t, err)
	assert.Len(t, ex.Lines(), 1)
}

func TestSetOptionEscapes(t *testing.T) {
	t.Parallel()

	cmd := SetOption("/etc/default/app", "CFGFILE", `/srv/a|b&c`)
	assert.Equal(t, `s|^CFGFILE=.*|CFGFILE=/srv/a\|b\&c|`, cmd.Args[2])
}
