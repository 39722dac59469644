// pkg/appspec/builtin.go

package appspec

import (
	"github.com/ICRAR/fabtemplate/pkg/build"
	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/pkgmgr"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/venv"
	"github.com/ICRAR/fabtemplate/pkg/verify"
)

// Alpha-sorted per package manager.
var archiveServerPackages = pkgmgr.Manifest{
	YUM: []string{
		"autoconf", "bzip2-devel", "cfitsio-devel", "db4-devel", "gcc", "gdbm-devel", "git",
		"libdb-devel", "libtool", "make", "openssl-devel", "patch", "postfix", "postgresql-devel",
		"python27-devel", "python-devel", "readline-devel", "sqlite-devel", "tar", "wget", "zlib-devel",
	},
	APT: []string{
		"autoconf", "libcfitsio-dev", "libdb5.3-dev", "libdb-dev", "libgdbm-dev", "libreadline-dev",
		"libsqlite3-dev", "libssl-dev", "libtool", "libzlcore-dev", "make", "patch",
		"postgresql-client", "python-dev", "python-setuptools", "tar", "sqlite3", "wget",
		"zlib1g-dbg", "zlib1g-dev",
	},
	SLES: []string{
		"autoconf", "automake", "gcc", "gdbm-devel", "git", "libdb-4_5", "libdb-4_5-devel",
		"libtool", "make", "openssl", "patch", "python-devel", "python-html5lib",
		"python-pyOpenSSL", "python-xml", "postfix", "postgresql-devel", "sqlite3-devel", "wget",
		"zlib", "zlib-devel",
	},
	Brew: []string{"autoconf", "automake", "berkeley-db", "libtool", "wget"},
	Port: []string{"autoconf", "automake", "db60", "libtool", "wget"},
}

// App is the generic template every other profile started from.
var App = Profile{
	Name:          shared.DefaultApp,
	Packages:      archiveServerPackages,
	PrepareScript: "./prepare_APP_root.sh",
	BuildCommand:  build.AppCommand,
	StartAndCheck: func(rc *fab_io.RuntimeContext, p Profile, env Env) (verify.Outcome, error) {
		probe := verify.ProcessProbe{Exec: env.Exec, Pattern: p.processPattern(env)}
		return verify.StartAndCheckWith(rc, env.Exec, nil, env.probeOptions(), probe)
	},
}

// NGAS is the archive server.
var NGAS = Profile{
	Name:          "NGAS",
	Packages:      archiveServerPackages,
	PrepareScript: "./prepare_APP_root.sh",
	ConfigFile:    "cfg/ngamsServer.conf",
	ServiceUser:   "ngas",
	HealthPort:    shared.DefaultArchivePort,
	BuildCommand:  build.AppCommand,
	StartAndCheck: func(rc *fab_io.RuntimeContext, p Profile, env Env) (verify.Outcome, error) {
		start := execute.Command("ngamsDaemon", "start")
		if env.ConfigFile != "" {
			start = execute.Command("ngamsDaemon", "start", "-cfg", env.ConfigFile)
		}
		probe := verify.HTTPProbe{
			URL:    healthURL(env, p.HealthPort, "/STATUS"),
			Expect: `Status="SUCCESS"`,
		}
		return verify.StartAndCheckWith(rc, env.Exec,
			[]*execute.Cmd{venv.Wrap(env.Layout.InstallDir, start)},
			env.probeOptions(), probe)
	},
}

// EAGLE is the workflow editor, served by uwsgi behind nginx.
var EAGLE = Profile{
	Name: "EAGLE",
	Packages: pkgmgr.Manifest{
		YUM:  []string{"python27-devel", "python-devel", "readline-devel", "openssl-devel", "gcc", "nginx"},
		APT:  []string{"python-dev", "python-setuptools", "tar", "wget", "gcc", "nginx"},
		SLES: []string{"python-devel", "wget", "zlib", "zlib-devel", "gcc"},
		Brew: []string{"wget"},
		Port: []string{"wget"},
	},
	ExtraPython:   []string{"pycrypto", "sphinx", "uwsgi"},
	ServiceUser:   "eagle",
	HealthPort:    80,
	BuildCommand:  build.PipInstallCommand,
	InstallInit:   installEagleInit,
	StartAndCheck: checkEagle,
}

func init() {
	register(App)
	register(NGAS)
	register(EAGLE)
}
