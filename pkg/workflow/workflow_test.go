package workflow

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ICRAR/fabtemplate/pkg/appspec"
	"github.com/ICRAR/fabtemplate/pkg/config"
	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/inventory"
	"github.com/ICRAR/fabtemplate/pkg/platform"
	"github.com/ICRAR/fabtemplate/pkg/testutil"
	"github.com/ICRAR/fabtemplate/pkg/verify"
	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	repo := t.TempDir()
	testutil.CreateTestFile(t, repo, "build.sh", "#!/bin/sh\n", 0o755)
	return &config.Config{
		App:         "APP",
		User:        "app",
		SourceDir:   "APP_src",
		InstallDir:  "APP_rt",
		RootDir:     "APP",
		RepoRoot:    repo,
		Revision:    "HEAD",
		PythonPath:  "python3",
		MaxParallel: 2,
	}
}

// freshHost answers "no" to every existence test so nothing needs overwriting.
func freshHost(user string) *testutil.FakeExecutor {
	return testutil.NewFakeExecutor(inventory.Host{Name: "target", Address: "10.0.0.5", User: user}).
		OnExit("test -d", 1).
		OnExit("test -x", 1).
		OnExit("test -e", 1)
}

func newTarget(t *testing.T, ex execute.Executor, cfg *config.Config) *Target {
	t.Helper()
	target, err := NewTarget(context.Background(), ex, cfg, appspec.App)
	require.NoError(t, err)
	target.Flavor = platform.FlavorUbuntu
	target.Verify = verify.Options{Attempts: 1}
	return target
}

func stepNames(r *Report) []string {
	var names []string
	for _, s := range r.Steps() {
		names = append(names, s.Step)
	}
	return names
}

func TestNewTargetResolvesLayout(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	target := newTarget(t, freshHost("app"), cfg)
	assert.Equal(t, config.Layout{
		Home:       "/home/app",
		SourceDir:  "/home/app/APP_src",
		InstallDir: "/home/app/APP_rt",
		RootDir:    "/home/app/APP",
	}, target.Layout)
	assert.Equal(t, "target", target.Report.Host)
	assert.Empty(t, target.ConfigPath())
}

func TestInstallAndCheckRunsStepsInOrder(t *testing.T) {
	t.Parallel()

	ex := freshHost("app")
	target := newTarget(t, ex, testConfig(t))

	cfgFile, err := InstallAndCheck(testutil.RC(t), target)
	require.NoError(t, err)
	assert.Empty(t, cfgFile)

	assert.Equal(t, []string{StepCopy, StepEnvironment, StepBuild, StepDataDir, StepProfile, StepVerify}, stepNames(target.Report))
	assert.True(t, target.Report.OK())

	order := []string{
		"tar xpf /tmp/APP_tmp.tar -C /home/app/APP_src",
		"./create_venv.sh -p python3 /home/app/APP_rt",
		"./build.sh",
		"./prepare_APP_root.sh /home/app/APP",
		".bash_profile",
		"pgrep -f /home/app/APP_rt/bin/",
	}
	last := -1
	for _, want := range order {
		idx := ex.IndexOf(want)
		require.Greater(t, idx, last, "%q out of order in %v", want, ex.Lines())
		last = idx
	}
}

func TestInstallAndCheckStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	ex := freshHost("app").OnExit("build.sh", 1)
	target := newTarget(t, ex, testConfig(t))

	_, err := InstallAndCheck(testutil.RC(t), target)
	require.Error(t, err)

	var cmdErr *execute.CommandError
	assert.True(t, cerr.As(err, &cmdErr))
	assert.Equal(t, []string{StepCopy, StepEnvironment, StepBuild}, stepNames(target.Report))
	assert.False(t, target.Report.Steps()[2].OK)
	assert.False(t, ex.Ran("prepare_APP_root.sh"))
	assert.False(t, ex.Ran("pgrep"))
}

func TestInstallAndCheckRecordsFailedVerification(t *testing.T) {
	t.Parallel()

	ex := freshHost("app").OnExit("pgrep", 1)
	target := newTarget(t, ex, testConfig(t))

	_, err := InstallAndCheck(testutil.RC(t), target)
	require.NoError(t, err)
	assert.False(t, target.Report.OK())

	steps := target.Report.Steps()
	verifyStep := steps[len(steps)-1]
	assert.Equal(t, StepVerify, verifyStep.Step)
	assert.False(t, verifyStep.OK)
	assert.Contains(t, verifyStep.Detail, `no process matches "app"`)
}

func TestPrepareInstallAndCheck(t *testing.T) {
	t.Parallel()

	ex := freshHost("deployer").
		OnOutput("uname -s", "Linux").
		OnOutput("cat /etc/os-release", "ID=ubuntu\nVERSION_ID=\"22.04\"\n").
		OnExit("id -u app", 1)
	target, err := NewTarget(context.Background(), ex, testConfig(t), appspec.App)
	require.NoError(t, err)
	target.Verify = verify.Options{Attempts: 1}

	require.NoError(t, PrepareInstallAndCheck(testutil.RC(t), target))
	assert.Equal(t, platform.FlavorUbuntu, target.Flavor)
	assert.Equal(t, []string{
		StepPlatform, StepPackages, StepUser,
		StepCopy, StepEnvironment, StepBuild, StepDataDir, StepProfile, StepVerify,
		StepInit,
	}, stepNames(target.Report))

	users := map[string]string{}
	for _, c := range ex.Calls() {
		for _, marker := range []string{"apt-get", "useradd", "create_venv.sh", "/etc/init.d/app-server"} {
			if strings.Contains(c.Line, marker) {
				users[marker] = c.User
			}
		}
	}
	assert.Equal(t, map[string]string{
		"apt-get":                "deployer",
		"useradd":                "deployer",
		"create_venv.sh":         "app",
		"/etc/init.d/app-server": "deployer",
	}, users)
	assert.True(t, ex.Ran("/home/app/APP_src/fabfile/init/sysv/app-server"), ex.Lines())
}

func TestPrepareInstallAndCheckStopsWhenUserCannotBeCreated(t *testing.T) {
	t.Parallel()

	ex := freshHost("deployer").OnExit("id -u app", 1).OnExit("useradd", 1)
	target := newTarget(t, ex, testConfig(t))

	err := PrepareInstallAndCheck(testutil.RC(t), target)
	require.Error(t, err)
	assert.Equal(t, []string{StepPlatform, StepPackages, StepUser}, stepNames(target.Report))
	assert.False(t, ex.Ran("create_venv.sh"))
}

func TestUserLayout(t *testing.T) {
	t.Parallel()

	ex := freshHost("deployer").OnOutput("getent passwd app", "/srv/app\n")
	target := newTarget(t, ex, testConfig(t))

	layout, err := target.UserLayout(testutil.RC(t), "app")
	require.NoError(t, err)
	assert.Equal(t, "/srv/app/APP_src", layout.SourceDir)

	same, err := target.UserLayout(testutil.RC(t), "deployer")
	require.NoError(t, err)
	assert.Equal(t, target.Layout, same)
}

func fakeFactory(fail map[string]error) (ExecutorFactory, *atomic.Int32) {
	var dialled atomic.Int32
	return func(_ context.Context, host inventory.Host) (execute.Executor, error) {
		dialled.Add(1)
		if err := fail[host.Address]; err != nil {
			return nil, err
		}
		return freshHost("deployer"), nil
	}, &dialled
}

func TestRunHosts(t *testing.T) {
	t.Parallel()

	hosts := []inventory.Host{
		{Name: "a", Address: "10.0.0.1"},
		{Name: "b", Address: "10.0.0.2"},
		{Name: "c", Address: "10.0.0.3"},
	}

	for _, parallel := range []bool{false, true} {
		name := "sequential"
		if parallel {
			name = "parallel"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t)
			cfg.Parallel = parallel
			factory, dialled := fakeFactory(map[string]error{"10.0.0.2": errors.New("connection refused")})

			var ran atomic.Int32
			reports, err := RunHosts(testutil.RC(t), cfg, hosts, RunOptions{Factory: factory, Profile: appspec.App},
				func(rc *fab_io.RuntimeContext, t *Target) error {
					ran.Add(1)
					return t.run(rc, "noop", func(*fab_io.RuntimeContext) (string, error) { return "done", nil })
				})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "connection refused")
			assert.Contains(t, err.Error(), "b")

			assert.EqualValues(t, 3, dialled.Load())
			assert.EqualValues(t, 2, ran.Load())
			require.Len(t, reports, 3)
			assert.Equal(t, "a", reports[0].Host)
			assert.Equal(t, []string{"connect"}, stepNames(reports[1]))
			assert.False(t, reports[1].OK())
			assert.True(t, reports[2].OK())
		})
	}
}

func TestRunHostsDefaultsToOneLocalRun(t *testing.T) {
	t.Parallel()

	factory, dialled := fakeFactory(nil)
	reports, err := RunHosts(testutil.RC(t), testConfig(t), nil, RunOptions{Factory: factory},
		func(*fab_io.RuntimeContext, *Target) error { return nil })
	require.NoError(t, err)
	assert.Len(t, reports, 1)
	assert.EqualValues(t, 1, dialled.Load())
}

func TestRunHostsRecoversPanics(t *testing.T) {
	t.Parallel()

	factory, _ := fakeFactory(nil)
	_, err := RunHosts(testutil.RC(t), testConfig(t), []inventory.Host{{Name: "a"}}, RunOptions{Factory: factory},
		func(*fab_io.RuntimeContext, *Target) error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.Equal(t, []string{
		"build", "cleanup_container", "copy_sources", "create_user",
		"install_and_check", "install_system_packages", "install_sysv_init_script",
		"install_user_profile", "prepare_data_dir", "prepare_install_and_check",
		"start_and_check", "virtualenv_setup",
	}, r.Names())

	task, err := r.Lookup(" build ")
	require.NoError(t, err)
	assert.Equal(t, "build", task.Name)

	_, err = r.Lookup("deploy_everything")
	require.Error(t, err)
	assert.True(t, fab_err.IsExpectedUserError(err))
	assert.Contains(t, strings.Join(cerr.GetAllHints(err), " "), "prepare_install_and_check")
}

func TestSequenceStopsAtFailingTask(t *testing.T) {
	t.Parallel()

	var ran []string
	task := func(name string, err error) Task {
		return Task{Name: name, Run: func(*fab_io.RuntimeContext, *Target) error {
			ran = append(ran, name)
			return err
		}}
	}
	fn := Sequence(task("one", nil), task("two", errors.New("nope")), task("three", nil))

	err := fn(testutil.RC(t), newTarget(t, freshHost("app"), testConfig(t)))
	require.Error(t, err)
	assert.Equal(t, "task two: nope", err.Error())
	assert.Equal(t, []string{"one", "two"}, ran)
}

func TestRegistryTaskRecordsStep(t *testing.T) {
	t.Parallel()

	ex := freshHost("app")
	target := newTarget(t, ex, testConfig(t))
	task, err := NewRegistry().Lookup("install_user_profile")
	require.NoError(t, err)

	require.NoError(t, task.Run(testutil.RC(t), target))
	assert.Equal(t, []string{StepProfile}, stepNames(target.Report))
	assert.True(t, ex.Ran(".bash_profile"))
}

func TestRenderReports(t *testing.T) {
	t.Parallel()

	assert.Empty(t, RenderReports(nil))

	ok := &Report{Host: "alpha"}
	ok.add(StepResult{Step: StepCopy, OK: true, Detail: "/home/app/APP_src"})
	bad := &Report{Host: "beta"}
	bad.add(StepResult{Step: StepBuild, Detail: "command failed:\n  ./build.sh exited 1"})

	out := RenderReports([]*Report{ok, nil, bad})
	for _, want := range []string{"HOST", "alpha", "beta", StepCopy, StepBuild, "ok", "FAILED", "command failed: ./build.sh exited 1"} {
		assert.Contains(t, out, want)
	}
}

func TestOneLineTruncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 100)
	got := oneLine(long)
	assert.Len(t, got, 80)
	assert.True(t, strings.HasSuffix(got, "..."))
}
