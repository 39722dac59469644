package config

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/testutil"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, opts LoadOptions) *Config {
	t.Helper()
	if opts.RepoRoot == "" {
		opts.RepoRoot = t.TempDir()
	}
	cfg, _, err := Load(context.Background(), opts)
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg := load(t, LoadOptions{App: "ngasdefaults"})
	assert.Equal(t, "NGASDEFAULTS", cfg.App)
	assert.Equal(t, "ngasdefaults", cfg.User)
	assert.Equal(t, "ngasdefaults_src", cfg.SourceDir)
	assert.Equal(t, "ngasdefaults_rt", cfg.InstallDir)
	assert.Equal(t, "NGASDEFAULTS", cfg.RootDir)
	assert.Equal(t, "local", cfg.Revision)
	assert.Equal(t, ServerTypeNormal, cfg.ServerType)
	assert.Equal(t, 4, cfg.MaxParallel)
	assert.False(t, cfg.OverwriteInstallation)
	assert.False(t, cfg.NoBashProfile)
	assert.Empty(t, cfg.ExtraPythonPackages)
}

func TestLoadRevisionFunc(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var seen string
	cfg := load(t, LoadOptions{
		App:      "revapp",
		RepoRoot: root,
		Revision: func(dir string) (string, error) {
			seen = dir
			return "main", nil
		},
	})
	assert.Equal(t, root, seen)
	assert.Equal(t, "main", cfg.Revision)

	_, _, err := Load(context.Background(), LoadOptions{
		App:      "revapp",
		RepoRoot: root,
		Revision: func(string) (string, error) { return "", errors.New("corrupt repository") },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt repository")
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("ENVAPP_INSTALL_DIR", "/opt/envapp_rt")
	t.Setenv("ENVAPP_OVERWRITE_ROOT", "")
	t.Setenv("ENVAPP_NO_CLIENT", "false")
	t.Setenv("ENVAPP_DEVELOP", "yes")
	t.Setenv("ENVAPP_EXTRA_PYTHON_PACKAGES", "astropy, numpy,,")
	t.Setenv("ENVAPP_SERVER_TYPE", "data-mover")
	t.Setenv("ENVAPP_REV", "v11")

	cfg := load(t, LoadOptions{App: "envapp"})
	assert.Equal(t, "/opt/envapp_rt", cfg.InstallDir)
	assert.True(t, cfg.OverwriteRoot, "a present key with an empty value counts as set")
	assert.False(t, cfg.NoClient)
	assert.True(t, cfg.Develop)
	assert.Equal(t, []string{"astropy", "numpy"}, cfg.ExtraPythonPackages)
	assert.Equal(t, ServerTypeDataMover, cfg.ServerType)
	assert.Equal(t, "v11", cfg.Revision)
}

func TestLoadFlagsBeatEnvironment(t *testing.T) {
	t.Setenv("FLAGAPP_USER", "bob")
	t.Setenv("FLAGAPP_KEEP_ROOT", "1")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--user=alice", "--keep-root=false", "--max-parallel=2", "--parallel"}))

	cfg := load(t, LoadOptions{App: "flagapp", Flags: fs})
	assert.Equal(t, "alice", cfg.User)
	assert.False(t, cfg.KeepRoot)
	assert.True(t, cfg.Parallel)
	assert.Equal(t, 2, cfg.MaxParallel)
}

func TestLoadEnvFileIsLowestExplicitSource(t *testing.T) {
	t.Setenv("DOTAPP_USER", "fromenv")

	dir := t.TempDir()
	envFile := testutil.CreateTestFile(t, dir, ".env",
		"DOTAPP_USER=fromfile\nDOTAPP_ROOT_DIR=/data/dotapp\nDOTAPP_NO_BASH_PROFILE=1\nOTHER_USER=ignored\n", 0o644)

	cfg := load(t, LoadOptions{App: "dotapp", EnvFile: envFile})
	assert.Equal(t, "fromenv", cfg.User)
	assert.Equal(t, "/data/dotapp", cfg.RootDir)
	assert.True(t, cfg.NoBashProfile)
}

func TestLoadMissingExplicitEnvFile(t *testing.T) {
	t.Parallel()

	_, _, err := Load(context.Background(), LoadOptions{
		App:      "missingenv",
		RepoRoot: t.TempDir(),
		EnvFile:  filepath.Join(t.TempDir(), "nope.env"),
	})
	require.Error(t, err)
}

func TestLoadConfigFileAndProfileDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := testutil.CreateTestFile(t, dir, "deploy.yaml",
		"develop: true\nextra-python-packages:\n  - pyyaml\n  - requests\nsrc-dir: /srv/src\n", 0o644)

	cfg := load(t, LoadOptions{
		App:        "fileapp",
		ConfigFile: file,
		Defaults: map[string]any{
			KeyServerType: ServerTypeCache,
			KeySourceDir:  "profile_src",
		},
	})
	assert.True(t, cfg.Develop)
	assert.Equal(t, []string{"pyyaml", "requests"}, cfg.ExtraPythonPackages)
	assert.Equal(t, "/srv/src", cfg.SourceDir, "config file wins over profile defaults")
	assert.Equal(t, ServerTypeCache, cfg.ServerType)
}

func TestLoadBadConfigFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := testutil.CreateTestFile(t, dir, "broken.yaml", "develop: [unterminated\n", 0o644)
	_, _, err := Load(context.Background(), LoadOptions{App: "brokenapp", RepoRoot: dir, ConfigFile: file})
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	_, _, err := Load(context.Background(), LoadOptions{
		App:      "badtype",
		RepoRoot: t.TempDir(),
		Defaults: map[string]any{KeyServerType: "archive"},
	})
	require.Error(t, err)
	assert.True(t, fab_err.IsExpectedUserError(err))
	assert.Contains(t, err.Error(), "BADTYPE_SERVER_TYPE")
	assert.Equal(t, 2, fab_err.GetExitCode(err))
}

func TestLayout(t *testing.T) {
	t.Parallel()

	tests := []testutil.TableTest[struct {
		dir  string
		want string
	}]{
		{Name: "relative", Input: struct {
			dir  string
			want string
		}{"ngas_src", "/home/ngas/ngas_src"}},
		{Name: "absolute", Input: struct {
			dir  string
			want string
		}{"/opt/ngas//src/", "/opt/ngas/src"}},
		{Name: "tilde", Input: struct {
			dir  string
			want string
		}{"~/work/src", "/home/ngas/work/src"}},
		{Name: "home itself", Input: struct {
			dir  string
			want string
		}{"~", "/home/ngas"}},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{SourceDir: tt.Input.dir, InstallDir: "ngas_rt", RootDir: "/NGAS"}
			l := cfg.Layout("/home/ngas")
			assert.Equal(t, tt.Input.want, l.SourceDir)
			assert.Equal(t, "/home/ngas/ngas_rt", l.InstallDir)
			assert.Equal(t, "/NGAS", l.RootDir)
			assert.Equal(t, "/home/ngas", l.Home)
		})
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	cfg := &Config{App: "NGAS"}
	assert.Equal(t, "NGAS_OVERWRITE_ROOT", cfg.Key("OVERWRITE_ROOT"))
	assert.Equal(t, "ngas", cfg.Lower())
}
