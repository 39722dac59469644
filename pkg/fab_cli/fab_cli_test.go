package fab_cli

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/inventory"
	"github.com/ICRAR/fabtemplate/pkg/testutil"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test-cmd"}
	AddGlobalFlags(cmd.Flags())
	AddHostFlags(cmd.Flags())
	cmd.SetContext(context.Background())
	return cmd
}

func TestWrap(t *testing.T) {
	t.Parallel()

	type wrapCase struct {
		fn        HandlerFunc
		wantErr   string
		wantStack bool
	}
	tests := []testutil.TableTest[wrapCase]{
		{Name: "success", Input: wrapCase{
			fn: func(rc *fab_io.RuntimeContext, _ *cobra.Command, _ []string) error {
				assert.NotNil(t, rc.Ctx)
				assert.NotNil(t, rc.Log)
				return nil
			},
		}},
		{Name: "unexpected error gains a stack", Input: wrapCase{
			fn: func(*fab_io.RuntimeContext, *cobra.Command, []string) error {
				return errors.New("command failed")
			},
			wantErr:   "command failed",
			wantStack: true,
		}},
		{Name: "expected error passes through", Input: wrapCase{
			fn: func(*fab_io.RuntimeContext, *cobra.Command, []string) error {
				return fab_err.NewExpectedError(errors.New("bad flag"))
			},
			wantErr: "bad flag",
		}},
		{Name: "panic recovered", Input: wrapCase{
			fn: func(*fab_io.RuntimeContext, *cobra.Command, []string) error {
				panic("test panic")
			},
			wantErr:   "panic: test panic",
			wantStack: true,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			t.Parallel()
			err := Wrap(tt.Input.fn)(newCommand(), []string{"a"})
			if tt.Input.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.Input.wantErr)
			assert.Equal(t, tt.Input.wantStack, cerr.GetReportableStackTrace(err) != nil)
		})
	}
}

func TestWrapSeesCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cmd := newCommand()
	cmd.SetContext(ctx)
	err := Wrap(func(rc *fab_io.RuntimeContext, _ *cobra.Command, _ []string) error {
		return rc.Ctx.Err()
	})(cmd, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHosts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inv := filepath.Join(dir, "hosts.yaml")
	require.NoError(t, inventory.Save(context.Background(), inv, []inventory.Host{
		{Name: "archive", Address: "10.0.0.7"},
		{Name: "cache", Address: "10.0.0.8", User: "ngas"},
	}))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddHostFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--inventory", inv,
		"--hosts", "root@10.0.0.9:2222,10.0.0.10",
		"--ssh-user", "deployer",
		"--ssh-key", "~/.ssh/id_deploy",
	}))

	hosts, err := Hosts(testutil.RC(t), fs)
	require.NoError(t, err)
	require.Len(t, hosts, 4)
	assert.Equal(t, "deployer", hosts[0].User)
	assert.Equal(t, "~/.ssh/id_deploy", hosts[0].KeyPath)
	assert.Equal(t, "ngas", hosts[1].User)
	assert.Equal(t, "root", hosts[2].User)
	assert.Equal(t, 2222, hosts[2].Port)
	assert.Equal(t, "deployer", hosts[3].User)
	assert.Equal(t, "10.0.0.10", hosts[3].Address)
}

func TestHostsMissingInventory(t *testing.T) {
	t.Parallel()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddHostFlags(fs)
	require.NoError(t, fs.Parse([]string{"--inventory", filepath.Join(t.TempDir(), "nope.yaml")}))
	_, err := Hosts(testutil.RC(t), fs)
	require.Error(t, err)
	assert.True(t, fab_err.IsExpectedUserError(err))
}

func TestLoadSessionUnknownApp(t *testing.T) {
	t.Parallel()

	cmd := newCommand()
	require.NoError(t, cmd.Flags().Set(FlagApp, "nosuchapp"))
	_, err := LoadSession(testutil.RC(t), cmd)
	require.Error(t, err)
	assert.True(t, fab_err.IsExpectedUserError(err))
}

func TestPrompter(t *testing.T) {
	t.Parallel()

	cmd := newCommand()
	require.NoError(t, cmd.Flags().Set(FlagYes, "true"))
	assert.True(t, Prompter(cmd).AssumeYes)
}
