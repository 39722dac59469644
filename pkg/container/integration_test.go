//go:build integration

package container

import (
	"context"
	"testing"
	"time"

	"github.com/ICRAR/fabtemplate/pkg/execute"
	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

// checkTestcontainersAvailable guards against provider detection panicking
// on hosts without a container engine.
func checkTestcontainersAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()
	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		return false
	}
	defer provider.Close()
	return true
}

func TestExecAgainstDocker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if !checkTestcontainersAvailable() {
		t.Skip("skipping: no container engine available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "alpine:3.20",
			Cmd:   []string{"sleep", "300"},
		},
		Started: true,
	})
	require.NoError(t, err)
	defer func() { _ = ctr.Terminate(context.Background()) }()

	cli, err := New(ctx)
	require.NoError(t, err)
	defer cli.Close()

	id := ctr.GetContainerID()

	res, err := Exec(ctx, cli, id, "echo hello && echo oops >&2")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Output())
	assert.Equal(t, "oops\n", res.Stderr)

	_, err = Exec(ctx, cli, id, "exit 3")
	var cmdErr *execute.CommandError
	require.True(t, cerr.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)

	require.NoError(t, ExecDetached(ctx, cli, id, "sleep 1"))
}
