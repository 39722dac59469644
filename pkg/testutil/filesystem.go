package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TableTest is the shape of table-driven cases across the repo.
type TableTest[T any] struct {
	Name  string
	Input T
}

// RC returns a RuntimeContext for tests, cancelled when the test ends.
func RC(t *testing.T) *fab_io.RuntimeContext {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return fab_io.NewContext(ctx, t.Name())
}

// CreateTestFile writes content to dir/name with perm, creating parents.
func CreateTestFile(t *testing.T, dir, name, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

// CreateTestDir creates dir/name with perm.
func CreateTestDir(t *testing.T, dir, name string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(path, perm))
	return path
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.NoError(t, err, "expected %s to exist", path)
}

func AssertFileNotExists(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "expected %s to be absent", path)
}

func AssertFilePermissions(t *testing.T, path string, want os.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, want, info.Mode().Perm(), "permissions of %s", path)
}

func AssertFileContent(t *testing.T, path, want string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, string(data))
}
