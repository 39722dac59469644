package sshkeys

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestEnsureGeneratesThenReuses(t *testing.T) {
	t.Parallel()

	rc := fab_io.NewContext(context.Background(), "test")
	path := filepath.Join(t.TempDir(), ".ssh", "fabtemplate_ed25519")

	kp, err := Ensure(rc, path, "fabtemplate")
	require.NoError(t, err)
	assert.True(t, kp.Generated)
	assert.True(t, strings.HasPrefix(kp.PublicKey, "ssh-ed25519 "))
	assert.True(t, strings.HasSuffix(kp.PublicKey, " fabtemplate"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, PrivateKeyPerm, info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = ssh.ParsePrivateKey(data)
	require.NoError(t, err)

	again, err := Ensure(rc, path, "fabtemplate")
	require.NoError(t, err)
	assert.False(t, again.Generated)
	assert.Equal(t, kp.PublicKey, again.PublicKey)
}

func TestPublicKeyDerivedWithoutPubFile(t *testing.T) {
	t.Parallel()

	rc := fab_io.NewContext(context.Background(), "test")
	path := filepath.Join(t.TempDir(), "key")
	kp, err := Ensure(rc, path, "")
	require.NoError(t, err)
	require.NoError(t, os.Remove(kp.PublicPath))

	pub, err := PublicKey(path)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, pub)
}

func TestWritePrivateKeyMode(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "icrar_ngas.pem")
	require.NoError(t, WritePrivateKey(path, []byte("material")))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, PrivateKeyPerm, info.Mode().Perm())
}
