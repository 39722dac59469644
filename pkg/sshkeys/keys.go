// pkg/sshkeys/keys.go

package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

const (
	PrivateKeyPerm os.FileMode = 0o600
	PublicKeyPerm  os.FileMode = 0o644
	KeyDirPerm     os.FileMode = 0o700
)

// KeyPair points at a private key on disk and carries its public half.
type KeyPair struct {
	PrivatePath string
	PublicPath  string
	// PublicKey is the authorized_keys line, without trailing newline.
	PublicKey string
	Generated bool
}

// Ensure loads the key at path, or generates an Ed25519 pair there if absent.
func Ensure(rc *fab_io.RuntimeContext, path, comment string) (*KeyPair, error) {
	logger := otelzap.Ctx(rc.Ctx)

	if _, err := os.Stat(path); err == nil {
		pub, err := PublicKey(path)
		if err != nil {
			return nil, err
		}
		logger.Debug("Using existing SSH key", zap.String("path", path))
		return &KeyPair{PrivatePath: path, PublicPath: path + ".pub", PublicKey: pub}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), KeyDirPerm); err != nil {
		return nil, cerr.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, cerr.Wrap(err, "failed to generate ed25519 key")
	}
	block, err := ssh.MarshalPrivateKey(privKey, comment)
	if err != nil {
		return nil, cerr.Wrap(err, "failed to marshal private key")
	}
	if err := WritePrivateKey(path, pem.EncodeToMemory(block)); err != nil {
		return nil, err
	}

	sshPub, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, cerr.Wrap(err, "failed to build public key")
	}
	line := authorizedLine(sshPub, comment)
	if err := os.WriteFile(path+".pub", []byte(line+"\n"), PublicKeyPerm); err != nil {
		return nil, cerr.Wrapf(err, "failed to write %s.pub", path)
	}

	logger.Info("Generated SSH key pair", zap.String("private_key", path))
	return &KeyPair{PrivatePath: path, PublicPath: path + ".pub", PublicKey: line, Generated: true}, nil
}

// PublicKey returns the authorized_keys line for the private key at path,
// preferring the .pub file next to it.
func PublicKey(path string) (string, error) {
	if data, err := os.ReadFile(path + ".pub"); err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", cerr.Wrapf(err, "failed to read %s", path)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return "", cerr.Wrapf(err, "failed to parse %s", path)
	}
	return authorizedLine(signer.PublicKey(), ""), nil
}

// WritePrivateKey stores key material readable only by the owner.
func WritePrivateKey(path string, material []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), KeyDirPerm); err != nil {
		return cerr.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, material, PrivateKeyPerm); err != nil {
		return cerr.Wrapf(err, "failed to write %s", path)
	}
	return os.Chmod(path, PrivateKeyPerm)
}

func authorizedLine(key ssh.PublicKey, comment string) string {
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
	if comment != "" {
		line += " " + comment
	}
	return line
}
