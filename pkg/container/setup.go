// pkg/container/setup.go

package container

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/inventory"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/sshkeys"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/moby/go-archive"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const sshPort nat.Port = "22/tcp"

// SetupOptions describe the installation target container.
type SetupOptions struct {
	App      string
	Image    string
	HostPort int
	// KeyPath is the private key used to reach the container; it is
	// generated when missing.
	KeyPath string
}

// Name is the container name for app.
func Name(app string) string {
	return app + "_installation_target"
}

func (o SetupOptions) withDefaults() SetupOptions {
	if o.App == "" {
		o.App = shared.DefaultApp
	}
	if o.Image == "" {
		o.Image = shared.DefaultDockerImage
	}
	if o.HostPort == 0 {
		o.HostPort = shared.DockerSSHHostPort
	}
	if o.KeyPath == "" {
		home, _ := os.UserHomeDir()
		o.KeyPath = filepath.Join(home, ".ssh", shared.BinaryName+"_docker")
	}
	return o
}

// prepareCommands run inside a fresh container, in order.
var prepareCommands = []string{
	"yum --assumeyes --quiet install openssh-server openssh-clients initscripts sudo",
	"yum clean all",
}

var sshdCommands = []string{
	`sed -i "s/#PermitRootLogin yes/PermitRootLogin yes/" /etc/ssh/sshd_config`,
	`sed -i "s/#UseDNS yes/UseDNS no/" /etc/ssh/sshd_config`,
	"ssh-keygen -A",
	"chown root:root /root/.ssh/authorized_keys",
	"chmod 600 /root/.ssh/authorized_keys",
	"chmod 700 /root/.ssh",
	"rm -f /run/nologin",
}

// Setup creates and starts the installation target container, installs
// sshd in it and authorises the deployment key for root. A container that
// fails to come up is stopped and removed.
func Setup(rc *fab_io.RuntimeContext, eng Engine, opts SetupOptions) (host inventory.Host, id string, err error) {
	opts = opts.withDefaults()
	name := Name(opts.App)
	ctx, span := telemetry.Start(rc.Ctx, "container.Setup", attribute.String("container", name))
	defer span.End()
	log := otelzap.Ctx(ctx)
	rc = rc.WithContext(ctx)

	// ASSESS
	key, err := sshkeys.Ensure(rc, opts.KeyPath, shared.BinaryName+"-docker")
	if err != nil {
		return host, "", err
	}

	// INTERVENE
	log.Info("Creating docker container", zap.String("image", opts.Image), zap.String("name", name))
	if err := Pull(rc, eng, opts.Image); err != nil {
		return host, "", err
	}
	created, err := eng.ContainerCreate(ctx,
		&container.Config{
			Image:        opts.Image,
			Tty:          true,
			ExposedPorts: nat.PortSet{sshPort: struct{}{}},
			Labels:       map[string]string{"org.icrar.fabtemplate.run-id": rc.RunID},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{sshPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(opts.HostPort)}}},
		},
		nil, nil, name)
	if err != nil {
		return host, "", cerr.Wrapf(err, "failed to create container %s", name)
	}
	id = created.ID

	defer func() {
		if err == nil {
			return
		}
		logger.Failure(ctx, "Error while preparing the container, cleaning up", zap.String("container", name))
		if rmErr := remove(rc, eng, id); rmErr != nil {
			log.Warn("Failed to remove container", zap.String("container", name), zap.Error(rmErr))
		}
	}()

	if err = eng.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return host, "", cerr.Wrapf(err, "failed to start container %s", name)
	}
	for _, line := range prepareCommands {
		log.Info("Preparing container", zap.String("command", line))
		if _, err = Exec(ctx, eng, id, line); err != nil {
			return host, "", err
		}
	}
	if err = authorizeKey(rc, eng, id, key.PublicKey); err != nil {
		return host, "", err
	}
	for _, line := range sshdCommands {
		if _, err = Exec(ctx, eng, id, line); err != nil {
			return host, "", err
		}
	}
	if err = ExecDetached(ctx, eng, id, "/usr/sbin/sshd -D"); err != nil {
		return host, "", err
	}

	// EVALUATE
	host = inventory.Host{
		Name:    name,
		Address: "localhost",
		Port:    opts.HostPort,
		User:    "root",
		KeyPath: key.PrivatePath,
	}
	logger.Success(ctx, "Container ready", zap.String("container", name), zap.String("host", host.String()))
	return host, id, nil
}

// authorizeKey copies an authorized_keys file holding pub into /root/.ssh.
func authorizeKey(rc *fab_io.RuntimeContext, eng Engine, id, pub string) error {
	dir, err := os.MkdirTemp("", "fabtemplate-keys-")
	if err != nil {
		return cerr.Wrap(err, "failed to create temporary directory")
	}
	defer os.RemoveAll(dir)

	sshDir := filepath.Join(dir, ".ssh")
	if err := os.Mkdir(sshDir, sshkeys.KeyDirPerm); err != nil {
		return cerr.Wrap(err, "failed to stage authorized_keys")
	}
	if err := os.WriteFile(filepath.Join(sshDir, "authorized_keys"), []byte(pub+"\n"), sshkeys.PrivateKeyPerm); err != nil {
		return cerr.Wrap(err, "failed to stage authorized_keys")
	}

	tarball, err := archive.TarWithOptions(dir, &archive.TarOptions{IncludeFiles: []string{".ssh"}})
	if err != nil {
		return cerr.Wrap(err, "failed to archive authorized_keys")
	}
	defer tarball.Close()

	if err := eng.CopyToContainer(rc.Ctx, id, "/root/", tarball, container.CopyToContainerOptions{}); err != nil {
		return cerr.Wrap(err, "failed to copy authorized_keys into the container")
	}
	return nil
}

func remove(rc *fab_io.RuntimeContext, eng Engine, id string) error {
	if err := eng.ContainerStop(rc.Ctx, id, container.StopOptions{}); err != nil {
		otelzap.Ctx(rc.Ctx).Debug("Stop failed", zap.String("container", id), zap.Error(err))
	}
	return eng.ContainerRemove(rc.Ctx, id, container.RemoveOptions{Force: true})
}

// Delete stops and removes the named container.
func Delete(rc *fab_io.RuntimeContext, eng Engine, name string) error {
	ctx, span := telemetry.Start(rc.Ctx, "container.Delete", attribute.String("container", name))
	defer span.End()

	if err := remove(rc.WithContext(ctx), eng, name); err != nil {
		return cerr.Wrapf(err, "failed to remove container %s", name)
	}
	logger.Success(ctx, "Container removed", zap.String("container", name))
	return nil
}
