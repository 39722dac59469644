// pkg/container/image.go

package container

import (
	"fmt"
	"path"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/config"
	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/docker/docker/api/types/container"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// buildPackages are removed from the image once the installation is done.
// The list assumes the CentOS 7 base image.
var buildPackages = []string{
	"autoconf", "bzip2-devel", "cpp", "groff-base", "krb5-devel", "less", "libcom_err-devel",
	"libgnome-keyring", "libedit", "libgomp", "libkadm5", "libselinux-devel", "m4", "mpfr",
	"pcre-devel", "rsync", "libverto-devel", "libmpc", "gcc", "gdbm-devel", "git",
	"glibc-devel", "glibc-headers", "kernel-headers", "libdb-devel", "make", "openssl-devel",
	"patch", "perl", "postgresql", "postgresql-libs", "python-devel", "readline-devel",
	"sqlite-devel", "sudo", "wget", "zlib-devel", "libffi-devel",
}

// Cleanup trims an installation target before it is committed: build-only
// packages, the package cache, and the user's sources and root directory
// unless they are to be kept.
func Cleanup(rc *fab_io.RuntimeContext, ex execute.Executor, cfg *config.Config, layout config.Layout) error {
	ctx, span := telemetry.Start(rc.Ctx, "container.Cleanup")
	defer span.End()
	log := otelzap.Ctx(ctx)

	// INTERVENE
	for _, pkg := range buildPackages {
		if _, err := ex.Run(ctx, execute.Command("yum", "--assumeyes", "--quiet", "remove", pkg).AsRoot().AllowFailure()); err != nil {
			return err
		}
	}
	if _, err := ex.Run(ctx, execute.Command("yum", "clean", "all").AsRoot()); err != nil {
		return cerr.Wrap(err, "failed to clean the package cache")
	}

	remove := []string{path.Join(layout.Home, ".cache")}
	if !cfg.KeepSources {
		remove = append(remove, layout.SourceDir)
	}
	if !cfg.KeepRoot {
		remove = append(remove, layout.RootDir)
	}
	log.Info("Removing directories", zap.Strings("paths", remove))
	if _, err := ex.Run(ctx, execute.Command("rm", append([]string{"-rf"}, remove...)...).AsRoot()); err != nil {
		return cerr.Wrap(err, "failed to remove directories")
	}

	// EVALUATE
	logger.Success(ctx, "Container cleaned up")
	return nil
}

// Repository is the image name a committed installation gets.
func Repository(app string) string {
	return shared.DefaultDockerRepo + "/" + strings.ToLower(app)
}

// ServerCommand runs line as user in a login shell.
func ServerCommand(user, line string) []string {
	if line == "" {
		return nil
	}
	return []string{"/usr/bin/su", "-", user, "-c", line}
}

// finalCommands drop what was only needed to reach the container.
var finalCommands = []string{
	"yum --assumeyes --quiet remove fipscheck fipscheck-lib openssh-server openssh-clients",
	"rm -rf /var/log",
	"rm -rf /var/lib/yum",
}

// CommitImage strips sshd out of the container, commits it as
// <repo>:latest with cmd as the default command, and removes the container.
func CommitImage(rc *fab_io.RuntimeContext, eng Engine, id, repo string, cmd []string) (err error) {
	ctx, span := telemetry.Start(rc.Ctx, "container.CommitImage")
	defer span.End()
	log := otelzap.Ctx(ctx)

	for _, line := range finalCommands {
		if _, execErr := Exec(ctx, eng, id, line); execErr != nil {
			log.Warn("Final cleanup command failed", zap.String("command", line), zap.Error(execErr))
		}
	}

	defer func() {
		if rmErr := eng.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); rmErr != nil {
			err = multierror.Append(err, cerr.Wrap(rmErr, "failed to remove container"))
		}
	}()

	if err := eng.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return cerr.Wrap(err, "failed to stop container")
	}
	ref := repo + ":latest"
	_, err = eng.ContainerCommit(ctx, id, container.CommitOptions{
		Reference: ref,
		Config: &container.Config{
			Cmd:    cmd,
			Labels: map[string]string{"org.icrar.fabtemplate.run-id": rc.RunID},
		},
	})
	if err != nil {
		logger.Failure(ctx, "Failed to build final image", zap.Error(err))
		return cerr.Wrapf(err, "failed to commit %s", ref)
	}

	logger.Success(ctx, fmt.Sprintf("Created Docker image %s", ref))
	return nil
}
