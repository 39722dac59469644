// pkg/container/engine.go

// Package container turns a local Docker container into an installation
// target reachable over SSH, and commits the result as an image.
package container

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Engine is the part of the Docker API the provisioner uses.
// *client.Client satisfies it.
type Engine interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecStart(ctx context.Context, execID string, config container.ExecStartOptions) error
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerCommit(ctx context.Context, containerID string, options container.CommitOptions) (container.CommitResponse, error)
	Close() error
}

var _ Engine = (*client.Client)(nil)

// New connects to the Docker daemon described by the environment.
func New(ctx context.Context) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, cerr.Wrap(err, "creating docker client")
	}
	return cli, nil
}

type pullEvent struct {
	Status string `json:"status"`
	ID     string `json:"id"`
	Error  string `json:"error"`
}

// Pull downloads ref and waits for the pull to finish.
func Pull(rc *fab_io.RuntimeContext, eng Engine, ref string) error {
	log := otelzap.Ctx(rc.Ctx)

	reader, err := eng.ImagePull(rc.Ctx, ref, image.PullOptions{})
	if err != nil {
		return cerr.Wrapf(err, "failed to pull %s", ref)
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		var ev pullEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			log.Debug("Unparsable pull progress", zap.Error(err))
			continue
		}
		if ev.Error != "" {
			return cerr.Newf("failed to pull %s: %s", ref, ev.Error)
		}
		log.Debug("Pull progress", zap.String("layer", ev.ID), zap.String("status", ev.Status))
	}
	if err := scanner.Err(); err != nil {
		return cerr.Wrapf(err, "reading pull progress for %s", ref)
	}
	return nil
}

// Exec runs line through sh inside the container and waits for it.
func Exec(ctx context.Context, eng Engine, id, line string) (execute.Result, error) {
	created, err := eng.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          []string{"sh", "-c", line},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return execute.Result{ExitCode: -1}, cerr.Wrap(err, "creating exec instance")
	}

	attach, err := eng.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return execute.Result{ExitCode: -1}, cerr.Wrap(err, "attaching to exec")
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return execute.Result{ExitCode: -1}, cerr.Wrap(err, "reading exec output")
	}

	inspect, err := eng.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return execute.Result{ExitCode: -1}, cerr.Wrap(err, "inspecting exec result")
	}
	res := execute.Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: inspect.ExitCode}
	if !res.OK() {
		return res, execute.NewCommandFailure(shortID(id), line, res)
	}
	return res, nil
}

// ExecDetached starts line in the background and returns immediately.
func ExecDetached(ctx context.Context, eng Engine, id, line string) error {
	created, err := eng.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:    []string{"sh", "-c", line},
		Detach: true,
	})
	if err != nil {
		return cerr.Wrap(err, "creating exec instance")
	}
	if err := eng.ContainerExecStart(ctx, created.ID, container.ExecStartOptions{Detach: true}); err != nil {
		return cerr.Wrapf(err, "starting %q", line)
	}
	return nil
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
