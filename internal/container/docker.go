package container

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"go.uber.org/zap"
)

// DockerRuntime runs tasks as Docker containers via the Docker Engine
// API, the same client the teacher's provider process uses to create,
// start, wait on, and tear down containers.
type DockerRuntime struct {
	cli    *client.Client
	logger *zap.Logger
}

// NewDockerRuntime connects to the Docker daemon at host (e.g.
// "unix:///var/run/docker.sock") and negotiates the API version.
func NewDockerRuntime(host string, logger *zap.Logger) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{cli: cli, logger: logger}, nil
}

// Run creates and starts the container described by spec, waits for it
// to exit with spec.Deadline as a wall-clock timeout, and unconditionally
// tears the container down before returning — on every exit path,
// including the timeout and error paths, per §4.5.1 step 5/7.
func (r *DockerRuntime) Run(ctx context.Context, spec Spec) (Result, error) {
	containerConfig := &container.Config{
		Image: spec.Image,
		Cmd:   spec.Cmd,
	}
	hostConfig := &container.HostConfig{
		Binds: []string{fmt.Sprintf("%s:%s", spec.MountHostPath, spec.MountPoint)},
		Resources: container.Resources{
			Memory:    spec.MemoryMiB * 1024 * 1024,
			CPUQuota:  spec.CPUQuotaUs,
			CPUPeriod: spec.CPUPeriodUs,
		},
	}

	resp, err := r.cli.ContainerCreate(ctx, containerConfig, hostConfig, &network.NetworkingConfig{}, nil, spec.Name)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := resp.ID
	defer r.cleanup(containerID)

	if err := r.cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return Result{}, fmt.Errorf("failed to start container: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, spec.Deadline)
	defer cancel()

	statusCh, errCh := r.cli.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if waitCtx.Err() != nil {
			return Result{}, fmt.Errorf("container exceeded its deadline of %s", spec.Deadline)
		}
		return Result{}, fmt.Errorf("container wait error: %w", err)
	case status := <-statusCh:
		return Result{ExitCode: int(status.StatusCode)}, nil
	case <-waitCtx.Done():
		return Result{}, fmt.Errorf("container exceeded its deadline of %s", spec.Deadline)
	}
}

// cleanup stops and force-removes a container. It is best-effort: a
// cleanup failure is logged but never overwrites the primary result,
// per §7's cleanup policy.
func (r *DockerRuntime) cleanup(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	timeout := 5
	if err := r.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		r.logger.Warn("failed to stop task container during cleanup", zap.String("container_id", containerID), zap.Error(err))
	}
	if err := r.cli.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{Force: true}); err != nil {
		r.logger.Warn("failed to remove task container during cleanup", zap.String("container_id", containerID), zap.Error(err))
	}
}

// PullImage pulls image, discarding pull progress output, mirroring the
// teacher's pullDockerImage helper.
func (r *DockerRuntime) PullImage(ctx context.Context, image string) error {
	reader, err := r.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the underlying Docker client connection.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}
