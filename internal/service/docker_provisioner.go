package service

import (
	"context"
	"cyberrange_backend/internal/model"
	"cyberrange_backend/pkg/logger"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"
)

const (
	labStopTimeoutSecs = 10

	// Resource limits per lab container.
	labMemoryLimitBytes = 512 * 1024 * 1024 // 512MB
	labCPUQuota         = 50000             // 0.5 CPU
	labPidsLimit        = 256
)

// DockerProvisioner backs lab sessions with Docker containers. Allocate
// creates and starts a container for the lab image; the container id is the
// resource handle. Deallocate is idempotent: a handle that is already gone
// is not an error.
type DockerProvisioner struct {
	cli     *client.Client
	runtime string // "" = default (runc), "runsc" = gVisor
}

func NewDockerProvisioner(runtime string) (*DockerProvisioner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	logger.Log.Info("Docker provisioner initialized", zap.String("runtime", runtime))
	return &DockerProvisioner{cli: cli, runtime: runtime}, nil
}

func (p *DockerProvisioner) Allocate(ctx context.Context, lab *model.Lab, session *model.LabSession) (string, error) {
	name := fmt.Sprintf("lab-%d-%s", lab.ID, session.ID)

	pids := int64(labPidsLimit)
	config := &container.Config{
		Image: lab.Image,
		Tty:   true,
	}
	hostConfig := &container.HostConfig{
		Runtime: p.runtime,
		Resources: container.Resources{
			Memory:    labMemoryLimitBytes,
			CPUQuota:  labCPUQuota,
			PidsLimit: &pids,
		},
	}

	resp, err := p.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create lab container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := p.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil {
			logger.Log.Warn("Failed to remove container after start failure",
				zap.String("container_id", resp.ID), zap.Error(removeErr))
		}
		return "", fmt.Errorf("start lab container %s: %w", resp.ID, err)
	}

	logger.Log.Info("Lab container started",
		zap.String("container_id", resp.ID),
		zap.Uint("lab_id", lab.ID),
		zap.String("session_id", session.ID))
	return resp.ID, nil
}

// Reset restarts the container, discarding its runtime state while keeping
// the same handle. A failure leaves the old container as it was.
func (p *DockerProvisioner) Reset(ctx context.Context, handle string) error {
	timeout := labStopTimeoutSecs
	if err := p.cli.ContainerRestart(ctx, handle, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("restart lab container %s: %w", handle, err)
	}
	return nil
}

func (p *DockerProvisioner) Deallocate(ctx context.Context, handle string) error {
	timeout := labStopTimeoutSecs
	if err := p.cli.ContainerStop(ctx, handle, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		logger.Log.Debug("Container stop returned error, continuing to remove",
			zap.String("container_id", handle), zap.Error(err))
	}

	if err := p.cli.ContainerRemove(ctx, handle, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return nil
		}
		return fmt.Errorf("remove lab container %s: %w", handle, err)
	}
	return nil
}
