package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const (
	// ProviderType is the only provider this implementation answers to;
	// AttachSession and Pause reject any other providerType so a
	// misconfigured session fails loudly instead of silently touching
	// the wrong instance.
	ProviderType = "docker"

	execUser       = "1000"
	stopTimeoutSec = 10

	createRetryAttempts = 20
	createRetryDelay    = 250 * time.Millisecond
)

// DockerProvider runs one agent process per sandbox instance inside an
// already-created Docker container, reached via exec rather than the
// container's primary process. The container itself is expected to be
// provisioned by the out-of-scope environment builder named in spec §2;
// this provider only attaches to and pauses it.
type DockerProvider struct {
	cli     *client.Client
	runtime string
	image   string
}

// NewDockerProvider opens a Docker client using the ambient environment
// (DOCKER_HOST, etc). runtime selects the OCI runtime ("" for the
// default runc, "runsc" for gVisor); image is the sandbox image exec
// sessions are created against.
func NewDockerProvider(runtime, image string) (*DockerProvider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerProvider{cli: cli, runtime: runtime, image: image}, nil
}

// AttachSession execs the agent binary inside the running container
// identified by providerID and returns the exec session's attached
// stream. If the container is stopped it is restarted first; if it does
// not exist AttachSession fails rather than creating one — sandbox
// creation is out of scope here (spec §2).
func (p *DockerProvider) AttachSession(ctx context.Context, providerType, providerID string, env EnvConfig) (io.ReadWriteCloser, error) {
	if providerType != ProviderType {
		return nil, fmt.Errorf("sandbox: unsupported provider type %q", providerType)
	}

	inspect, err := p.cli.ContainerInspect(ctx, providerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: container %s", ErrNotFound, providerID)
		}
		return nil, fmt.Errorf("inspect container %s: %w", providerID, err)
	}

	if inspect.State.Paused {
		if err := p.cli.ContainerUnpause(ctx, providerID); err != nil {
			return nil, fmt.Errorf("unpause container %s: %w", providerID, err)
		}
	} else if !inspect.State.Running {
		if err := p.cli.ContainerStart(ctx, providerID, container.StartOptions{}); err != nil {
			return nil, fmt.Errorf("start container %s: %w", providerID, err)
		}
	}

	envVars := make([]string, 0, len(env.Variables)+1)
	if env.ID != "" {
		envVars = append(envVars, "SESSION_ENVIRONMENT_ID="+env.ID)
	}
	for k, v := range env.Variables {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}

	execConfig := container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{"agent-runner"},
		Env:          envVars,
		User:         execUser,
	}

	resp, err := p.cli.ContainerExecCreate(ctx, providerID, execConfig)
	if err != nil {
		return nil, fmt.Errorf("create exec in container %s: %w", providerID, err)
	}

	attachResp, err := p.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec %s: %w", resp.ID, err)
	}

	slog.Info("sandbox session attached", "container_id", providerID, "exec_id", resp.ID)
	return attachResp.Conn, nil
}

// Pause suspends the container rather than stopping it, so a later
// AttachSession can resume work without re-provisioning. Tolerates the
// container already being gone.
func (p *DockerProvider) Pause(ctx context.Context, providerType, providerID string) error {
	if providerType != ProviderType {
		return fmt.Errorf("sandbox: unsupported provider type %q", providerType)
	}

	inspect, err := p.cli.ContainerInspect(ctx, providerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: container %s", ErrNotFound, providerID)
		}
		return fmt.Errorf("inspect container %s: %w", providerID, err)
	}

	if inspect.State.Paused {
		return nil
	}
	if !inspect.State.Running {
		return fmt.Errorf("%w: container %s not running", ErrNotFound, providerID)
	}

	if err := p.cli.ContainerPause(ctx, providerID); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is not running") {
			return fmt.Errorf("%w: container %s", ErrNotFound, providerID)
		}
		return fmt.Errorf("pause container %s: %w", providerID, err)
	}

	slog.Info("sandbox paused", "container_id", providerID)
	return nil
}

// IsRunning reports whether the container is currently running
// (unpaused and not stopped).
func (p *DockerProvider) IsRunning(ctx context.Context, providerType, providerID string) (bool, error) {
	if providerType != ProviderType {
		return false, fmt.Errorf("sandbox: unsupported provider type %q", providerType)
	}
	inspect, err := p.cli.ContainerInspect(ctx, providerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container %s: %w", providerID, err)
	}
	return inspect.State.Running && !inspect.State.Paused, nil
}

// Stop force-stops and removes the container. Unused by the hub or
// reaper today (both only ever pause) but kept for an external
// deprovisioning API to call, mirroring the teacher's StopContainer.
func (p *DockerProvider) Stop(ctx context.Context, providerID string) error {
	_, err := p.cli.ContainerInspect(ctx, providerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("inspect container %s: %w", providerID, err)
	}

	timeout := stopTimeoutSec
	if err := p.cli.ContainerStop(ctx, providerID, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		slog.Debug("container stop returned error, continuing to remove", "container_id", providerID, "error", err)
	}

	if err := p.cli.ContainerRemove(ctx, providerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", providerID, err)
	}
	return nil
}
