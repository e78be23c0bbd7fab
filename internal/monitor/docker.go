package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"

	"github.com/fuomag9/inframirror/internal/models"
)

// DockerProber checks that a Docker container is running and healthy
type DockerProber struct{}

func init() {
	RegisterProber(&DockerProber{})
}

func (d *DockerProber) Name() string {
	return models.TypeDocker
}

func (d *DockerProber) newClient(m *models.Monitor) (*client.Client, error) {
	if host := m.ConfigString("docker_host", ""); host != "" {
		return client.NewClientWithOpts(client.WithHost(host), client.WithAPIVersionNegotiation())
	}
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

func (d *DockerProber) Probe(ctx context.Context, m *models.Monitor) *Result {
	res := &Result{}

	containerName := m.URL
	if containerName == "" {
		return res.fail(ErrInvalidRequest, "no container name specified")
	}

	cli, err := d.newClient(m)
	if err != nil {
		return res.fail(ErrInvalidRequest, "failed to create Docker client: %v", err)
	}
	defer cli.Close()

	start := time.Now()
	info, err := cli.ContainerInspect(ctx, containerName)
	res.ResponseTime = time.Since(start)
	ms := res.ResponseTime.Milliseconds()

	if err != nil {
		if client.IsErrNotFound(err) {
			return res.fail(ErrContainer, "container not found: %s", containerName)
		}
		return res.fail(classifyError(err), "container inspect failed: %v", err)
	}

	if info.State == nil || !info.State.Running {
		status := "unknown"
		if info.State != nil {
			status = info.State.Status
		}
		return res.fail(ErrContainer, "container is %s", status)
	}

	if info.State.Health != nil {
		switch health := info.State.Health.Status; health {
		case "", "healthy":
			res.Message = fmt.Sprintf("Container is running and healthy - %dms", ms)
		default:
			return res.fail(ErrContainer, "container is %s", health)
		}
	} else {
		res.Message = fmt.Sprintf("Container is running - %dms", ms)
	}

	return res
}

func (d *DockerProber) Validate(m *models.Monitor) error {
	if m.URL == "" {
		return models.NewConfigurationError("url", "container name or ID is required")
	}
	if v, ok := m.Config["docker_host"]; ok {
		if _, ok := v.(string); !ok {
			return models.NewConfigurationError("config.docker_host", "must be a string")
		}
	}
	return nil
}
