package container

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/docker/go-connections/nat"
	"github.com/hashicorp/go-hclog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
)

// DockerRuntime runs containers on the local Docker daemon through
// testcontainers-go.
type DockerRuntime struct {
	logger hclog.Logger

	mu       sync.Mutex
	networks map[string]*testcontainers.DockerNetwork
}

var _ Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime returns a Runtime backed by Docker.
func NewDockerRuntime(logger hclog.Logger) *DockerRuntime {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &DockerRuntime{
		logger:   logger.Named("docker"),
		networks: make(map[string]*testcontainers.DockerNetwork),
	}
}

// CreateNetwork creates a bridge network with a generated unique name.
func (r *DockerRuntime) CreateNetwork(ctx context.Context) (string, error) {
	nw, err := network.New(ctx)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.networks[nw.Name] = nw
	r.mu.Unlock()
	return nw.Name, nil
}

// RemoveNetwork removes a network created by CreateNetwork.
func (r *DockerRuntime) RemoveNetwork(ctx context.Context, name string) error {
	r.mu.Lock()
	nw, ok := r.networks[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown network %q", name)
	}

	if err := nw.Remove(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.networks, name)
	r.mu.Unlock()
	return nil
}

// Run creates and starts a container from spec.
func (r *DockerRuntime) Run(ctx context.Context, spec Spec, sink LogSink) (Handle, error) {
	exposed := make([]string, 0, len(spec.ExposedPorts))
	for _, port := range spec.ExposedPorts {
		exposed = append(exposed, tcpPort(port))
	}

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Name:           spec.Name,
			Image:          spec.Image,
			Cmd:            spec.Cmd,
			Env:            spec.Env,
			ExposedPorts:   exposed,
			Networks:       spec.Networks,
			NetworkAliases: spec.NetworkAliases,
		},
		Started: true,
		Reuse:   spec.Reuse,
		Logger: r.logger.StandardLogger(&hclog.StandardLoggerOptions{
			InferLevels: true,
		}),
	}
	if sink != nil {
		req.LogConsumerCfg = &testcontainers.LogConsumerConfig{
			Consumers: []testcontainers.LogConsumer{lineConsumer(sink)},
		}
	}

	for _, customizer := range spec.Customizers {
		if err := customizer.Customize(&req); err != nil {
			return nil, fmt.Errorf("error customizing container request: %w", err)
		}
	}

	ctr, err := testcontainers.GenericContainer(ctx, req)
	if err != nil {
		if ctr != nil {
			if termErr := ctr.Terminate(context.WithoutCancel(ctx)); termErr != nil {
				r.logger.Warn("error removing container after failed start",
					"name", spec.Name, "error", termErr)
			}
		}
		return nil, err
	}

	return &dockerHandle{ctr: ctr}, nil
}

type dockerHandle struct {
	ctr testcontainers.Container
}

func (h *dockerHandle) Host(ctx context.Context) (string, error) {
	return h.ctr.Host(ctx)
}

func (h *dockerHandle) MappedPort(ctx context.Context, port int) (int, error) {
	mapped, err := h.ctr.MappedPort(ctx, nat.Port(tcpPort(port)))
	if err != nil {
		return 0, err
	}
	return mapped.Int(), nil
}

func (h *dockerHandle) Logs(ctx context.Context) (io.ReadCloser, error) {
	return h.ctr.Logs(ctx)
}

func (h *dockerHandle) State(ctx context.Context) (bool, int, error) {
	state, err := h.ctr.State(ctx)
	if err != nil {
		return false, -1, err
	}
	return state.Running, state.ExitCode, nil
}

func (h *dockerHandle) Terminate(ctx context.Context) error {
	return h.ctr.Terminate(ctx)
}

// lineConsumer adapts a LogSink to testcontainers.LogConsumer.
type lineConsumer LogSink

func (c lineConsumer) Accept(l testcontainers.Log) {
	for _, line := range strings.Split(strings.TrimRight(string(l.Content), "\n"), "\n") {
		c(strings.TrimRight(line, "\r"))
	}
}

func tcpPort(port int) string {
	return strconv.Itoa(port) + "/tcp"
}
