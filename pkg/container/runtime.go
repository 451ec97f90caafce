// Package container wraps externally started service containers (Process)
// and the isolated networks they join (Network). The actual container engine
// sits behind the Runtime interface; DockerRuntime drives Docker through
// testcontainers-go and the containertest package provides an in-memory fake.
package container

import (
	"context"
	"io"

	"github.com/testcontainers/testcontainers-go"
)

// Spec describes a container to launch.
type Spec struct {
	Name  string
	Image string
	Cmd   []string
	Env   map[string]string

	// ExposedPorts are container-side TCP ports that get a host mapping.
	ExposedPorts []int

	// Networks and NetworkAliases are filled in by Network.Join.
	Networks       []string
	NetworkAliases map[string][]string

	// Reuse adopts an existing container with the same Name instead of
	// failing on a name conflict.
	Reuse bool

	// Customizers are applied to the testcontainers request before launch.
	// Runtimes that are not Docker backed ignore them.
	Customizers []testcontainers.ContainerCustomizer
}

// LogSink receives container output one line at a time. Implementations must
// not block.
type LogSink func(line string)

// Runtime is the container engine consumed by Process and Network.
type Runtime interface {
	// CreateNetwork allocates an isolated network and returns its name.
	CreateNetwork(ctx context.Context) (string, error)

	// RemoveNetwork deletes a network created by CreateNetwork.
	RemoveNetwork(ctx context.Context, name string) error

	// Run creates and starts a container, returning once the engine reports
	// it as started. Output is delivered to sink until the container stops.
	Run(ctx context.Context, spec Spec, sink LogSink) (Handle, error)
}

// Handle is a started container as seen by the runtime.
type Handle interface {
	// Host returns the host on which mapped ports are reachable.
	Host(ctx context.Context) (string, error)

	// MappedPort resolves the host port mapped to a container TCP port.
	MappedPort(ctx context.Context, port int) (int, error)

	// Logs returns a snapshot of the container output so far.
	Logs(ctx context.Context) (io.ReadCloser, error)

	// State reports whether the container is running and, once exited, its
	// exit code.
	State(ctx context.Context) (running bool, exitCode int, err error)

	// Terminate stops and removes the container.
	Terminate(ctx context.Context) error
}
