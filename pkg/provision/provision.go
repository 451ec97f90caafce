// Package provision holds one provisioner per service kind of a fleet
// environment: database, migrations, broker, storage emulators, backend and
// robots. Each follows the same flow: build a process from a Descriptor,
// register it for release, join the network, start it, wait for readiness,
// run post-start setup and return a typed record.
package provision

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/testcontainers/testcontainers-go"

	"github.com/fleetops/armada/pkg/container"
	"github.com/fleetops/armada/pkg/fleet"
	"github.com/fleetops/armada/pkg/readiness"
)

// Service names used as graph nodes.
const (
	ServiceDatabase   = "database"
	ServiceMigrations = "migrations"
	ServiceBroker     = "broker"
	ServiceStorage    = "storage"
	ServiceBackend    = "backend"
)

// RobotService returns the graph node name of a robot.
func RobotService(name string) string {
	return "robot:" + name
}

// Descriptor is the static description of one service container.
type Descriptor struct {
	Kind        string // e.g. "database", "broker"
	Name        string // Container name
	Image       string
	Alias       string // Network alias other services resolve
	Port        int    // Primary container port
	Ports       []int  // Additional exposed ports
	Env         map[string]string
	Cmd         []string
	Reuse       bool
	StreamLogs  bool
	Customizers []testcontainers.ContainerCustomizer
}

// WithEnv returns a copy of d with env merged over its environment.
func (d Descriptor) WithEnv(env map[string]string) Descriptor {
	merged := maps.Clone(d.Env)
	if merged == nil {
		merged = make(map[string]string, len(env))
	}
	maps.Copy(merged, env)
	d.Env = merged
	return d
}

func (d Descriptor) spec() container.Spec {
	var ports []int
	if d.Port != 0 {
		ports = append(ports, d.Port)
	}
	ports = append(ports, d.Ports...)
	return container.Spec{
		Name:         d.Name,
		Image:        d.Image,
		Cmd:          d.Cmd,
		Env:          d.Env,
		ExposedPorts: ports,
		Reuse:        d.Reuse,
		Customizers:  d.Customizers,
	}
}

// ProvisioningError is returned when a one-shot job exits non-zero or a
// started service cannot be reached from the host.
type ProvisioningError struct {
	Service  string
	ExitCode int
	LogTail  []string // Last lines of output

	// Err is set when the service failed without exiting.
	Err error
}

func (e *ProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Service, e.Err)
	}
	msg := fmt.Sprintf("%s exited with code %d", e.Service, e.ExitCode)
	if len(e.LogTail) > 0 {
		msg += ":\n" + strings.Join(e.LogTail, "\n")
	}
	return msg
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// probeFactory builds a readiness probe once the process has started and its
// ports are known.
type probeFactory func(p *container.Process) (readiness.Probe, error)

func newProcess(scope *fleet.Scope, d Descriptor) *container.Process {
	return container.NewProcess(scope.Runtime(), d.spec(),
		container.WithLogger(scope.Logger()),
		container.WithLogStreaming(d.StreamLogs),
	)
}

// launch runs steps (a) to (e) of the provisioning flow for a long-running
// service. The process is registered for release before it is started.
func launch(ctx context.Context, scope *fleet.Scope, d Descriptor, probe probeFactory) (*container.Process, error) {
	p := newProcess(scope, d)
	scope.AcquireProcess(p)

	if err := start(ctx, scope, p, d); err != nil {
		return nil, err
	}
	if probe == nil {
		return p, nil
	}

	pr, err := probe(p)
	if err != nil {
		return nil, err
	}
	if err := readiness.Poll(ctx, d.Name, pr, scope.Readiness()); err != nil {
		return nil, err
	}
	return p, nil
}

func start(ctx context.Context, scope *fleet.Scope, p *container.Process, d Descriptor) error {
	if err := scope.Network().Join(p, d.Alias); err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("error starting %s container: %w", d.Kind, err)
	}
	scope.Logger().Info("container started",
		"name", d.Name,
		"image", d.Image,
		"alias", d.Alias,
	)
	return nil
}

// tail returns at most the last n lines.
func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// endpointURL returns http://host:port for a started process.
func endpointURL(p *container.Process, port int) (string, error) {
	endpoint, err := p.Endpoint(port)
	if err != nil {
		return "", err
	}
	return "http://" + endpoint, nil
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
