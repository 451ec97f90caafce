// Package containertest provides an in-memory container.Runtime for tests.
package containertest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fleetops/armada/pkg/container"
)

// Runtime is a fake container.Runtime. It records every call as an event so
// tests can assert ordering.
type Runtime struct {
	// FailRun makes Run fail for the named containers.
	FailRun map[string]error

	// ExitCodes makes the named containers exit immediately with a code.
	ExitCodes map[string]int

	// UnmappedPorts leaves the listed container ports of the named
	// containers without a host port.
	UnmappedPorts map[string][]int

	mu         sync.Mutex
	nextPort   int
	nextNet    int
	networks   map[string]bool
	containers map[string]*Container
	hostPorts  map[string]map[int]int
	events     []string
}

var _ container.Runtime = (*Runtime)(nil)

// NewRuntime returns an empty fake runtime.
func NewRuntime() *Runtime {
	return &Runtime{
		FailRun:       make(map[string]error),
		ExitCodes:     make(map[string]int),
		UnmappedPorts: make(map[string][]int),
		nextPort:   40000,
		networks:   make(map[string]bool),
		containers: make(map[string]*Container),
		hostPorts:  make(map[string]map[int]int),
	}
}

// MapPort pins the host port that containerPort of the named container is
// mapped to, so tests can point it at a real listener.
func (r *Runtime) MapPort(name string, containerPort, hostPort int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hostPorts[name] == nil {
		r.hostPorts[name] = make(map[int]int)
	}
	r.hostPorts[name][containerPort] = hostPort
}

func (r *Runtime) CreateNetwork(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextNet++
	name := fmt.Sprintf("net-%d", r.nextNet)
	r.networks[name] = true
	r.events = append(r.events, "create-network:"+name)
	return name, nil
}

func (r *Runtime) RemoveNetwork(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.networks[name] {
		return fmt.Errorf("no such network %q", name)
	}
	delete(r.networks, name)
	r.events = append(r.events, "remove-network:"+name)
	return nil
}

func (r *Runtime) Run(ctx context.Context, spec container.Spec, sink container.LogSink) (container.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.FailRun[spec.Name]; err != nil {
		r.events = append(r.events, "run-failed:"+spec.Name)
		return nil, err
	}

	c := &Container{
		Spec:    spec,
		sink:    sink,
		ports:   make(map[int]int),
		running: true,
		runtime: r,
	}
	unmapped := make(map[int]bool)
	for _, port := range r.UnmappedPorts[spec.Name] {
		unmapped[port] = true
	}
	for _, port := range spec.ExposedPorts {
		if unmapped[port] {
			continue
		}
		if pinned, ok := r.hostPorts[spec.Name][port]; ok {
			c.ports[port] = pinned
			continue
		}
		r.nextPort++
		c.ports[port] = r.nextPort
	}
	if code, ok := r.ExitCodes[spec.Name]; ok {
		c.running = false
		c.exitCode = code
	}
	r.containers[spec.Name] = c
	r.events = append(r.events, "run:"+spec.Name)
	return c, nil
}

// Container returns the container launched under name, or nil.
func (r *Runtime) Container(name string) *Container {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.containers[name]
}

// Events returns the recorded runtime calls in order.
func (r *Runtime) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := make([]string, len(r.events))
	copy(events, r.events)
	return events
}

// NetworkExists reports whether a network is currently allocated.
func (r *Runtime) NetworkExists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.networks[name]
}

func (r *Runtime) record(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Container is a fake started container; it implements container.Handle.
type Container struct {
	Spec container.Spec

	runtime *Runtime
	sink    container.LogSink

	mu         sync.Mutex
	ports      map[int]int
	running    bool
	exitCode   int
	terminated int
	logs       []string
}

// Emit writes a line of output as if produced by the container.
func (c *Container) Emit(line string) {
	c.mu.Lock()
	c.logs = append(c.logs, line)
	sink := c.sink
	c.mu.Unlock()
	if sink != nil {
		sink(line)
	}
}

// Exit marks the container as exited with code.
func (c *Container) Exit(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.exitCode = code
}

// Terminations returns how many times Terminate was called.
func (c *Container) Terminations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

func (c *Container) Host(ctx context.Context) (string, error) {
	return "localhost", nil
}

func (c *Container) MappedPort(ctx context.Context, port int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hostPort, ok := c.ports[port]
	if !ok {
		return 0, fmt.Errorf("port %d not exposed", port)
	}
	return hostPort, nil
}

func (c *Container) Logs(ctx context.Context) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated > 0 {
		return nil, errors.New("container removed")
	}
	return io.NopCloser(strings.NewReader(strings.Join(c.logs, "\n"))), nil
}

func (c *Container) State(ctx context.Context) (bool, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated > 0 {
		return false, -1, errors.New("container removed")
	}
	return c.running, c.exitCode, nil
}

func (c *Container) Terminate(ctx context.Context) error {
	c.mu.Lock()
	c.running = false
	c.terminated++
	c.mu.Unlock()
	c.runtime.record("terminate:" + c.Spec.Name)
	return nil
}
