package container

import (
	"bufio"
	"context"
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// exitPollInterval is how often WaitForExit checks the container state.
const exitPollInterval = 250 * time.Millisecond

// State is the lifecycle state of a Process.
type State int

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateExited
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateStopped:
		return "stopped"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Process is a handle on one service container. It is owned by the
// provisioner that created it and released exactly once through Stop.
type Process struct {
	runtime    Runtime
	logger     hclog.Logger
	streamLogs bool

	mu     sync.Mutex
	spec   Spec
	alias  string
	state  State
	handle Handle
	host   string
	ports  map[int]int

	// lines is append-only; changed is closed and replaced on every append so
	// followers can wait for new output without polling.
	lines   []string
	changed chan struct{}
	done    chan struct{}
}

// ProcessOption configures a Process.
type ProcessOption func(*Process)

// WithLogger sets the logger used for lifecycle events and streamed output.
func WithLogger(logger hclog.Logger) ProcessOption {
	return func(p *Process) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithLogStreaming forwards every line of container output to the logger.
func WithLogStreaming(enabled bool) ProcessOption {
	return func(p *Process) {
		p.streamLogs = enabled
	}
}

// NewProcess returns an unstarted Process for spec. The spec is copied.
func NewProcess(rt Runtime, spec Spec, opts ...ProcessOption) *Process {
	spec.Env = maps.Clone(spec.Env)
	spec.Cmd = slices.Clone(spec.Cmd)
	spec.ExposedPorts = slices.Clone(spec.ExposedPorts)
	spec.Networks = slices.Clone(spec.Networks)
	spec.NetworkAliases = maps.Clone(spec.NetworkAliases)
	if spec.NetworkAliases == nil {
		spec.NetworkAliases = make(map[string][]string)
	}

	p := &Process{
		runtime: rt,
		logger:  hclog.NewNullLogger(),
		spec:    spec,
		ports:   make(map[int]int),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named(spec.Name)
	return p
}

// Name returns the container name.
func (p *Process) Name() string {
	return p.spec.Name
}

// Image returns the image reference the process runs.
func (p *Process) Image() string {
	return p.spec.Image
}

// Alias returns the first network alias the process joined under.
func (p *Process) Alias() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alias
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Running reports whether the process is between start and exit/stop.
func (p *Process) Running() bool {
	s := p.State()
	return s == StateStarting || s == StateRunning
}

// attach records network membership. It must happen before Start.
func (p *Process) attach(network, alias string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateCreated {
		return &InvalidStateError{Op: "join", Name: p.spec.Name, State: p.state.String()}
	}
	if !slices.Contains(p.spec.Networks, network) {
		p.spec.Networks = append(p.spec.Networks, network)
	}
	if alias != "" {
		p.spec.NetworkAliases[network] = append(p.spec.NetworkAliases[network], alias)
		if p.alias == "" {
			p.alias = alias
		}
	}
	return nil
}

// Start launches the container and blocks until the runtime reports it as
// started. Started is not ready: readiness is checked by the caller.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateCreated {
		err := &InvalidStateError{Op: "start", Name: p.spec.Name, State: p.state.String()}
		p.mu.Unlock()
		return err
	}
	p.state = StateStarting
	spec := p.spec
	p.mu.Unlock()

	p.logger.Info("starting process", "image", spec.Image, "networks", spec.Networks)

	handle, err := p.runtime.Run(ctx, spec, p.appendLine)
	if err != nil {
		p.mu.Lock()
		if p.state == StateStarting {
			p.state = StateStopped
			close(p.done)
		}
		p.mu.Unlock()
		return fmt.Errorf("error starting %s: %w", spec.Name, err)
	}

	p.mu.Lock()
	if p.state != StateStarting {
		// Stopped while the runtime was still launching.
		p.mu.Unlock()
		_ = handle.Terminate(context.WithoutCancel(ctx))
		return &InvalidStateError{Op: "start", Name: spec.Name, State: StateStopped.String()}
	}
	p.handle = handle
	p.state = StateRunning
	p.mu.Unlock()

	host, err := handle.Host(ctx)
	if err != nil {
		return fmt.Errorf("error resolving host for %s: %w", spec.Name, err)
	}
	ports := make(map[int]int, len(spec.ExposedPorts))
	for _, port := range spec.ExposedPorts {
		hostPort, err := handle.MappedPort(ctx, port)
		if err != nil {
			return fmt.Errorf("error resolving mapped port %d for %s: %w", port, spec.Name, err)
		}
		ports[port] = hostPort
	}

	p.mu.Lock()
	p.host = host
	p.ports = ports
	p.mu.Unlock()

	p.logger.Debug("process started", "host", host, "ports", ports)
	return nil
}

// Stop terminates the container. It is idempotent: stopping an already
// stopped or never started process is a no-op.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return nil
	}
	handle := p.handle
	p.state = StateStopped
	close(p.done)
	p.mu.Unlock()

	if handle == nil {
		return nil
	}

	p.logger.Info("stopping process")
	if err := handle.Terminate(ctx); err != nil {
		return fmt.Errorf("error terminating %s: %w", p.spec.Name, err)
	}
	return nil
}

// Host returns the host on which exposed ports are reachable.
func (p *Process) Host() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil {
		return "", ErrNotStarted
	}
	return p.host, nil
}

// ExposedPort returns the host port mapped to containerPort.
func (p *Process) ExposedPort(containerPort int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil {
		return 0, ErrNotStarted
	}
	hostPort, ok := p.ports[containerPort]
	if !ok {
		return 0, fmt.Errorf("port %d is not exposed by %s", containerPort, p.spec.Name)
	}
	return hostPort, nil
}

// Endpoint returns "host:port" for reaching containerPort from the host.
func (p *Process) Endpoint(containerPort int) (string, error) {
	host, err := p.Host()
	if err != nil {
		return "", err
	}
	port, err := p.ExposedPort(containerPort)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// WaitForExit blocks until the container exits and returns its exit code.
// It is bounded by ctx.
func (p *Process) WaitForExit(ctx context.Context) (int, error) {
	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()
	if handle == nil {
		return -1, ErrNotStarted
	}

	ticker := time.NewTicker(exitPollInterval)
	defer ticker.Stop()

	for {
		running, code, err := handle.State(ctx)
		if err != nil {
			return -1, fmt.Errorf("error reading state of %s: %w", p.spec.Name, err)
		}
		if !running {
			p.mu.Lock()
			if p.state == StateRunning {
				p.state = StateExited
			}
			p.mu.Unlock()
			p.logger.Debug("process exited", "exit_code", code)
			return code, nil
		}

		select {
		case <-ctx.Done():
			return -1, fmt.Errorf("waiting for %s to exit: %w", p.spec.Name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Logs returns a snapshot of the container output. Once the process has been
// stopped the lines captured while it ran are returned instead.
func (p *Process) Logs(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	handle, state := p.handle, p.state
	buffered := slices.Clone(p.lines)
	p.mu.Unlock()

	if handle == nil {
		return nil, ErrNotStarted
	}
	if state == StateStopped {
		return buffered, nil
	}

	rc, err := handle.Logs(ctx)
	if err != nil {
		return nil, fmt.Errorf("error reading logs of %s: %w", p.spec.Name, err)
	}
	defer rc.Close()

	var lines []string
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("error reading logs of %s: %w", p.spec.Name, err)
	}
	return lines, nil
}

// FollowLogs streams container output, starting with everything captured so
// far. Once the process stops, the lines captured before the stop are
// delivered and the channel is closed. It is closed early when ctx is done.
func (p *Process) FollowLogs(ctx context.Context) <-chan string {
	out := make(chan string)
	go p.follow(ctx, out)
	return out
}

func (p *Process) follow(ctx context.Context, out chan<- string) {
	defer close(out)

	next := 0
	for {
		p.mu.Lock()
		pending := p.lines[next:]
		changed, done := p.changed, p.done
		stopped := p.state == StateStopped
		p.mu.Unlock()

		for _, line := range pending {
			select {
			case out <- line:
				next++
			case <-ctx.Done():
				return
			}
		}
		if stopped {
			return
		}
		if len(pending) > 0 {
			continue
		}

		select {
		case <-changed:
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}

// appendLine is the LogSink handed to the runtime.
func (p *Process) appendLine(line string) {
	p.mu.Lock()
	p.lines = append(p.lines, line)
	close(p.changed)
	p.changed = make(chan struct{})
	p.mu.Unlock()

	if p.streamLogs {
		p.logger.Info(line)
	}
}
