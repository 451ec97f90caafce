package fleet

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/fleetops/armada/pkg/container"
	"github.com/fleetops/armada/pkg/readiness"
	"github.com/fleetops/armada/pkg/secrets"
)

// Resource is one acquired thing that must be released at teardown.
type Resource struct {
	Name    string // e.g. container or network name
	Service string // Service that acquired it

	release func(ctx context.Context) error
}

// Environment is a built set of running services. Its acquisition list is
// the only source of truth for teardown.
type Environment struct {
	id        string
	logger    hclog.Logger
	runtime   container.Runtime
	network   *container.Network
	secrets   *secrets.Tracked
	readiness readiness.Options

	mu        sync.Mutex
	state     State
	resources []Resource
	services  map[string]interface{}
	order     []string
}

// ID is a unique identifier for this run.
func (e *Environment) ID() string {
	return e.id
}

func (e *Environment) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Environment) Network() *container.Network {
	return e.network
}

// Secrets returns the store every provisioner published to.
func (e *Environment) Secrets() *secrets.Tracked {
	return e.secrets
}

// Logger returns the environment logger.
func (e *Environment) Logger() hclog.Logger {
	return e.logger
}

// Service returns the record a provisioner produced.
func (e *Environment) Service(name string) (interface{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.services[name]
	return rec, ok
}

// Services returns provisioned service names in acquisition order.
func (e *Environment) Services() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

// Resources returns the acquisition list, oldest first.
func (e *Environment) Resources() []Resource {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Resource(nil), e.resources...)
}

// Get returns the record of service name as a T. The environment must be
// ready.
func Get[T any](e *Environment, name string) (T, error) {
	var zero T
	if state := e.State(); state != StateReady {
		return zero, &InvalidStateError{Op: "look up " + name, State: state}
	}
	rec, ok := e.Service(name)
	if !ok {
		return zero, fmt.Errorf("no service %q in environment", name)
	}
	typed, ok := rec.(T)
	if !ok {
		return zero, fmt.Errorf("service %q is a %T, not a %T", name, rec, zero)
	}
	return typed, nil
}

// Teardown releases every acquired resource in reverse acquisition order.
// Every resource is attempted even if earlier releases fail; failures are
// logged and returned together. Caller cancellation does not interrupt
// teardown but the caller's deadline still bounds it. Calling Teardown
// again is a no-op.
func (e *Environment) Teardown(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateTearingDown || e.state == StateTornDown {
		e.mu.Unlock()
		return nil
	}
	e.state = StateTearingDown
	resources := e.resources
	e.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	if dl, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		detached, cancel = context.WithDeadline(detached, dl)
		defer cancel()
	}
	ctx = detached
	e.logger.Info("tearing down environment", "resources", len(resources))

	var result *multierror.Error
	for i := len(resources) - 1; i >= 0; i-- {
		r := resources[i]
		e.logger.Debug("releasing resource", "service", r.Service, "resource", r.Name)
		if err := r.release(ctx); err != nil {
			e.logger.Error("error releasing resource",
				"service", r.Service,
				"resource", r.Name,
				"error", err,
			)
			result = multierror.Append(result, &ServiceError{
				Service: r.Service,
				Err:     fmt.Errorf("error releasing %s: %w", r.Name, err),
			})
		}
	}

	e.mu.Lock()
	e.state = StateTornDown
	e.resources = nil
	e.mu.Unlock()

	e.logger.Info("environment torn down")
	return result.ErrorOrNil()
}

func (e *Environment) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

func (e *Environment) record(resources []Resource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resources = append(e.resources, resources...)
}

func (e *Environment) addService(name string, rec interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.services[name] = rec
	e.order = append(e.order, name)
}

func (e *Environment) newScope(n *node) *Scope {
	deps := make(map[string]bool, len(n.deps))
	for _, d := range n.deps {
		deps[d] = true
	}
	return &Scope{
		env:    e,
		name:   n.name,
		deps:   deps,
		logger: e.logger.Named(n.name),
	}
}
