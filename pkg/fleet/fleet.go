// Package fleet composes services into an Environment: a dependency graph of
// provisioners acquired stage by stage on a private network and released in
// exact reverse order.
package fleet

import (
	"context"
	"fmt"
)

// Provisioner acquires one service and returns its record. Every resource it
// creates must be registered with scope.Acquire before it is started, so a
// failure part-way through still releases it.
type Provisioner interface {
	Provision(ctx context.Context, scope *Scope) (interface{}, error)
}

// ProvisionerFunc adapts a function to Provisioner.
type ProvisionerFunc func(ctx context.Context, scope *Scope) (interface{}, error)

func (f ProvisionerFunc) Provision(ctx context.Context, scope *Scope) (interface{}, error) {
	return f(ctx, scope)
}

// State is the lifecycle state of an Environment.
type State int

const (
	StateEmpty State = iota
	StateProvisioning
	StateReady
	StateTearingDown
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateProvisioning:
		return "provisioning"
	case StateReady:
		return "ready"
	case StateTearingDown:
		return "tearing-down"
	case StateTornDown:
		return "torn-down"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ServiceError attributes an error to the service it came from.
type ServiceError struct {
	Service string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// InvalidStateError is returned for an operation the Environment or Builder
// cannot perform in its current state.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: environment is %s", e.Op, e.State)
}

// GraphError reports a malformed dependency graph.
type GraphError struct {
	Service string
	Reason  string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("invalid service graph at %q: %s", e.Service, e.Reason)
}
