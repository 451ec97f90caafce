package fleet

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/fleetops/armada/pkg/container"
	"github.com/fleetops/armada/pkg/readiness"
	"github.com/fleetops/armada/pkg/secrets"
)

// Scope is what a provisioner sees of the environment under construction.
type Scope struct {
	env    *Environment
	name   string
	deps   map[string]bool
	logger hclog.Logger

	mu        sync.Mutex
	resources []Resource
}

// Name is the service being provisioned.
func (s *Scope) Name() string {
	return s.name
}

// RunID identifies the environment.
func (s *Scope) RunID() string {
	return s.env.id
}

func (s *Scope) Network() *container.Network {
	return s.env.network
}

func (s *Scope) Runtime() container.Runtime {
	return s.env.runtime
}

// Secrets returns the environment store; writes are attributed to this
// service.
func (s *Scope) Secrets() secrets.Store {
	return s.env.secrets.For(s.name)
}

func (s *Scope) Logger() hclog.Logger {
	return s.logger
}

// Readiness returns the environment's default polling options.
func (s *Scope) Readiness() readiness.Options {
	return s.env.readiness
}

// Acquire registers a resource to be released at teardown. Release must be
// safe to call on a resource that never finished starting.
func (s *Scope) Acquire(name string, release func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = append(s.resources, Resource{
		Name:    name,
		Service: s.name,
		release: release,
	})
}

// AcquireProcess registers p to be stopped at teardown.
func (s *Scope) AcquireProcess(p *container.Process) {
	s.Acquire(p.Name(), p.Stop)
}

func (s *Scope) acquired() []Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Resource(nil), s.resources...)
}

// Lookup returns the record of a declared dependency as a T.
func Lookup[T any](s *Scope, name string) (T, error) {
	var zero T
	if !s.deps[name] {
		return zero, fmt.Errorf("%s did not declare a dependency on %s", s.name, name)
	}
	rec, ok := s.env.Service(name)
	if !ok {
		return zero, fmt.Errorf("dependency %s of %s is not provisioned", name, s.name)
	}
	typed, ok := rec.(T)
	if !ok {
		return zero, fmt.Errorf("dependency %s of %s is a %T, not a %T", name, s.name, rec, zero)
	}
	return typed, nil
}
