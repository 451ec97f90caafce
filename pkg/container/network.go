package container

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
)

type networkState int

const (
	networkPending networkState = iota
	networkCreated
	networkRemoved
)

// Network is an isolated virtual network. Processes join it under an alias
// before they start, which lets services resolve each other by alias
// independent of host port mappings.
type Network struct {
	runtime Runtime
	logger  hclog.Logger

	mu      sync.Mutex
	name    string
	state   networkState
	members []*Process
}

// NewNetwork returns a network that has not been created yet.
func NewNetwork(rt Runtime, logger hclog.Logger) *Network {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Network{
		runtime: rt,
		logger:  logger.Named("network"),
	}
}

// Create allocates the network.
func (n *Network) Create(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != networkPending {
		return &InvalidStateError{Op: "create network", Name: n.name, State: n.stateString()}
	}
	name, err := n.runtime.CreateNetwork(ctx)
	if err != nil {
		return fmt.Errorf("error creating network: %w", err)
	}
	n.name = name
	n.state = networkCreated
	n.logger.Info("network created", "name", name)
	return nil
}

// Name returns the runtime name of the network, empty until created.
func (n *Network) Name() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.name
}

// Join adds p to the network under alias. It must be called before p starts.
func (n *Network) Join(p *Process, alias string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != networkCreated {
		return &InvalidStateError{Op: "join", Name: n.name, State: n.stateString()}
	}
	if err := p.attach(n.name, alias); err != nil {
		return err
	}
	n.members = append(n.members, p)
	n.logger.Debug("process joined network", "process", p.Name(), "alias", alias)
	return nil
}

// Members returns the processes that joined the network.
func (n *Network) Members() []*Process {
	n.mu.Lock()
	defer n.mu.Unlock()
	members := make([]*Process, len(n.members))
	copy(members, n.members)
	return members
}

// Teardown removes the network. Every member must have stopped first.
// Tearing down a removed (or never created) network is a no-op.
func (n *Network) Teardown(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case networkPending:
		n.state = networkRemoved
		return nil
	case networkRemoved:
		return nil
	}

	var running []string
	for _, p := range n.members {
		if p.Running() {
			running = append(running, p.Name())
		}
	}
	if len(running) > 0 {
		return &NetworkInUseError{Network: n.name, Running: running}
	}

	if err := n.runtime.RemoveNetwork(ctx, n.name); err != nil {
		return fmt.Errorf("error removing network %s: %w", n.name, err)
	}
	n.state = networkRemoved
	n.logger.Info("network removed", "name", n.name)
	return nil
}

func (n *Network) stateString() string {
	switch n.state {
	case networkPending:
		return "pending"
	case networkCreated:
		return "created"
	default:
		return "removed"
	}
}
