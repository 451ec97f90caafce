package fleet

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/fleetops/armada/pkg/container"
	"github.com/fleetops/armada/pkg/readiness"
	"github.com/fleetops/armada/pkg/secrets"
)

// NetworkResource is the name of the environment network in the
// acquisition list. It is always acquired first.
const NetworkResource = "network"

// Options configures a Builder.
type Options struct {
	Secrets   secrets.Store     // Where connection strings are published (default: in-memory)
	Readiness readiness.Options // Default polling for every provisioner
	Logger    hclog.Logger
}

type node struct {
	name        string
	provisioner Provisioner
	deps        []string
}

// Builder declares the service graph up front and then builds it.
type Builder struct {
	runtime container.Runtime
	opts    Options
	logger  hclog.Logger

	nodes []*node
	index map[string]*node
	err   error
	built bool
}

func NewBuilder(rt container.Runtime, opts Options) *Builder {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Secrets == nil {
		opts.Secrets = secrets.NewMemory()
	}
	return &Builder{
		runtime: rt,
		opts:    opts,
		logger:  opts.Logger.Named("fleet"),
		index:   make(map[string]*node),
	}
}

// Add declares a service and the services it depends on. Declaration order
// breaks ties between services in the same stage.
func (b *Builder) Add(name string, p Provisioner, deps ...string) *Builder {
	if b.err != nil {
		return b
	}
	switch {
	case name == "" || name == NetworkResource:
		b.err = &GraphError{Service: name, Reason: "reserved or empty service name"}
		return b
	case b.index[name] != nil:
		b.err = &GraphError{Service: name, Reason: "declared twice"}
		return b
	}
	n := &node{name: name, provisioner: p, deps: append([]string(nil), deps...)}
	b.nodes = append(b.nodes, n)
	b.index[name] = n
	return b
}

// Plan levels the graph into stages. Every service lands in the first stage
// after all of its dependencies. Services inside a stage are ordered by
// declaration.
func (b *Builder) Plan() ([][]string, error) {
	if b.err != nil {
		return nil, b.err
	}

	level := make(map[string]int, len(b.nodes))
	for _, n := range b.nodes {
		for _, dep := range n.deps {
			if b.index[dep] == nil {
				return nil, &GraphError{Service: n.name, Reason: fmt.Sprintf("unknown dependency %q", dep)}
			}
		}
	}

	// Kahn's algorithm, one level at a time.
	remaining := make(map[string]int, len(b.nodes))
	for _, n := range b.nodes {
		remaining[n.name] = len(n.deps)
	}
	var stages [][]string
	placed := 0
	for placed < len(b.nodes) {
		var stage []string
		for _, n := range b.nodes {
			if _, done := level[n.name]; !done && remaining[n.name] == 0 {
				stage = append(stage, n.name)
			}
		}
		if len(stage) == 0 {
			var stuck []string
			for _, n := range b.nodes {
				if _, done := level[n.name]; !done {
					stuck = append(stuck, n.name)
				}
			}
			return nil, &GraphError{
				Service: stuck[0],
				Reason:  "dependency cycle among " + strings.Join(stuck, ", "),
			}
		}
		for _, name := range stage {
			level[name] = len(stages)
		}
		for _, n := range b.nodes {
			for _, dep := range n.deps {
				if _, ok := level[dep]; ok && level[dep] == len(stages) {
					remaining[n.name]--
				}
			}
		}
		stages = append(stages, stage)
		placed += len(stage)
	}
	return stages, nil
}

// Build creates the network and provisions every stage in order. On failure
// everything acquired so far is released in reverse and the provisioning
// error is returned.
func (b *Builder) Build(ctx context.Context) (*Environment, error) {
	if b.built {
		return nil, &InvalidStateError{Op: "build", State: StateProvisioning}
	}
	b.built = true

	stages, err := b.Plan()
	if err != nil {
		return nil, err
	}

	env := &Environment{
		id:        uuid.NewString(),
		runtime:   b.runtime,
		secrets:   secrets.NewTracked(b.opts.Secrets, b.opts.Logger),
		readiness: b.opts.Readiness,
		services:  make(map[string]interface{}),
		state:     StateProvisioning,
	}
	env.logger = b.logger.With("run_id", env.id)
	if env.readiness.Logger == nil {
		env.readiness.Logger = b.opts.Logger
	}

	env.logger.Info("building environment", "stages", len(stages), "services", len(b.nodes))

	nw := container.NewNetwork(b.runtime, b.opts.Logger)
	if err := nw.Create(ctx); err != nil {
		env.setState(StateTornDown)
		return nil, &ServiceError{Service: NetworkResource, Err: err}
	}
	env.network = nw
	env.record([]Resource{{Name: nw.Name(), Service: NetworkResource, release: nw.Teardown}})

	for i, stage := range stages {
		env.logger.Info("provisioning stage", "stage", i, "services", strings.Join(stage, ","))
		if err := b.runStage(ctx, env, stage); err != nil {
			env.logger.Error("provisioning failed, tearing down", "error", err)
			if tdErr := env.Teardown(ctx); tdErr != nil {
				env.logger.Error("error tearing down after failed provisioning", "error", tdErr)
			}
			return nil, err
		}
	}

	env.setState(StateReady)
	env.logger.Info("environment ready", "network", nw.Name())
	return env, nil
}

func (b *Builder) runStage(ctx context.Context, env *Environment, stage []string) error {
	scopes := make([]*Scope, len(stage))
	records := make([]interface{}, len(stage))
	for i, name := range stage {
		scopes[i] = env.newScope(b.index[name])
	}

	provision := func(ctx context.Context, i int) error {
		n := b.index[stage[i]]
		rec, err := n.provisioner.Provision(ctx, scopes[i])
		if err != nil {
			return &ServiceError{Service: n.name, Err: err}
		}
		records[i] = rec
		return nil
	}

	var err error
	if len(stage) == 1 {
		err = provision(ctx, 0)
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i := range stage {
			i := i
			g.Go(func() error { return provision(gctx, i) })
		}
		err = g.Wait()
	}

	// Acquisitions are recorded in declaration order, not completion order.
	for i, name := range stage {
		env.record(scopes[i].acquired())
		if records[i] != nil {
			env.addService(name, records[i])
		}
	}
	return err
}
