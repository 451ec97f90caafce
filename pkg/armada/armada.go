// Package armada deploys the full fleet environment: database, migrations,
// broker, storage emulators, backend and robots, and exposes a typed view of
// the running services.
package armada

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/fleetops/armada/pkg/container"
	"github.com/fleetops/armada/pkg/fleet"
	"github.com/fleetops/armada/pkg/provision"
	"github.com/fleetops/armada/pkg/readiness"
	"github.com/fleetops/armada/pkg/secrets"
)

// Config describes every service of the environment.
type Config struct {
	Database   provision.DatabaseConfig
	Migrations provision.MigrationsConfig
	Broker     provision.BrokerConfig
	Storage    provision.StorageConfig
	Backend    provision.BackendConfig

	// Robots are provisioned in order. Empty means one default robot.
	Robots []provision.RobotConfig

	Readiness readiness.Options
}

// HasMigrations reports whether a migration job is configured.
func (c Config) HasMigrations() bool {
	return c.Migrations.Image != "" || c.Migrations.SourceDir != ""
}

func (c Config) robots() []provision.RobotConfig {
	if len(c.Robots) == 0 {
		return []provision.RobotConfig{{}}
	}
	return c.Robots
}

// Options holds the collaborators a deployment runs against.
type Options struct {
	Runtime container.Runtime
	Secrets secrets.Store // Default: in-memory
	Logger  hclog.Logger
}

// Armada is a deployed environment.
type Armada struct {
	Env *fleet.Environment

	Database   *provision.Database
	Migrations *provision.Migrations // Nil when no migration job is configured
	Broker     *provision.Broker
	Storage    *provision.Storage
	Backend    *provision.Backend
	Robots     map[string]*provision.Robot

	// RobotNames lists robots in configuration order.
	RobotNames []string
}

// NewBuilder declares the environment graph. The network is implicit;
// database, broker and storage have no dependencies, migrations follow the
// database, the backend follows migrations and each robot follows the
// backend, broker and storage.
func NewBuilder(cfg Config, opts Options) *fleet.Builder {
	b := fleet.NewBuilder(opts.Runtime, fleet.Options{
		Secrets:   opts.Secrets,
		Readiness: cfg.Readiness,
		Logger:    opts.Logger,
	})

	b.Add(provision.ServiceDatabase, provision.NewDatabase(cfg.Database))
	b.Add(provision.ServiceBroker, provision.NewBroker(cfg.Broker))
	b.Add(provision.ServiceStorage, provision.NewStorage(cfg.Storage))

	backendDeps := []string{provision.ServiceDatabase}
	if cfg.HasMigrations() {
		b.Add(provision.ServiceMigrations, provision.NewMigrations(cfg.Migrations), provision.ServiceDatabase)
		backendDeps = append(backendDeps, provision.ServiceMigrations)
	}
	b.Add(provision.ServiceBackend, provision.NewBackend(cfg.Backend), backendDeps...)

	for _, rc := range cfg.robots() {
		b.Add(provision.RobotService(robotName(rc)), provision.NewRobot(rc),
			provision.ServiceBackend,
			provision.ServiceBroker,
			provision.ServiceStorage,
		)
	}
	return b
}

// Plan returns the provisioning stages of cfg without starting anything.
func Plan(cfg Config) ([][]string, error) {
	return NewBuilder(cfg, Options{}).Plan()
}

// Deploy builds the environment. On failure everything already started is
// torn down and the error names the failing service.
func Deploy(ctx context.Context, cfg Config, opts Options) (*Armada, error) {
	if opts.Runtime == nil {
		return nil, fmt.Errorf("a container runtime is required")
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}

	env, err := NewBuilder(cfg, opts).Build(ctx)
	if err != nil {
		return nil, err
	}

	a, err := collect(env, cfg)
	if err != nil {
		if tdErr := env.Teardown(ctx); tdErr != nil {
			opts.Logger.Error("error tearing down environment", "error", tdErr)
		}
		return nil, err
	}
	return a, nil
}

func collect(env *fleet.Environment, cfg Config) (*Armada, error) {
	a := &Armada{Env: env, Robots: make(map[string]*provision.Robot)}

	var err error
	if a.Database, err = fleet.Get[*provision.Database](env, provision.ServiceDatabase); err != nil {
		return nil, err
	}
	if cfg.HasMigrations() {
		if a.Migrations, err = fleet.Get[*provision.Migrations](env, provision.ServiceMigrations); err != nil {
			return nil, err
		}
	}
	if a.Broker, err = fleet.Get[*provision.Broker](env, provision.ServiceBroker); err != nil {
		return nil, err
	}
	if a.Storage, err = fleet.Get[*provision.Storage](env, provision.ServiceStorage); err != nil {
		return nil, err
	}
	if a.Backend, err = fleet.Get[*provision.Backend](env, provision.ServiceBackend); err != nil {
		return nil, err
	}
	for _, rc := range cfg.robots() {
		name := robotName(rc)
		r, err := fleet.Get[*provision.Robot](env, provision.RobotService(name))
		if err != nil {
			return nil, err
		}
		a.Robots[name] = r
		a.RobotNames = append(a.RobotNames, name)
	}
	return a, nil
}

// Robot returns the named robot.
func (a *Armada) Robot(name string) (*provision.Robot, error) {
	r, ok := a.Robots[name]
	if !ok {
		return nil, fmt.Errorf("no robot named %q in environment", name)
	}
	return r, nil
}

// Teardown releases the environment. It is safe to call more than once.
func (a *Armada) Teardown(ctx context.Context) error {
	return a.Env.Teardown(ctx)
}

// LogStartupInfo logs where each service can be reached from the host.
func (a *Armada) LogStartupInfo(logger hclog.Logger) {
	if logger == nil {
		logger = a.Env.Logger()
	}
	logger.Info("armada has been deployed", "run_id", a.Env.ID(), "network", a.Env.Network().Name())

	logPort(logger, "broker", a.Broker.Process, a.Broker.Port)
	logPort(logger, "backend", a.Backend.Process, a.Backend.Port)
	if a.Backend.URL != "" {
		logger.Info("backend url", "url", a.Backend.URL)
	}
	for _, alias := range a.Storage.Aliases {
		e := a.Storage.Emulators[alias]
		logPort(logger, "storage "+alias, e.Process, e.Port)
	}
	for _, name := range a.RobotNames {
		r := a.Robots[name]
		logPort(logger, "robot "+name, r.Process, r.Port)
	}
}

func logPort(logger hclog.Logger, what string, p *container.Process, port int) {
	if p == nil {
		return
	}
	hostPort, err := p.ExposedPort(port)
	if err != nil {
		logger.Warn("exposed port unavailable", "service", what, "error", err)
		return
	}
	logger.Info("exposed port", "service", what, "container_port", port, "host_port", hostPort)
}

func robotName(rc provision.RobotConfig) string {
	if rc.Name == "" {
		return provision.DefaultRobotName
	}
	return rc.Name
}
