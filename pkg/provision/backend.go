package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetops/armada/pkg/backend"
	"github.com/fleetops/armada/pkg/container"
	"github.com/fleetops/armada/pkg/fleet"
	"github.com/fleetops/armada/pkg/readiness"
)

type BackendConfig struct {
	Image string
	Name  string
	Alias string
	Port  int
	Env   map[string]string

	// ConnectionEnv is the variable the backend reads its database
	// connection string from.
	ConnectionEnv string

	// Seed is created once the backend answers. Nil means DefaultSeed.
	Seed *backend.Seed

	RequestTimeout time.Duration
	Tokens         backend.TokenProvider

	// ExternalURL, if set, is used to reach the backend instead of its
	// mapped port.
	ExternalURL string
}

func (c BackendConfig) withDefaults() BackendConfig {
	c.Image = orDefault(c.Image, "ghcr.io/equinor/flotilla-backend:latest")
	c.Name = orDefault(c.Name, "flotilla_backend")
	c.Alias = orDefault(c.Alias, "backend")
	c.Port = orDefault(c.Port, 8000)
	c.ConnectionEnv = orDefault(c.ConnectionEnv, "ConnectionStrings__PostgreSqlConnection")
	if c.Seed == nil {
		seed := backend.DefaultSeed()
		c.Seed = &seed
	}
	return c
}

// Backend is the running backend API.
type Backend struct {
	Name    string
	Alias   string
	Port    int
	URL     string // Reachable from the host
	Client  *backend.Client
	Process *container.Process
}

// NewBackend provisions the backend. It depends on the database (and its
// migrations). Readiness is two-phase: the status endpoint must list robot
// models, then the seed is created and every seeded collection must be
// populated.
func NewBackend(cfg BackendConfig) fleet.Provisioner {
	cfg = cfg.withDefaults()
	return fleet.ProvisionerFunc(func(ctx context.Context, scope *fleet.Scope) (interface{}, error) {
		conn, err := scope.Secrets().GetSecret(ctx, DatabaseConnectionSecret)
		if err != nil {
			return nil, fmt.Errorf("error reading database connection string: %w", err)
		}

		d := Descriptor{
			Kind:       ServiceBackend,
			Name:       cfg.Name,
			Image:      cfg.Image,
			Alias:      cfg.Alias,
			Port:       cfg.Port,
			Env:        cfg.Env,
			StreamLogs: true,
		}.WithEnv(map[string]string{cfg.ConnectionEnv: conn})

		b := &Backend{Name: cfg.Name, Alias: cfg.Alias, Port: cfg.Port}
		p, err := launch(ctx, scope, d, func(p *container.Process) (readiness.Probe, error) {
			b.URL = cfg.ExternalURL
			if b.URL == "" {
				u, err := endpointURL(p, cfg.Port)
				if err != nil {
					return nil, err
				}
				b.URL = u
			}
			b.Client = backend.NewClient(backend.Config{
				BaseURL: b.URL,
				Timeout: cfg.RequestTimeout,
				Tokens:  cfg.Tokens,
				Logger:  scope.Logger(),
			})
			return readiness.NonEmpty("robot models", func(ctx context.Context) (int, error) {
				return b.Client.Count(ctx, "robot-models")
			}), nil
		})
		if err != nil {
			return nil, err
		}
		b.Process = p
		scope.Logger().Info("backend is responsive", "url", b.URL)

		if err := b.Client.Seed(ctx, *cfg.Seed); err != nil {
			return nil, fmt.Errorf("error seeding backend: %w", err)
		}

		if err := readiness.Poll(ctx, cfg.Name+" seed", seededProbe(b.Client, *cfg.Seed), scope.Readiness()); err != nil {
			return nil, err
		}
		return b, nil
	})
}

// seededProbe passes once every seeded collection lists at least as many
// items as were created.
func seededProbe(client *backend.Client, seed backend.Seed) readiness.Probe {
	return readiness.ProbeFunc(func(ctx context.Context) error {
		return client.CheckSeeded(ctx, seed)
	})
}
