package provision

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fleetops/armada/pkg/blob"
	"github.com/fleetops/armada/pkg/container"
	"github.com/fleetops/armada/pkg/fleet"
	"github.com/fleetops/armada/pkg/readiness"
)

// Storage emulator flavours.
const (
	FlavorAzurite = "azurite"
	FlavorMinIO   = "minio"
)

// DefaultAzuriteKey is the well-known Azurite development account key.
const DefaultAzuriteKey = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="

// EmulatorConfig is one storage emulator, named by its network alias.
type EmulatorConfig struct {
	Alias string
	// Secret, if set, receives the in-network connection string.
	Secret string
}

type StorageConfig struct {
	Flavor  string // "azurite" (default) or "minio"
	Image   string
	Account string // Account name (azurite) or root user (minio)
	Key     string // Account key (azurite) or root password (minio)
	Port    int

	Emulators []EmulatorConfig

	// Containers are created in every emulator once it is ready.
	Containers []string
}

func (c StorageConfig) withDefaults() StorageConfig {
	c.Flavor = orDefault(c.Flavor, FlavorAzurite)
	switch c.Flavor {
	case FlavorMinIO:
		c.Image = orDefault(c.Image, "minio/minio:latest")
		c.Account = orDefault(c.Account, "minioadmin")
		c.Key = orDefault(c.Key, "minioadmin")
		c.Port = orDefault(c.Port, 9000)
	default:
		c.Image = orDefault(c.Image, "mcr.microsoft.com/azure-storage/azurite:latest")
		c.Account = orDefault(c.Account, "devstoreaccount1")
		c.Key = orDefault(c.Key, DefaultAzuriteKey)
		c.Port = orDefault(c.Port, 10000)
	}
	if len(c.Emulators) == 0 {
		c.Emulators = []EmulatorConfig{{Alias: "azurite"}}
	}
	return c
}

// Emulator is one running storage emulator.
type Emulator struct {
	Alias string
	Port  int

	// DockerConnectionString is valid inside the environment network.
	DockerConnectionString string
	// HostConnectionString is valid from the host.
	HostConnectionString string

	Store   blob.Store
	Process *container.Process
}

// Storage is the set of storage emulators, keyed by alias.
type Storage struct {
	Flavor    string
	Account   string
	Emulators map[string]*Emulator
	Aliases   []string // In provisioning order
}

// Emulator returns the emulator with the given alias.
func (s *Storage) Emulator(alias string) (*Emulator, error) {
	e, ok := s.Emulators[alias]
	if !ok {
		return nil, fmt.Errorf("no storage emulator with alias %q", alias)
	}
	return e, nil
}

// NewStorage provisions one emulator per configured alias.
func NewStorage(cfg StorageConfig) fleet.Provisioner {
	cfg = cfg.withDefaults()
	return fleet.ProvisionerFunc(func(ctx context.Context, scope *fleet.Scope) (interface{}, error) {
		storage := &Storage{
			Flavor:    cfg.Flavor,
			Account:   cfg.Account,
			Emulators: make(map[string]*Emulator, len(cfg.Emulators)),
		}

		for _, ec := range cfg.Emulators {
			e, err := provisionEmulator(ctx, scope, cfg, ec)
			if err != nil {
				return nil, fmt.Errorf("storage emulator %s: %w", ec.Alias, err)
			}
			storage.Emulators[ec.Alias] = e
			storage.Aliases = append(storage.Aliases, ec.Alias)
		}
		return storage, nil
	})
}

func provisionEmulator(ctx context.Context, scope *fleet.Scope, cfg StorageConfig, ec EmulatorConfig) (*Emulator, error) {
	d := Descriptor{
		Kind:  ServiceStorage,
		Name:  ec.Alias,
		Image: cfg.Image,
		Alias: ec.Alias,
		Port:  cfg.Port,
	}
	switch cfg.Flavor {
	case FlavorMinIO:
		d.Cmd = []string{"server", "/data", "--address", ":" + strconv.Itoa(cfg.Port)}
		d = d.WithEnv(map[string]string{
			"MINIO_ROOT_USER":     cfg.Account,
			"MINIO_ROOT_PASSWORD": cfg.Key,
		})
	default:
		d.Cmd = []string{
			"azurite",
			"--blobHost", "0.0.0.0",
			"--queueHost", "0.0.0.0",
			"--tableHost", "0.0.0.0",
			"--skipApiVersionCheck",
		}
	}

	p, err := launch(ctx, scope, d, func(p *container.Process) (readiness.Probe, error) {
		endpoint, err := p.Endpoint(cfg.Port)
		if err != nil {
			return nil, err
		}
		if cfg.Flavor == FlavorMinIO {
			return readiness.HTTPStatus(nil, "http://"+endpoint+"/minio/health/live"), nil
		}
		return readiness.TCP(endpoint), nil
	})
	if err != nil {
		return nil, err
	}

	e := &Emulator{Alias: ec.Alias, Port: cfg.Port, Process: p}
	host, err := p.Host()
	if err != nil {
		return nil, err
	}
	hostPort, err := p.ExposedPort(cfg.Port)
	if err != nil {
		return nil, err
	}

	switch cfg.Flavor {
	case FlavorMinIO:
		e.DockerConnectionString = "http://" + ec.Alias + ":" + strconv.Itoa(cfg.Port)
		e.HostConnectionString = "http://" + host + ":" + strconv.Itoa(hostPort)
		e.Store, err = blob.NewS3Store(ctx, blob.S3Config{
			Endpoint:  e.HostConnectionString,
			AccessKey: cfg.Account,
			SecretKey: cfg.Key,
		}, scope.Logger())
	default:
		e.DockerConnectionString = blob.AzuriteConnectionString(cfg.Account, cfg.Key, ec.Alias, cfg.Port)
		e.HostConnectionString = blob.AzuriteConnectionString(cfg.Account, cfg.Key, host, hostPort)
		e.Store, err = blob.NewAzureStore(e.HostConnectionString, scope.Logger())
	}
	if err != nil {
		return nil, err
	}

	if ec.Secret != "" {
		if err := scope.Secrets().SetSecret(ctx, ec.Secret, e.DockerConnectionString); err != nil {
			return nil, fmt.Errorf("error publishing connection string: %w", err)
		}
	}

	if len(cfg.Containers) > 0 {
		if err := e.Store.EnsureContainers(ctx, cfg.Containers...); err != nil {
			return nil, err
		}
	}

	scope.Logger().Info("storage emulator ready", "alias", ec.Alias, "host_port", hostPort)
	return e, nil
}
