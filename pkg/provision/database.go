package provision

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/fleetops/armada/pkg/container"
	"github.com/fleetops/armada/pkg/fleet"
	"github.com/fleetops/armada/pkg/readiness"
)

// DatabaseConnectionSecret is the secret the database connection string is
// published under.
const DatabaseConnectionSecret = "flotilla-database-connection-string"

const postgresPort = 5432

type DatabaseConfig struct {
	Image    string
	Name     string // Container name (default: Alias)
	Alias    string
	User     string
	Password string
	Database string // Database name (default: Alias)
	Reuse    bool

	// Probe replaces the default "SELECT 1" readiness check.
	Probe readiness.Probe
}

func (c DatabaseConfig) withDefaults() DatabaseConfig {
	c.Image = orDefault(c.Image, "postgres:16")
	c.Alias = orDefault(c.Alias, "flotilla-database")
	c.Name = orDefault(c.Name, c.Alias)
	c.User = orDefault(c.User, "postgres")
	c.Password = orDefault(c.Password, "postgres")
	c.Database = orDefault(c.Database, c.Alias)
	return c
}

// Database is a running PostgreSQL instance.
type Database struct {
	Alias    string
	Port     int
	User     string
	Password string
	Name     string

	// ConnectionString is valid inside the environment network.
	ConnectionString string

	Process *container.Process
}

// ConnectionString formats the key/value connection string the backend and
// migration runner consume.
func ConnectionString(host string, port int, user, password, database string) string {
	return "Host=" + host + ";" +
		"Port=" + strconv.Itoa(port) + ";" +
		"Username=" + user + ";" +
		"Password=" + password + ";" +
		"Database=" + database + ";" +
		"SSL Mode=Disable;"
}

// HostURL returns a postgres:// URL reachable from the host.
func (d *Database) HostURL() (string, error) {
	endpoint, err := d.Process.Endpoint(postgresPort)
	if err != nil {
		return "", err
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     endpoint,
		Path:     "/" + d.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String(), nil
}

// NewDatabase provisions PostgreSQL and publishes its connection string.
func NewDatabase(cfg DatabaseConfig) fleet.Provisioner {
	cfg = cfg.withDefaults()
	return fleet.ProvisionerFunc(func(ctx context.Context, scope *fleet.Scope) (interface{}, error) {
		db := &Database{
			Alias:    cfg.Alias,
			Port:     postgresPort,
			User:     cfg.User,
			Password: cfg.Password,
			Name:     cfg.Database,
		}
		db.ConnectionString = ConnectionString(cfg.Alias, postgresPort, cfg.User, cfg.Password, cfg.Database)

		d := Descriptor{
			Kind:  ServiceDatabase,
			Name:  cfg.Name,
			Image: cfg.Image,
			Alias: cfg.Alias,
			Port:  postgresPort,
			Reuse: cfg.Reuse,
			Customizers: []testcontainers.ContainerCustomizer{
				postgres.WithDatabase(cfg.Database),
				postgres.WithUsername(cfg.User),
				postgres.WithPassword(cfg.Password),
			},
		}

		p, err := launch(ctx, scope, d, func(p *container.Process) (readiness.Probe, error) {
			db.Process = p
			if cfg.Probe != nil {
				return cfg.Probe, nil
			}
			hostURL, err := db.HostURL()
			if err != nil {
				return nil, err
			}
			return readiness.Postgres(hostURL), nil
		})
		if err != nil {
			return nil, err
		}
		db.Process = p

		hostPort, err := p.ExposedPort(postgresPort)
		if err != nil {
			return nil, &ProvisioningError{Service: cfg.Name, Err: err}
		}

		if err := scope.Secrets().SetSecret(ctx, DatabaseConnectionSecret, db.ConnectionString); err != nil {
			return nil, fmt.Errorf("error publishing database connection string: %w", err)
		}

		scope.Logger().Info("database ready", "alias", cfg.Alias, "host_port", hostPort)
		return db, nil
	})
}
