package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetops/armada/internal/migrate"
	"github.com/fleetops/armada/pkg/fleet"
)

const logTailLines = 20

type MigrationsConfig struct {
	// Image runs migrations in a one-shot container. When empty, SourceDir
	// is applied from the host instead.
	Image string
	Name  string
	Env   map[string]string

	// ConnectionEnv is the variable the runner reads its connection string
	// from.
	ConnectionEnv string

	// SourceDir holds golang-migrate files for host-side migrations.
	SourceDir string

	Timeout time.Duration // Bound on the runner (default: 5m)
}

func (c MigrationsConfig) withDefaults() MigrationsConfig {
	c.Name = orDefault(c.Name, "flotilla-migrations")
	c.ConnectionEnv = orDefault(c.ConnectionEnv, "ConnectionStrings__PostgreSqlConnection")
	c.Timeout = orDefault(c.Timeout, 5*time.Minute)
	return c
}

// Migrations records a completed migration run.
type Migrations struct {
	Mode     string // "container" or "embedded"
	ExitCode int
}

// NewMigrations provisions the one-shot migration job. It depends on the
// database. Its container is removed when the job ends and is never part of
// the environment teardown.
func NewMigrations(cfg MigrationsConfig) fleet.Provisioner {
	cfg = cfg.withDefaults()
	return fleet.ProvisionerFunc(func(ctx context.Context, scope *fleet.Scope) (interface{}, error) {
		switch {
		case cfg.Image != "":
			return runMigrationContainer(ctx, scope, cfg)
		case cfg.SourceDir != "":
			return runEmbeddedMigrations(ctx, scope, cfg)
		default:
			return nil, errors.New("migrations need either an image or a source directory")
		}
	})
}

func runMigrationContainer(ctx context.Context, scope *fleet.Scope, cfg MigrationsConfig) (*Migrations, error) {
	conn, err := scope.Secrets().GetSecret(ctx, DatabaseConnectionSecret)
	if err != nil {
		return nil, fmt.Errorf("error reading database connection string: %w", err)
	}

	d := Descriptor{
		Kind:       ServiceMigrations,
		Name:       cfg.Name,
		Image:      cfg.Image,
		Alias:      cfg.Name,
		Env:        cfg.Env,
		StreamLogs: true,
	}.WithEnv(map[string]string{cfg.ConnectionEnv: conn})

	p := newProcess(scope, d)
	defer func() {
		if err := p.Stop(context.WithoutCancel(ctx)); err != nil {
			scope.Logger().Warn("error removing migration container", "name", cfg.Name, "error", err)
		}
	}()

	if err := start(ctx, scope, p, d); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	code, err := p.WaitForExit(waitCtx)
	if err != nil {
		return nil, fmt.Errorf("error waiting for migrations: %w", err)
	}
	if code != 0 {
		lines, logErr := p.Logs(ctx)
		if logErr != nil {
			scope.Logger().Warn("error reading migration logs", "error", logErr)
		}
		return nil, &ProvisioningError{
			Service:  scope.Name(),
			ExitCode: code,
			LogTail:  tail(lines, logTailLines),
		}
	}

	scope.Logger().Info("migrations completed successfully")
	return &Migrations{Mode: "container"}, nil
}

func runEmbeddedMigrations(ctx context.Context, scope *fleet.Scope, cfg MigrationsConfig) (*Migrations, error) {
	db, err := fleet.Lookup[*Database](scope, ServiceDatabase)
	if err != nil {
		return nil, err
	}
	dsn, err := db.HostURL()
	if err != nil {
		return nil, err
	}
	if err := migrate.RunDir(ctx, dsn, cfg.SourceDir, scope.Logger()); err != nil {
		return nil, fmt.Errorf("error applying migrations from %s: %w", cfg.SourceDir, err)
	}
	return &Migrations{Mode: "embedded"}, nil
}
