// Package migrate applies golang-migrate schema files to the environment
// database from the host.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/hashicorp/go-hclog"
	_ "github.com/lib/pq"
)

// RunDir applies every pending migration found in dir.
func RunDir(ctx context.Context, dsn, dir string, logger hclog.Logger) error {
	if dir == "" {
		return errors.New("migration source directory is required")
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("failed to read migration source: %w", err)
	}
	return Run(ctx, dsn, os.DirFS(dir), ".", logger)
}

// Run applies every pending migration under path in fsys. It returns nil if
// the schema is already current.
func Run(ctx context.Context, dsn string, fsys fs.FS, path string, logger hclog.Logger) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	m, closeFn, err := open(ctx, dsn, fsys, path)
	if err != nil {
		return err
	}
	defer closeFn()
	m.Log = &logAdapter{logger: logger.Named("migrate")}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	before, _, _ := version(m)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if ctx.Err() != nil {
			return fmt.Errorf("migration interrupted: %w", ctx.Err())
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	after, dirty, err := version(m)
	if err != nil {
		return err
	}

	logger.Info("migrations applied", "from_version", before, "version", after, "dirty", dirty)
	return nil
}

// Version returns the current schema version of the database at dsn.
func Version(ctx context.Context, dsn string, fsys fs.FS, path string) (uint, bool, error) {
	m, closeFn, err := open(ctx, dsn, fsys, path)
	if err != nil {
		return 0, false, err
	}
	defer closeFn()
	return version(m)
}

func open(ctx context.Context, dsn string, fsys fs.FS, path string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to reach database: %w", err)
	}

	sourceDriver, err := iofs.New(fsys, path)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to load migration source: %w", err)
	}

	databaseDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", databaseDriver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	closeFn := func() {
		m.Close()
	}
	return m, closeFn, nil
}

// version treats an unmigrated database as version 0.
func version(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read migration version: %w", err)
	}
	return v, dirty, nil
}

// logAdapter routes golang-migrate output to hclog.
type logAdapter struct {
	logger hclog.Logger
}

func (l *logAdapter) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *logAdapter) Verbose() bool {
	return l.logger.IsDebug()
}
