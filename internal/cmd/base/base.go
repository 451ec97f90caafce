// Package base holds what every armada subcommand shares: the logger, the
// UI and the path from flags to a deployed environment.
package base

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"

	"github.com/fleetops/armada/internal/config"
	"github.com/fleetops/armada/pkg/armada"
	"github.com/fleetops/armada/pkg/auth"
	"github.com/fleetops/armada/pkg/container"
	"github.com/fleetops/armada/pkg/secrets"
)

type Command struct {
	Log hclog.Logger
	UI  cli.Ui

	// Fs is where configuration files are read from. Nil means the OS
	// filesystem.
	Fs afero.Fs
	// Env is the variable source. Nil means the process environment.
	Env config.Env
	// Runtime runs containers. Nil means Docker.
	Runtime container.Runtime

	FlagConfig  string
	FlagEnvFile string
}

// ConfigFlags registers the flags that select configuration.
func (c *Command) ConfigFlags(f *FlagSet) {
	f.StringVar(
		&c.FlagConfig, "config", "",
		"[ARMADA_CONFIG] Path to the HCL configuration file",
	)
	f.StringVar(
		&c.FlagEnvFile, "env-file", ".env",
		"Path to a .env file; variables already set are kept",
	)
}

// LoadConfig reads configuration in increasing order of precedence: the
// HCL file, the .env file, then the environment. It also applies the
// configured log level.
func (c *Command) LoadConfig() (*config.Config, error) {
	fs := c.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	env := c.Env
	if env == nil {
		env = config.OSEnv{}
	}

	if c.FlagEnvFile != "" {
		if err := config.LoadEnvFile(fs, c.FlagEnvFile, env); err != nil {
			return nil, err
		}
	}

	path := c.FlagConfig
	if v, ok := env.Lookup("ARMADA_CONFIG"); ok && path == "" {
		path = v
	}
	cfg, err := config.Load(fs, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(env); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if lvl := hclog.LevelFromString(cfg.LogLevel); lvl != hclog.NoLevel {
		c.Log.SetLevel(lvl)
	}
	return cfg, nil
}

// Options builds the deployment collaborators for cfg: Key Vault or
// in-memory secrets, the container runtime, and backend tokens when
// authentication is configured.
func (c *Command) Options(cfg *config.Config) (armada.Config, armada.Options, error) {
	ac := cfg.Armada()
	opts := armada.Options{Runtime: c.Runtime, Logger: c.Log}

	if cfg.UsesKeyVault() {
		kv, err := secrets.NewKeyVault(cfg.KeyVaultConfig(), c.Log)
		if err != nil {
			return ac, opts, fmt.Errorf("error creating key vault client: %w", err)
		}
		opts.Secrets = kv
	} else {
		opts.Secrets = secrets.NewMemory()
	}

	if cfg.UsesAuth() {
		ac.Backend.Tokens = auth.New(cfg.AuthConfig(), c.Log)
	}

	if opts.Runtime == nil {
		opts.Runtime = container.NewDockerRuntime(c.Log)
	}
	return ac, opts, nil
}

// Deploy brings up the environment described by cfg.
func (c *Command) Deploy(ctx context.Context, cfg *config.Config) (*armada.Armada, error) {
	ac, opts, err := c.Options(cfg)
	if err != nil {
		return nil, err
	}
	return armada.Deploy(ctx, ac, opts)
}

// ReportSecrets prints the names of secrets written during deployment
// and the service that wrote each. Values are never printed.
func (c *Command) ReportSecrets(a *armada.Armada) {
	for _, s := range a.Env.Secrets().Written() {
		c.UI.Output(fmt.Sprintf("  secret %s (from %s)", s.Name, s.Provenance))
	}
}
