package base

import (
	"flag"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/armada/internal/config"
	"github.com/fleetops/armada/pkg/auth"
	"github.com/fleetops/armada/pkg/container/containertest"
	"github.com/fleetops/armada/pkg/secrets"
)

func newCommand(t *testing.T, fs afero.Fs, env config.Env) *Command {
	t.Helper()
	return &Command{
		Log: hclog.New(&hclog.LoggerOptions{Level: hclog.Info}),
		UI:  cli.NewMockUi(),
		Fs:  fs,
		Env: env,
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/armada.hcl", []byte(`
log_level = "debug"
database {
  alias = "from-file"
  user  = "file-user"
  image = "postgres:16"
}
`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/.env", []byte("DB_ALIAS=from-dotenv\nDB_USER=dotenv-user\n"), 0o644))

	env := config.NewMapEnv(map[string]string{
		"ARMADA_CONFIG": "/armada.hcl",
		"DB_USER":       "env-user",
	})
	c := newCommand(t, fs, env)
	c.FlagEnvFile = "/.env"

	cfg, err := c.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres:16", cfg.Database.Image)
	assert.Equal(t, "from-dotenv", cfg.Database.Alias)
	assert.Equal(t, "env-user", cfg.Database.User)
	assert.True(t, c.Log.IsDebug())
}

func TestLoadConfig_FlagWinsOverEnv(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/a.hcl", []byte(`database { alias = "a" }`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/b.hcl", []byte(`database { alias = "b" }`), 0o644))

	c := newCommand(t, fs, config.NewMapEnv(map[string]string{"ARMADA_CONFIG": "/b.hcl"}))
	c.FlagConfig = "/a.hcl"

	cfg, err := c.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "a", cfg.Database.Alias)
}

func TestLoadConfig_Invalid(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/armada.hcl", []byte(`
robot "isar" {
  task_failure_probability = 2
}
`), 0o644))

	c := newCommand(t, fs, config.NewMapEnv(nil))
	c.FlagConfig = "/armada.hcl"

	_, err := c.LoadConfig()
	assert.ErrorContains(t, err, "invalid configuration")

	c.FlagConfig = "/missing.hcl"
	_, err = c.LoadConfig()
	assert.ErrorContains(t, err, "error reading config file")
}

func TestOptions(t *testing.T) {
	rt := containertest.NewRuntime()
	c := newCommand(t, afero.NewMemMapFs(), config.NewMapEnv(nil))
	c.Runtime = rt

	cfg := config.Default()
	ac, opts, err := c.Options(cfg)
	require.NoError(t, err)
	assert.Same(t, rt, opts.Runtime)
	assert.IsType(t, &secrets.Memory{}, opts.Secrets)
	assert.Nil(t, ac.Backend.Tokens)

	cfg.Auth.ClientID = "it-app"
	cfg.Auth.TenantID = "tenant"
	cfg.Auth.Audience = "backend-app"
	ac, _, err = c.Options(cfg)
	require.NoError(t, err)
	assert.IsType(t, &auth.Authenticator{}, ac.Backend.Tokens)
}

func TestFlagSet_Help(t *testing.T) {
	c := &Command{}
	f := NewFlagSet(flag.NewFlagSet("test", flag.ContinueOnError))
	c.ConfigFlags(f)

	help := f.Help()
	assert.Contains(t, help, "Options:")
	assert.Contains(t, help, "-config\n")
	assert.Contains(t, help, "[ARMADA_CONFIG]")
	assert.Contains(t, help, "-env-file=.env")

	assert.Empty(t, NewFlagSet(flag.NewFlagSet("empty", flag.ContinueOnError)).Help())
}
