package plan

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/armada/internal/cmd/base"
	"github.com/fleetops/armada/internal/config"
)

func newCommand(fs afero.Fs, env map[string]string) (*Command, *cli.MockUi) {
	ui := cli.NewMockUi()
	return &Command{Command: &base.Command{
		Log: hclog.NewNullLogger(),
		UI:  ui,
		Fs:  fs,
		Env: config.NewMapEnv(env),
	}}, ui
}

func TestPlan_Defaults(t *testing.T) {
	c, ui := newCommand(afero.NewMemMapFs(), nil)

	require.Equal(t, 0, c.Run(nil), ui.ErrorWriter.String())
	assert.Equal(t,
		"1: database, broker, storage\n2: backend\n3: robot:isar_robot\n",
		ui.OutputWriter.String())
}

func TestPlan_MigrationsAndRobots(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/armada.hcl", []byte(`
migrations {
  image = "ghcr.io/equinor/flotilla-migrations:latest"
}
robot "alpha" {}
robot "beta" {}
`), 0o644))
	c, ui := newCommand(fs, nil)

	require.Equal(t, 0, c.Run([]string{"-config", "/armada.hcl"}), ui.ErrorWriter.String())
	assert.Equal(t,
		"1: database, broker, storage\n2: migrations\n3: backend\n4: robot:alpha, robot:beta\n",
		ui.OutputWriter.String())
}

func TestPlan_InvalidConfig(t *testing.T) {
	c, ui := newCommand(afero.NewMemMapFs(), map[string]string{"FLOTILLA_BROKER_PORT": "many"})

	assert.Equal(t, 1, c.Run(nil))
	assert.Contains(t, ui.ErrorWriter.String(), "FLOTILLA_BROKER_PORT")
}

func TestPlan_BadFlag(t *testing.T) {
	c, ui := newCommand(afero.NewMemMapFs(), nil)

	assert.Equal(t, 1, c.Run([]string{"-nope"}))
	assert.Contains(t, ui.ErrorWriter.String(), "error parsing flags")
}
