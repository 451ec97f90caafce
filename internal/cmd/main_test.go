package cmd

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"

	"github.com/fleetops/armada/internal/cmd/base"
	"github.com/fleetops/armada/internal/config"
)

func newBase() (*base.Command, *cli.MockUi) {
	ui := cli.NewMockUi()
	return &base.Command{
		Log: hclog.NewNullLogger(),
		UI:  ui,
		Fs:  afero.NewMemMapFs(),
		Env: config.NewMapEnv(nil),
	}, ui
}

func TestRun_VersionFlag(t *testing.T) {
	for _, arg := range []string{"-version", "-v", "version"} {
		t.Run(arg, func(t *testing.T) {
			b, ui := newBase()
			assert.Equal(t, 0, Run("armada", []string{arg}, b))
			assert.Contains(t, ui.OutputWriter.String(), "armada v")
		})
	}
}

func TestRun_Plan(t *testing.T) {
	b, ui := newBase()
	assert.Equal(t, 0, Run("armada", []string{"plan"}, b))
	assert.Contains(t, ui.OutputWriter.String(), "robot:isar_robot")
}

func TestCommands(t *testing.T) {
	b, _ := newBase()
	cmds := Commands(b)
	for _, name := range []string{"up", "run", "plan", "version"} {
		factory, ok := cmds[name]
		if assert.True(t, ok, name) {
			c, err := factory()
			assert.NoError(t, err)
			assert.NotEmpty(t, c.Synopsis())
		}
	}
}
