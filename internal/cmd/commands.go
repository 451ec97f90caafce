package cmd

import (
	"github.com/mitchellh/cli"

	"github.com/fleetops/armada/internal/cmd/base"
	"github.com/fleetops/armada/internal/cmd/commands/plan"
	"github.com/fleetops/armada/internal/cmd/commands/run"
	"github.com/fleetops/armada/internal/cmd/commands/up"
	"github.com/fleetops/armada/internal/cmd/commands/version"
)

// Commands returns the armada subcommands, all sharing b.
func Commands(b *base.Command) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"up": func() (cli.Command, error) {
			return &up.Command{Command: b}, nil
		},
		"run": func() (cli.Command, error) {
			return &run.Command{Command: b}, nil
		},
		"plan": func() (cli.Command, error) {
			return &plan.Command{Command: b}, nil
		},
		"version": func() (cli.Command, error) {
			return &version.Command{Command: b}, nil
		},
	}
}
