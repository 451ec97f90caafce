package version

import (
	"github.com/fleetops/armada/internal/cmd/base"
	"github.com/fleetops/armada/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the armada version"
}

func (c *Command) Help() string {
	return "Usage: armada version"
}

func (c *Command) Run(args []string) int {
	c.UI.Output(version.String())
	return 0
}
