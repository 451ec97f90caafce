package plan

import (
	"flag"
	"fmt"
	"strings"

	"github.com/fleetops/armada/internal/cmd/base"
	"github.com/fleetops/armada/pkg/armada"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the order services would be started in"
}

func (c *Command) Help() string {
	return `Usage: armada plan [options]

  Validate the configuration and print the startup stages. Services in the
  same stage start concurrently. No containers are started.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("plan", flag.ContinueOnError))
	c.ConfigFlags(f)
	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		c.UI.Error(fmt.Sprintf("error loading configuration: %v", err))
		return 1
	}

	stages, err := armada.Plan(cfg.Armada())
	if err != nil {
		c.UI.Error(fmt.Sprintf("error planning environment: %v", err))
		return 1
	}
	for i, stage := range stages {
		c.UI.Output(fmt.Sprintf("%d: %s", i+1, strings.Join(stage, ", ")))
	}
	return 0
}
