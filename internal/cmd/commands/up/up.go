package up

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetops/armada/internal/cmd/base"
)

type Command struct {
	*base.Command

	flagTeardownTimeout time.Duration
}

func (c *Command) Synopsis() string {
	return "Start the environment and keep it running until interrupted"
}

func (c *Command) Help() string {
	return `Usage: armada up [options]

  Start the database, migrations, broker, storage emulators, backend and
  robots, print where each one is reachable and wait. On interrupt every
  container is stopped and the network removed.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("up", flag.ContinueOnError))
	c.ConfigFlags(f)
	f.DurationVar(
		&c.flagTeardownTimeout, "teardown-timeout", 2*time.Minute,
		"Time allowed for stopping containers after an interrupt",
	)
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := c.Deploy(ctx, cfg)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error starting environment: %v", err))
		return 1
	}

	a.LogStartupInfo(c.Log)
	c.UI.Output(fmt.Sprintf("Environment %s is up", a.Env.ID()))
	c.ReportSecrets(a)
	c.UI.Info("Press Ctrl-C to tear down")

	<-ctx.Done()
	c.UI.Info("Tearing down")

	tctx, cancel := context.WithTimeout(context.Background(), c.flagTeardownTimeout)
	defer cancel()
	if err := a.Teardown(tctx); err != nil {
		c.UI.Error(fmt.Sprintf("error tearing down environment: %v", err))
		return 1
	}
	return 0
}
