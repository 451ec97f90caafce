package run

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetops/armada/internal/cmd/base"
	"github.com/fleetops/armada/internal/config"
	"github.com/fleetops/armada/pkg/armada"
	"github.com/fleetops/armada/pkg/scenario"
)

type Command struct {
	*base.Command

	flagMission         string
	flagRobot           string
	flagKeep            bool
	flagTeardownTimeout time.Duration
}

func (c *Command) Synopsis() string {
	return "Start the environment, run one mission end to end and tear down"
}

func (c *Command) Help() string {
	return `Usage: armada run [options]

  Start the environment, schedule a mission on a robot and wait until it
  succeeds, every task has uploaded its inspection data and the robot is
  back home. The environment is torn down afterwards unless -keep is set.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("run", flag.ContinueOnError))
	c.ConfigFlags(f)
	f.StringVar(
		&c.flagMission, "mission", "",
		"Mission source ID to schedule (overrides the scenario block)",
	)
	f.StringVar(
		&c.flagRobot, "robot", "",
		"Robot to schedule the mission on (overrides the scenario block)",
	)
	f.BoolVar(
		&c.flagKeep, "keep", false,
		"Leave the environment running after the mission",
	)
	f.DurationVar(
		&c.flagTeardownTimeout, "teardown-timeout", 2*time.Minute,
		"Time allowed for stopping containers",
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
	if c.flagMission != "" {
		cfg.Scenario.MissionSourceID = c.flagMission
	}
	if c.flagRobot != "" {
		cfg.Scenario.Robot = c.flagRobot
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := c.Deploy(ctx, cfg)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error starting environment: %v", err))
		return 1
	}
	a.LogStartupInfo(c.Log)

	code := 0
	if err := c.mission(ctx, a, cfg); err != nil {
		c.UI.Error(fmt.Sprintf("mission failed: %v", err))
		code = 1
	}

	if c.flagKeep {
		c.UI.Info(fmt.Sprintf("Environment %s left running", a.Env.ID()))
		return code
	}

	tctx, cancel := context.WithTimeout(context.Background(), c.flagTeardownTimeout)
	defer cancel()
	if err := a.Teardown(tctx); err != nil {
		c.UI.Error(fmt.Sprintf("error tearing down environment: %v", err))
		return 1
	}
	return code
}

func (c *Command) mission(ctx context.Context, a *armada.Armada, cfg *config.Config) error {
	robot, err := a.Robot(cfg.ScenarioRobot())
	if err != nil {
		return err
	}
	em, err := a.Storage.Emulator(cfg.ScenarioStorage())
	if err != nil {
		return err
	}

	d := scenario.ForArmada(a, scenario.Options{Timeout: cfg.ScenarioTimeout()})
	run, err := d.RunSimpleMission(ctx, scenario.SimpleMission{
		Robot:           robot,
		Store:           em.Store,
		MissionSourceID: cfg.Scenario.MissionSourceID,
	})
	if err != nil {
		return err
	}

	c.UI.Output(fmt.Sprintf("Mission run %s on %s: %s (%d tasks)", run.ID, robot.Name, run.Status, len(run.Tasks)))
	return nil
}
