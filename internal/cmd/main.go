package cmd

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/fleetops/armada/internal/cmd/base"
	"github.com/fleetops/armada/internal/version"
)

// defaultCommand runs when armada is started without a subcommand.
const defaultCommand = "up"

// Main runs the CLI with the given arguments and returns the exit code.
func Main(args []string) int {
	name := filepath.Base(args[0])

	log := hclog.New(&hclog.LoggerOptions{
		Name:  name,
		Level: hclog.LevelFromString(os.Getenv("ARMADA_LOG_LEVEL")),
	})
	ui := &cli.BasicUi{
		Reader:      bufio.NewReader(os.Stdin),
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	return Run(name, args[1:], &base.Command{Log: log, UI: ui})
}

// Run dispatches args to the armada subcommands sharing b.
func Run(name string, args []string, b *base.Command) int {
	switch {
	case len(args) == 0:
		args = []string{defaultCommand}
	case len(args) == 1 && (args[0] == "-version" || args[0] == "-v"):
		args = []string{"version"}
	}

	c := &cli.CLI{
		Name:     name,
		Args:     args,
		Version:  version.String(),
		Commands: Commands(b),
	}

	code, err := c.Run()
	if err != nil {
		b.Log.Error("error running command", "command", args[0], "error", err)
		return 1
	}
	return code
}
