package main

import (
	"os"

	"github.com/fleetops/armada/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
