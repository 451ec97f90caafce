package version

import (
	"testing"

	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/assert"

	"github.com/fleetops/armada/internal/cmd/base"
)

func TestVersion(t *testing.T) {
	ui := cli.NewMockUi()
	c := &Command{Command: &base.Command{UI: ui}}

	assert.Equal(t, 0, c.Run(nil))
	assert.Contains(t, ui.OutputWriter.String(), "armada v")
}
