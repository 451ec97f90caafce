//go:build integration

package scenario_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/armada/internal/config"
	"github.com/fleetops/armada/pkg/armada"
	"github.com/fleetops/armada/pkg/backend"
	"github.com/fleetops/armada/pkg/container"
	"github.com/fleetops/armada/pkg/scenario"
	"github.com/fleetops/armada/pkg/secrets"
)

// TestSimpleMission_Docker needs Docker and the images named by the usual
// FLOTILLA_*/ISAR_* variables, optionally from a .env file next to the
// test.
func TestSimpleMission_Docker(t *testing.T) {
	fs := afero.NewOsFs()
	env := config.OSEnv{}
	require.NoError(t, config.LoadEnvFile(fs, ".env", env))
	if _, ok := env.Lookup("FLOTILLA_BACKEND_IMAGE"); !ok {
		t.Skip("FLOTILLA_BACKEND_IMAGE is not set")
	}

	cfg := config.Default()
	require.NoError(t, cfg.ApplyEnv(env))
	require.NoError(t, cfg.Validate())

	logger := hclog.New(&hclog.LoggerOptions{Name: "armada-it", Level: hclog.Debug, Output: os.Stderr})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Minute)
	defer cancel()

	a, err := armada.Deploy(ctx, cfg.Armada(), armada.Options{
		Runtime: container.NewDockerRuntime(logger),
		Secrets: secrets.NewMemory(),
		Logger:  logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, a.Teardown(context.Background()))
	})
	a.LogStartupInfo(logger)

	robot, err := a.Robot(cfg.ScenarioRobot())
	require.NoError(t, err)
	em, err := a.Storage.Emulator(cfg.ScenarioStorage())
	require.NoError(t, err)

	d := scenario.ForArmada(a, scenario.Options{Timeout: 5 * time.Minute})
	run, err := d.RunSimpleMission(ctx, scenario.SimpleMission{
		Robot: robot,
		Store: em.Store,
	})
	require.NoError(t, err)
	assert.Equal(t, backend.MissionStatusSuccessful, run.Status)
	assert.NotEmpty(t, run.Tasks)
}
