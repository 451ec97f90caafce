package armada_test

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/armada/pkg/armada"
	"github.com/fleetops/armada/pkg/backend/backendtest"
	"github.com/fleetops/armada/pkg/container/containertest"
	"github.com/fleetops/armada/pkg/fleet"
	"github.com/fleetops/armada/pkg/provision"
	"github.com/fleetops/armada/pkg/readiness"
)

func listen(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(backendURL string) armada.Config {
	return armada.Config{
		Database: provision.DatabaseConfig{
			Probe: readiness.ProbeFunc(func(ctx context.Context) error { return nil }),
		},
		Migrations: provision.MigrationsConfig{Image: "ghcr.io/equinor/flotilla-migrations:latest"},
		Backend:    provision.BackendConfig{ExternalURL: backendURL},
		Readiness:  readiness.Options{Interval: 10 * time.Millisecond, Timeout: 2 * time.Second},
	}
}

func TestPlan_DefaultGraph(t *testing.T) {
	stages, err := armada.Plan(testConfig(""))
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{provision.ServiceDatabase, provision.ServiceBroker, provision.ServiceStorage},
		{provision.ServiceMigrations},
		{provision.ServiceBackend},
		{"robot:isar_robot"},
	}, stages)
}

func TestPlan_WithoutMigrations(t *testing.T) {
	cfg := testConfig("")
	cfg.Migrations = provision.MigrationsConfig{}
	cfg.Robots = []provision.RobotConfig{{Name: "alpha"}, {Name: "beta"}}

	stages, err := armada.Plan(cfg)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{provision.ServiceDatabase, provision.ServiceBroker, provision.ServiceStorage},
		{provision.ServiceBackend},
		{"robot:alpha", "robot:beta"},
	}, stages)
}

func TestPlan_DuplicateRobot(t *testing.T) {
	cfg := testConfig("")
	cfg.Robots = []provision.RobotConfig{{Name: "alpha"}, {Name: "alpha"}}

	_, err := armada.Plan(cfg)
	var gerr *fleet.GraphError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "robot:alpha", gerr.Service)
}

func TestDeploy_RequiresRuntime(t *testing.T) {
	_, err := armada.Deploy(context.Background(), testConfig(""), armada.Options{})
	assert.Error(t, err)
}

func TestDeploy(t *testing.T) {
	ctx := context.Background()
	srv := backendtest.NewServer(t)
	srv.RegisterRobot("isar_robot", "HUA")

	rt := containertest.NewRuntime()
	rt.ExitCodes["flotilla-migrations"] = 0
	rt.MapPort("flotilla_broker", 1883, listen(t))
	rt.MapPort("azurite", 10000, listen(t))

	a, err := armada.Deploy(ctx, testConfig(srv.URL), armada.Options{Runtime: rt})
	require.NoError(t, err)

	assert.Equal(t, fleet.StateReady, a.Env.State())
	assert.Equal(t, "flotilla-database", a.Database.Alias)
	require.NotNil(t, a.Migrations)
	assert.Equal(t, "container", a.Migrations.Mode)
	assert.Equal(t, "broker", a.Broker.Alias)
	assert.Equal(t, []string{"azurite"}, a.Storage.Aliases)
	assert.Equal(t, srv.URL, a.Backend.URL)
	assert.Equal(t, []string{"isar_robot"}, a.RobotNames)

	robot, err := a.Robot("isar_robot")
	require.NoError(t, err)
	assert.Equal(t, "HUA", robot.InstallationCode)
	_, err = a.Robot("other")
	assert.Error(t, err)

	var buf bytes.Buffer
	a.LogStartupInfo(hclog.New(&hclog.LoggerOptions{Output: &buf}))
	assert.Contains(t, buf.String(), "service=broker")
	assert.Contains(t, buf.String(), "service=\"robot isar_robot\"")

	require.NoError(t, a.Teardown(ctx))
	require.NoError(t, a.Teardown(ctx))
	assert.Equal(t, fleet.StateTornDown, a.Env.State())

	var terminated []string
	for _, e := range rt.Events() {
		if name, ok := strings.CutPrefix(e, "terminate:"); ok {
			terminated = append(terminated, name)
		}
	}
	// The migration job removes itself before teardown starts.
	assert.Equal(t, []string{
		"flotilla-migrations",
		"isar_robot",
		"flotilla_backend",
		"azurite",
		"flotilla_broker",
		"flotilla-database",
	}, terminated)
	events := rt.Events()
	assert.True(t, strings.HasPrefix(events[len(events)-1], "remove-network:"))
}

func TestDeploy_FailureTearsDown(t *testing.T) {
	ctx := context.Background()
	srv := backendtest.NewServer(t)

	rt := containertest.NewRuntime()
	rt.ExitCodes["flotilla-migrations"] = 3
	rt.MapPort("flotilla_broker", 1883, listen(t))
	rt.MapPort("azurite", 10000, listen(t))

	_, err := armada.Deploy(ctx, testConfig(srv.URL), armada.Options{Runtime: rt})
	var perr *provision.ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.ExitCode)

	assert.Nil(t, rt.Container("flotilla_backend"))
	for _, name := range []string{"flotilla-database", "flotilla_broker", "azurite"} {
		c := rt.Container(name)
		require.NotNil(t, c, name)
		assert.Equal(t, 1, c.Terminations(), name)
	}
}
