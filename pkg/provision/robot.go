package provision

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/fleetops/armada/pkg/backend"
	"github.com/fleetops/armada/pkg/container"
	"github.com/fleetops/armada/pkg/fleet"
	"github.com/fleetops/armada/pkg/readiness"
)

// DefaultRobotName is the robot provisioned when no name is configured.
const DefaultRobotName = "isar_robot"

type RobotConfig struct {
	Name  string // Robot name as registered in the backend; also the container name
	Image string
	Alias string
	Port  int

	// Plant and blob settings the robot reports and uploads under.
	PlantCode      string
	PlantShortName string
	BlobContainer  string

	KeyVaultName      string
	MQTTPassword      string
	AzureClientID     string
	AzureClientSecret string
	AzureTenantID     string

	// Simulation knobs.
	ShouldFailNormalTask   bool
	TaskFailureProbability float64
	MissionCompletionDelay int // Seconds

	Env map[string]string
}

func (c RobotConfig) withDefaults() RobotConfig {
	c.Name = orDefault(c.Name, DefaultRobotName)
	c.Image = orDefault(c.Image, "ghcr.io/equinor/isar-robot:latest")
	c.Alias = orDefault(c.Alias, c.Name)
	c.Port = orDefault(c.Port, 3000)
	c.PlantCode = orDefault(c.PlantCode, "Huldra")
	c.PlantShortName = orDefault(c.PlantShortName, "HUA")
	c.BlobContainer = orDefault(c.BlobContainer, "hua")
	c.MissionCompletionDelay = orDefault(c.MissionCompletionDelay, 5)
	return c
}

// Robot is a simulated robot registered in the backend and assigned to an
// inspection area.
type Robot struct {
	Name             string
	RobotID          string
	InstallationCode string
	Alias            string
	Port             int
	Process          *container.Process
}

// NewRobot provisions one robot. It depends on the backend, broker and
// storage.
func NewRobot(cfg RobotConfig) fleet.Provisioner {
	cfg = cfg.withDefaults()
	return fleet.ProvisionerFunc(func(ctx context.Context, scope *fleet.Scope) (interface{}, error) {
		be, err := fleet.Lookup[*Backend](scope, ServiceBackend)
		if err != nil {
			return nil, err
		}
		broker, err := fleet.Lookup[*Broker](scope, ServiceBroker)
		if err != nil {
			return nil, err
		}
		storage, err := fleet.Lookup[*Storage](scope, ServiceStorage)
		if err != nil {
			return nil, err
		}

		d := Descriptor{
			Kind:       "robot",
			Name:       cfg.Name,
			Image:      cfg.Image,
			Alias:      cfg.Alias,
			Port:       cfg.Port,
			Env:        cfg.Env,
			StreamLogs: true,
		}.WithEnv(robotEnv(cfg, broker.Alias, storage.Account))

		client := be.Client
		p, err := launch(ctx, scope, d, func(p *container.Process) (readiness.Probe, error) {
			return registeredProbe(client, cfg.Name), nil
		})
		if err != nil {
			return nil, err
		}

		registered, err := client.RobotByName(ctx, cfg.Name)
		if err != nil {
			return nil, err
		}
		robot := &Robot{
			Name:             cfg.Name,
			RobotID:          registered.ID,
			InstallationCode: registered.InstallationCode(),
			Alias:            cfg.Alias,
			Port:             cfg.Port,
			Process:          p,
		}
		if robot.InstallationCode == "" {
			return nil, fmt.Errorf("robot %s has no current installation", cfg.Name)
		}

		if err := assignInspectionArea(ctx, scope, client, robot); err != nil {
			return nil, err
		}
		return robot, nil
	})
}

func robotEnv(cfg RobotConfig, brokerAlias, storageAccount string) map[string]string {
	return map[string]string{
		"ISAR_MQTT_ENABLED":                                 "true",
		"ISAR_MQTT_HOST":                                    brokerAlias,
		"ISAR_MQTT_PASSWORD":                                cfg.MQTTPassword,
		"AZURE_CLIENT_SECRET":                               cfg.AzureClientSecret,
		"ISAR_AZURE_CLIENT_ID":                              cfg.AzureClientID,
		"ISAR_AZURE_TENANT_ID":                              cfg.AzureTenantID,
		"ISAR_STORAGE_BLOB_ENABLED":                         "true",
		"ISAR_BLOB_STORAGE_ACCOUNT_NAME":                    storageAccount,
		"ISAR_BLOB_CONTAINER":                               cfg.BlobContainer,
		"ISAR_PLANT_CODE":                                   cfg.PlantCode,
		"ISAR_PLANT_SHORT_NAME":                             cfg.PlantShortName,
		"ISAR_KEYVAULT_NAME":                                cfg.KeyVaultName,
		"ISAR_API_HOST_VIEWED_EXTERNALLY":                   cfg.Alias,
		"ROBOT_MISSION_SIMULATION_SHOULD_FAIL_NORMAL_TASK":  strconv.FormatBool(cfg.ShouldFailNormalTask),
		"ROBOT_MISSION_SIMULATION_TASK_FAILURE_PROBABILITY": strconv.FormatFloat(cfg.TaskFailureProbability, 'f', -1, 64),
		"ROBOT_MISSION_SIMULATION_MISSION_COMPLETION_DELAY": strconv.Itoa(cfg.MissionCompletionDelay),
	}
}

// registeredProbe passes once the robot has announced itself to the backend.
func registeredProbe(client *backend.Client, name string) readiness.Probe {
	return readiness.ProbeFunc(func(ctx context.Context) error {
		_, err := client.RobotByName(ctx, name)
		if errors.Is(err, backend.ErrRobotNotFound) {
			return fmt.Errorf("robot %s is not registered yet", name)
		}
		return err
	})
}

// assignInspectionArea makes the first inspection area of the robot's
// installation its current area and waits until the backend reflects it.
func assignInspectionArea(ctx context.Context, scope *fleet.Scope, client *backend.Client, robot *Robot) error {
	areaID, err := client.InspectionAreaIDForInstallation(ctx, robot.InstallationCode)
	if err != nil {
		return err
	}
	if err := client.SetCurrentInspectionArea(ctx, robot.RobotID, areaID); err != nil {
		return fmt.Errorf("error setting inspection area of robot %s: %w", robot.Name, err)
	}

	probe := readiness.ProbeFunc(func(ctx context.Context) error {
		r, err := client.Robot(ctx, robot.RobotID)
		if err != nil {
			return err
		}
		if r.CurrentInspectionAreaID == nil || *r.CurrentInspectionAreaID != areaID {
			return fmt.Errorf("inspection area on robot %s is not %s yet", robot.Name, areaID)
		}
		return nil
	})
	if err := readiness.Poll(ctx, robot.Name+" inspection area", probe, scope.Readiness()); err != nil {
		return err
	}

	scope.Logger().Info("robot assigned to inspection area",
		"robot", robot.Name,
		"robot_id", robot.RobotID,
		"installation", robot.InstallationCode,
		"inspection_area", areaID,
	)
	return nil
}
