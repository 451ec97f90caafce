package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fleetops/armada/pkg/armada"
	"github.com/fleetops/armada/pkg/backend"
	"github.com/fleetops/armada/pkg/blob"
	"github.com/fleetops/armada/pkg/provision"
)

// DefaultMissionSourceID is the mission the simple scenario schedules.
const DefaultMissionSourceID = "986"

// ForArmada returns a driver talking to the deployed backend.
func ForArmada(a *armada.Armada, opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = a.Env.Logger()
	}
	return New(a.Backend.Client, opts)
}

// SimpleMission schedules one mission, waits for it to succeed, for one
// uploaded object per task and for the robot to return home.
type SimpleMission struct {
	Robot *provision.Robot
	Store blob.Store // Where the robot uploads inspection data

	MissionSourceID string // Default: DefaultMissionSourceID
	Container       string // Default: lower-cased installation code
	RobotStatus     string // Status after the mission (default: Home)
}

// RunSimpleMission runs m and returns the completed run.
func (d *Driver) RunSimpleMission(ctx context.Context, m SimpleMission) (*backend.MissionRun, error) {
	if m.Robot == nil {
		return nil, errors.New("a robot is required")
	}
	if m.Store == nil {
		return nil, errors.New("a blob store is required")
	}
	if m.MissionSourceID == "" {
		m.MissionSourceID = DefaultMissionSourceID
	}
	if m.Container == "" {
		m.Container = strings.ToLower(m.Robot.InstallationCode)
	}
	if m.RobotStatus == "" {
		m.RobotStatus = backend.RobotStatusHome
	}

	run, err := d.ScheduleMission(ctx, m.Robot, m.MissionSourceID)
	if err != nil {
		return nil, err
	}
	if run.ID == "" {
		return nil, fmt.Errorf("mission %s was scheduled without a run id", m.MissionSourceID)
	}
	if len(run.Tasks) == 0 {
		return nil, fmt.Errorf("mission run %s has no tasks", run.ID)
	}

	run, err = d.WaitForMissionRunStatus(ctx, run.ID, backend.MissionStatusSuccessful)
	if err != nil {
		return nil, err
	}

	if err := d.WaitForObjectCount(ctx, m.Store, m.Container, len(run.Tasks)); err != nil {
		return nil, err
	}

	if _, err := d.WaitForRobotStatus(ctx, m.Robot.Name, m.RobotStatus); err != nil {
		return nil, err
	}
	return run, nil
}
