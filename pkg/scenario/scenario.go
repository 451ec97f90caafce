// Package scenario drives end-to-end missions against a deployed
// environment and waits for their observable effects.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/fleetops/armada/pkg/backend"
	"github.com/fleetops/armada/pkg/blob"
	"github.com/fleetops/armada/pkg/container"
	"github.com/fleetops/armada/pkg/provision"
	"github.com/fleetops/armada/pkg/readiness"
)

// TimeoutError is returned when a scenario condition is not met in time. It
// is distinct from readiness timeouts raised while provisioning.
type TimeoutError struct {
	What    string
	Timeout time.Duration
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for %s", e.Timeout, e.What)
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

type Options struct {
	Interval time.Duration // Default: 1s
	Timeout  time.Duration // Per wait (default: 60s)
	Logger   hclog.Logger
}

// Driver schedules missions and waits on the backend, blob storage and
// container logs.
type Driver struct {
	client *backend.Client
	opts   Options
	logger hclog.Logger
}

func New(client *backend.Client, opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Interval <= 0 {
		opts.Interval = readiness.DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = readiness.DefaultTimeout
	}
	return &Driver{
		client: client,
		opts:   opts,
		logger: opts.Logger.Named("scenario"),
	}
}

// wait polls check until it passes, reporting expiry as a *TimeoutError.
func (d *Driver) wait(ctx context.Context, what string, check readiness.ProbeFunc) error {
	err := readiness.Poll(ctx, what, check, readiness.Options{
		Interval: d.opts.Interval,
		Timeout:  d.opts.Timeout,
		Logger:   d.logger,
	})
	var terr *readiness.TimeoutError
	if errors.As(err, &terr) {
		return &TimeoutError{What: what, Timeout: terr.Timeout, LastErr: terr.LastErr}
	}
	return err
}

// ScheduleMission schedules missionSourceID on robot in its installation.
func (d *Driver) ScheduleMission(ctx context.Context, robot *provision.Robot, missionSourceID string) (*backend.MissionRun, error) {
	run, err := d.client.ScheduleMission(ctx, backend.MissionRequest{
		RobotID:          robot.RobotID,
		MissionSourceID:  missionSourceID,
		InstallationCode: robot.InstallationCode,
	})
	if err != nil {
		return nil, fmt.Errorf("error scheduling mission %s on %s: %w", missionSourceID, robot.Name, err)
	}
	d.logger.Info("mission scheduled", "mission_source_id", missionSourceID, "mission_run_id", run.ID, "robot", robot.Name)
	return run, nil
}

// WaitForMissionRunStatus waits until the run reports status and returns it.
// Lookup failures count as "not yet": the run may not be stored yet.
func (d *Driver) WaitForMissionRunStatus(ctx context.Context, runID, status string) (*backend.MissionRun, error) {
	var last *backend.MissionRun
	err := d.wait(ctx, fmt.Sprintf("mission run %s to be %s", runID, status), func(ctx context.Context) error {
		run, err := d.client.MissionRun(ctx, runID)
		if err != nil {
			return err
		}
		last = run
		if run.Status != status {
			return fmt.Errorf("mission run %s is %s", runID, run.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info("mission run reached status", "mission_run_id", runID, "status", status)
	return last, nil
}

// WaitForTaskStatus waits until the task at index of the run reports status.
func (d *Driver) WaitForTaskStatus(ctx context.Context, runID string, index int, status string) (*backend.Task, error) {
	var task backend.Task
	err := d.wait(ctx, fmt.Sprintf("task %d of mission run %s to be %s", index, runID, status), func(ctx context.Context) error {
		run, err := d.client.MissionRun(ctx, runID)
		if err != nil {
			return err
		}
		if index < 0 || index >= len(run.Tasks) {
			return fmt.Errorf("mission run %s has %d tasks", runID, len(run.Tasks))
		}
		task = run.Tasks[index]
		if task.Status != status {
			return fmt.Errorf("task %d is %s", index, task.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// WaitForRobotStatus waits until the named robot reports status.
func (d *Driver) WaitForRobotStatus(ctx context.Context, name, status string) (*backend.Robot, error) {
	var robot *backend.Robot
	err := d.wait(ctx, fmt.Sprintf("robot %s to be %s", name, status), func(ctx context.Context) error {
		r, err := d.client.RobotByName(ctx, name)
		if err != nil {
			return err
		}
		robot = r
		if r.Status != status {
			return fmt.Errorf("robot %s is %s", name, r.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info("robot reached status", "robot", name, "status", status)
	return robot, nil
}

// WaitForObjectCount waits until container holds at least expected objects.
// An expected count of zero is met immediately.
func (d *Driver) WaitForObjectCount(ctx context.Context, store blob.Store, containerName string, expected int) error {
	if expected <= 0 {
		return nil
	}
	return d.wait(ctx, fmt.Sprintf("%d objects in %s", expected, containerName), func(ctx context.Context) error {
		count, err := store.CountObjects(ctx, containerName)
		if err != nil {
			return err
		}
		if count < expected {
			return fmt.Errorf("only %d objects found", count)
		}
		return nil
	})
}

// WaitForLogLine waits until the process output contains text.
func (d *Driver) WaitForLogLine(ctx context.Context, p *container.Process, text string) error {
	return d.wait(ctx, fmt.Sprintf("log line %q from %s", text, p.Name()), func(ctx context.Context) error {
		lines, err := p.Logs(ctx)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if strings.Contains(line, text) {
				return nil
			}
		}
		return fmt.Errorf("%d lines without a match", len(lines))
	})
}

// PauseMission pauses the robot's current mission.
func (d *Driver) PauseMission(ctx context.Context, robot *provision.Robot) error {
	if err := d.client.PauseMission(ctx, robot.RobotID); err != nil {
		return fmt.Errorf("error pausing mission on %s: %w", robot.Name, err)
	}
	return nil
}

// ResumeMission resumes the robot's paused mission.
func (d *Driver) ResumeMission(ctx context.Context, robot *provision.Robot) error {
	if err := d.client.ResumeMission(ctx, robot.RobotID); err != nil {
		return fmt.Errorf("error resuming mission on %s: %w", robot.Name, err)
	}
	return nil
}
