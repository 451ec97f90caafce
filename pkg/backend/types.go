package backend

// Mission run statuses reported by the backend.
const (
	MissionStatusPending             = "Pending"
	MissionStatusQueued              = "Queued"
	MissionStatusOngoing             = "Ongoing"
	MissionStatusPaused              = "Paused"
	MissionStatusAborted             = "Aborted"
	MissionStatusCancelled           = "Cancelled"
	MissionStatusFailed              = "Failed"
	MissionStatusSuccessful          = "Successful"
	MissionStatusPartiallySuccessful = "PartiallySuccessful"
)

// Task statuses.
const (
	TaskStatusNotStarted          = "NotStarted"
	TaskStatusInProgress          = "InProgress"
	TaskStatusPaused              = "Paused"
	TaskStatusFailed              = "Failed"
	TaskStatusSuccessful          = "Successful"
	TaskStatusPartiallySuccessful = "PartiallySuccessful"
	TaskStatusCancelled           = "Cancelled"
)

// Robot statuses.
const (
	RobotStatusAvailable = "Available"
	RobotStatusBusy      = "Busy"
	RobotStatusHome      = "Home"
	RobotStatusOffline   = "Offline"
)

type Installation struct {
	ID               string `json:"id,omitempty"`
	InstallationCode string `json:"installationCode"`
	Name             string `json:"name"`
}

type Plant struct {
	ID               string `json:"id,omitempty"`
	InstallationCode string `json:"installationCode"`
	PlantCode        string `json:"plantCode"`
	Name             string `json:"name"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type AreaPolygon struct {
	ZMin      float64    `json:"zmin"`
	ZMax      float64    `json:"zmax"`
	Positions []Position `json:"positions"`
}

type InspectionArea struct {
	ID               string       `json:"id,omitempty"`
	InstallationCode string       `json:"installationCode"`
	PlantCode        string       `json:"plantCode"`
	Name             string       `json:"name"`
	AreaPolygon      *AreaPolygon `json:"areaPolygon,omitempty"`
}

type AccessRole struct {
	ID               string `json:"id,omitempty"`
	InstallationCode string `json:"installationCode"`
	RoleName         string `json:"roleName"`
	AccessLevel      string `json:"accessLevel"`
}

type Robot struct {
	ID                      string        `json:"id"`
	Name                    string        `json:"name"`
	Status                  string        `json:"status"`
	CurrentInstallation     *Installation `json:"currentInstallation,omitempty"`
	CurrentInspectionAreaID *string       `json:"currentInspectionAreaId,omitempty"`
}

// InstallationCode returns the code of the robot's current installation, or
// "" if it has none.
func (r Robot) InstallationCode() string {
	if r.CurrentInstallation == nil {
		return ""
	}
	return r.CurrentInstallation.InstallationCode
}

type Task struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type MissionRun struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Tasks  []Task `json:"tasks"`
}

// MissionRequest schedules a mission from a mission source on a robot.
type MissionRequest struct {
	RobotID          string `json:"robotId"`
	MissionSourceID  string `json:"missionSourceId"`
	InstallationCode string `json:"installationCode"`
}
