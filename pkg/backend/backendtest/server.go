// Package backendtest provides an in-memory fake of the backend REST API.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/google/uuid"

	"github.com/fleetops/armada/pkg/backend"
)

// Server is a fake backend. By default it answers every endpoint and stores
// what is created.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	unavailable     bool
	discardWrites   bool
	ignoreAreas     bool
	tasksPerMission int
	runStatus       string
	taskStatus      string

	installations []backend.Installation
	plants        []backend.Plant
	areas         []backend.InspectionArea
	roles         []backend.AccessRole
	robots        []*backend.Robot
	runs          map[string]*backend.MissionRun
	paused        map[string]bool
	requests      []string
}

// NewServer starts a fake backend. It is closed when the test ends.
func NewServer(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		tasksPerMission: 3,
		runStatus:       backend.MissionStatusPending,
		taskStatus:      backend.TaskStatusNotStarted,
		runs:            make(map[string]*backend.MissionRun),
		paused:          make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /robot-models", s.list(func() interface{} {
		return []map[string]string{{"type": "Robot"}}
	}))
	mux.HandleFunc("GET /installations", s.list(func() interface{} { return s.installations }))
	mux.HandleFunc("GET /plants", s.list(func() interface{} { return s.plants }))
	mux.HandleFunc("GET /inspectionAreas", s.list(func() interface{} { return s.areas }))
	mux.HandleFunc("GET /access-roles", s.list(func() interface{} { return s.roles }))
	mux.HandleFunc("GET /robots", s.list(func() interface{} { return s.robots }))

	mux.HandleFunc("POST /installations", create(s, func(in backend.Installation) {
		in.ID = uuid.NewString()
		s.installations = append(s.installations, in)
	}))
	mux.HandleFunc("POST /plants", create(s, func(p backend.Plant) {
		p.ID = uuid.NewString()
		s.plants = append(s.plants, p)
	}))
	mux.HandleFunc("POST /inspectionAreas", create(s, func(a backend.InspectionArea) {
		a.ID = uuid.NewString()
		s.areas = append(s.areas, a)
	}))
	mux.HandleFunc("POST /access-roles", create(s, func(r backend.AccessRole) {
		r.ID = uuid.NewString()
		s.roles = append(s.roles, r)
	}))

	mux.HandleFunc("GET /robots/{id}", s.handleRobot)
	mux.HandleFunc("PATCH /robots/{id}/currentInspectionArea/{area}", s.handleSetArea)
	mux.HandleFunc("POST /robots/{id}/pause", s.handlePause(true))
	mux.HandleFunc("POST /robots/{id}/resume", s.handlePause(false))
	mux.HandleFunc("GET /inspectionAreas/installation/{code}", s.handleAreasForInstallation)
	mux.HandleFunc("POST /missions", s.handleSchedule)
	mux.HandleFunc("GET /missions/runs/{id}", s.handleRun)

	s.Server = httptest.NewServer(s.middleware(mux))
	t.Cleanup(s.Close)
	return s
}

// SetUnavailable makes every request fail with 503 until reset.
func (s *Server) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

// SetDiscardWrites accepts creates without storing them, so seeded lists
// stay empty.
func (s *Server) SetDiscardWrites(discard bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discardWrites = discard
}

// SetIgnoreAreaUpdates acknowledges inspection area updates without
// applying them.
func (s *Server) SetIgnoreAreaUpdates(ignore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreAreas = ignore
}

// SetInspectionArea sets the current inspection area of a registered robot.
func (s *Server) SetInspectionArea(name, area string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.robots {
		if r.Name == name {
			a := area
			r.CurrentInspectionAreaID = &a
		}
	}
}

// SetTasksPerMission sets the number of tasks in each scheduled run.
func (s *Server) SetTasksPerMission(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasksPerMission = n
}

// SetInitialStatus sets the status of newly scheduled runs and their tasks.
func (s *Server) SetInitialStatus(runStatus, taskStatus string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runStatus = runStatus
	s.taskStatus = taskStatus
}

// RegisterRobot adds a robot to the registry, as a robot does when it comes
// online and announces itself.
func (s *Server) RegisterRobot(name, installationCode string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.robots = append(s.robots, &backend.Robot{
		ID:     id,
		Name:   name,
		Status: backend.RobotStatusAvailable,
		CurrentInstallation: &backend.Installation{
			InstallationCode: installationCode,
		},
	})
	return id
}

// SetRobotStatus changes the reported status of a registered robot.
func (s *Server) SetRobotStatus(name, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.robots {
		if r.Name == name {
			r.Status = status
		}
	}
}

// SetMissionStatus changes the status of a run.
func (s *Server) SetMissionStatus(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Status = status
	}
}

// SetTaskStatus changes the status of one task of a run.
func (s *Server) SetTaskStatus(id string, index int, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok && index < len(run.Tasks) {
		run.Tasks[index].Status = status
	}
}

// Paused reports whether a robot's mission was paused through the API.
func (s *Server) Paused(robotID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused[robotID]
}

// Requests returns "METHOD /path" for every request served, in order.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		unavailable := s.unavailable
		s.mu.Unlock()

		if unavailable {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) list(items func() interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		writeJSON(w, http.StatusOK, nonNil(items()))
	}
}

func create[T any](s *Server, store func(T)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var item T
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.discardWrites {
			store(item)
		}
		writeJSON(w, http.StatusCreated, item)
	}
}

func (s *Server) findRobot(id string) *backend.Robot {
	for _, r := range s.robots {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *Server) handleRobot(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	robot := s.findRobot(r.PathValue("id"))
	if robot == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, robot)
}

func (s *Server) handleSetArea(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	robot := s.findRobot(r.PathValue("id"))
	if robot == nil {
		http.NotFound(w, r)
		return
	}
	if !s.ignoreAreas {
		area := r.PathValue("area")
		robot.CurrentInspectionAreaID = &area
	}
	writeJSON(w, http.StatusOK, robot)
}

func (s *Server) handlePause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		id := r.PathValue("id")
		if s.findRobot(id) == nil {
			http.NotFound(w, r)
			return
		}
		s.paused[id] = paused
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleAreasForInstallation(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := r.PathValue("code")
	areas := []backend.InspectionArea{}
	for _, a := range s.areas {
		if a.InstallationCode == code {
			areas = append(areas, a)
		}
	}
	writeJSON(w, http.StatusOK, areas)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req backend.MissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findRobot(req.RobotID) == nil {
		http.Error(w, fmt.Sprintf("robot %s not found", req.RobotID), http.StatusNotFound)
		return
	}

	run := &backend.MissionRun{
		ID:     uuid.NewString(),
		Status: s.runStatus,
	}
	for i := 0; i < s.tasksPerMission; i++ {
		run.Tasks = append(run.Tasks, backend.Task{
			ID:     uuid.NewString(),
			Status: s.taskStatus,
		})
	}
	s.runs[run.ID] = run
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[r.PathValue("id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func nonNil(v interface{}) interface{} {
	switch items := v.(type) {
	case []backend.Installation:
		if items == nil {
			return []backend.Installation{}
		}
	case []backend.Plant:
		if items == nil {
			return []backend.Plant{}
		}
	case []backend.InspectionArea:
		if items == nil {
			return []backend.InspectionArea{}
		}
	case []backend.AccessRole:
		if items == nil {
			return []backend.AccessRole{}
		}
	case []*backend.Robot:
		if items == nil {
			return []*backend.Robot{}
		}
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
