// Package backend is a client for the fleet-management backend REST API, as
// far as the test environment needs it: readiness, seeding, robot setup and
// mission control.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

const DefaultTimeout = 30 * time.Second

// ErrRobotNotFound is matched by every *RobotNotFoundError.
var ErrRobotNotFound = errors.New("robot not found")

// TokenProvider returns a bearer token for each request.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// RobotNotFoundError is returned when no robot with Name is registered.
type RobotNotFoundError struct {
	Name string
}

func (e *RobotNotFoundError) Error() string {
	return fmt.Sprintf("robot with name %q not found", e.Name)
}

func (e *RobotNotFoundError) Is(target error) bool {
	return target == ErrRobotNotFound
}

// Config configures a Client.
type Config struct {
	BaseURL string        // e.g. http://localhost:49160
	Timeout time.Duration // Per-request timeout (default: 30s)
	Tokens  TokenProvider // Optional; requests are unauthenticated when nil
	Logger  hclog.Logger
}

// Client is a backend API client.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenProvider
	logger  hclog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  cfg.Tokens,
		logger:  cfg.Logger.Named("backend-client"),
	}
}

// BaseURL returns the URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping succeeds once the backend answers its status endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.List(ctx, "robot-models")
	return err
}

// List GETs a collection endpoint and returns its raw items.
func (c *Client) List(ctx context.Context, path string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Count returns the number of items in a collection endpoint.
func (c *Client) Count(ctx context.Context, path string) (int, error) {
	items, err := c.List(ctx, path)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (c *Client) CreateInstallation(ctx context.Context, in Installation) error {
	return c.do(ctx, http.MethodPost, "installations", in, nil)
}

func (c *Client) CreatePlant(ctx context.Context, p Plant) error {
	return c.do(ctx, http.MethodPost, "plants", p, nil)
}

func (c *Client) CreateInspectionArea(ctx context.Context, a InspectionArea) error {
	return c.do(ctx, http.MethodPost, "inspectionAreas", a, nil)
}

func (c *Client) CreateAccessRole(ctx context.Context, r AccessRole) error {
	return c.do(ctx, http.MethodPost, "access-roles", r, nil)
}

func (c *Client) Robots(ctx context.Context) ([]Robot, error) {
	var robots []Robot
	if err := c.do(ctx, http.MethodGet, "robots", nil, &robots); err != nil {
		return nil, err
	}
	return robots, nil
}

// RobotByName returns the registered robot called name.
func (c *Client) RobotByName(ctx context.Context, name string) (*Robot, error) {
	robots, err := c.Robots(ctx)
	if err != nil {
		return nil, err
	}
	for i := range robots {
		if robots[i].Name == name {
			return &robots[i], nil
		}
	}
	return nil, &RobotNotFoundError{Name: name}
}

func (c *Client) Robot(ctx context.Context, id string) (*Robot, error) {
	var robot Robot
	if err := c.do(ctx, http.MethodGet, "robots/"+url.PathEscape(id), nil, &robot); err != nil {
		return nil, err
	}
	return &robot, nil
}

func (c *Client) InspectionAreasForInstallation(ctx context.Context, installationCode string) ([]InspectionArea, error) {
	var areas []InspectionArea
	path := "inspectionAreas/installation/" + url.PathEscape(installationCode)
	if err := c.do(ctx, http.MethodGet, path, nil, &areas); err != nil {
		return nil, err
	}
	return areas, nil
}

// InspectionAreaIDForInstallation returns the first inspection area of an
// installation.
func (c *Client) InspectionAreaIDForInstallation(ctx context.Context, installationCode string) (string, error) {
	areas, err := c.InspectionAreasForInstallation(ctx, installationCode)
	if err != nil {
		return "", err
	}
	if len(areas) == 0 {
		return "", fmt.Errorf("no inspection areas for installation %s", installationCode)
	}
	return areas[0].ID, nil
}

func (c *Client) SetCurrentInspectionArea(ctx context.Context, robotID, areaID string) error {
	path := "robots/" + url.PathEscape(robotID) + "/currentInspectionArea/" + url.PathEscape(areaID)
	return c.do(ctx, http.MethodPatch, path, nil, nil)
}

// ScheduleMission schedules a mission and returns the created run.
func (c *Client) ScheduleMission(ctx context.Context, req MissionRequest) (*MissionRun, error) {
	var run MissionRun
	if err := c.do(ctx, http.MethodPost, "missions", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) MissionRun(ctx context.Context, id string) (*MissionRun, error) {
	var run MissionRun
	if err := c.do(ctx, http.MethodGet, "missions/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// PauseMission pauses the mission currently running on a robot.
func (c *Client) PauseMission(ctx context.Context, robotID string) error {
	return c.do(ctx, http.MethodPost, "robots/"+url.PathEscape(robotID)+"/pause", nil, nil)
}

// ResumeMission resumes a paused mission on a robot.
func (c *Client) ResumeMission(ctx context.Context, robotID string) error {
	return c.do(ctx, http.MethodPost, "robots/"+url.PathEscape(robotID)+"/resume", nil, nil)
}

// do executes a JSON request against path relative to the base URL.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	endpoint := c.baseURL + "/" + path

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
		c.logger.Debug("backend request failed",
			"method", method, "url", endpoint, "status", resp.StatusCode)
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response from %s %s: %w", method, endpoint, err)
		}
	}
	return nil
}
