// Package config loads the armada configuration from an HCL file, an
// optional .env file and environment variables, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/fleetops/armada/pkg/armada"
	"github.com/fleetops/armada/pkg/auth"
	"github.com/fleetops/armada/pkg/provision"
	"github.com/fleetops/armada/pkg/readiness"
	"github.com/fleetops/armada/pkg/secrets"
)

// Config is the HCL configuration file.
type Config struct {
	LogLevel string `hcl:"log_level,optional"`

	Readiness  *Readiness  `hcl:"readiness,block"`
	KeyVault   *KeyVault   `hcl:"keyvault,block"`
	Auth       *Auth       `hcl:"auth,block"`
	Database   *Database   `hcl:"database,block"`
	Migrations *Migrations `hcl:"migrations,block"`
	Broker     *Broker     `hcl:"broker,block"`
	Storage    *Storage    `hcl:"storage,block"`
	Backend    *Backend    `hcl:"backend,block"`
	Robots     []*Robot    `hcl:"robot,block"`
	Scenario   *Scenario   `hcl:"scenario,block"`
}

// Readiness configures default polling. Durations are Go duration strings.
type Readiness struct {
	Interval string `hcl:"interval,optional"`
	Timeout  string `hcl:"timeout,optional"`
}

type KeyVault struct {
	Name         string `hcl:"name,optional"`
	TenantID     string `hcl:"tenant_id,optional"`
	ClientID     string `hcl:"client_id,optional"`
	ClientSecret string `hcl:"client_secret,optional"`
}

// Auth configures the client-credentials token used against the backend.
type Auth struct {
	Authority    string `hcl:"authority,optional"`
	TenantID     string `hcl:"tenant_id,optional"`
	ClientID     string `hcl:"client_id,optional"`
	ClientSecret string `hcl:"client_secret,optional"`
	Audience     string `hcl:"audience,optional"`
}

type Database struct {
	Image    string `hcl:"image,optional"`
	Alias    string `hcl:"alias,optional"`
	User     string `hcl:"user,optional"`
	Password string `hcl:"password,optional"`
	Name     string `hcl:"name,optional"`
	Reuse    bool   `hcl:"reuse,optional"`
}

type Migrations struct {
	Image         string            `hcl:"image,optional"`
	Name          string            `hcl:"name,optional"`
	SourceDir     string            `hcl:"source_dir,optional"`
	ConnectionEnv string            `hcl:"connection_env,optional"`
	Timeout       string            `hcl:"timeout,optional"`
	Env           map[string]string `hcl:"env,optional"`
}

type Broker struct {
	Image     string `hcl:"image,optional"`
	Name      string `hcl:"name,optional"`
	Alias     string `hcl:"alias,optional"`
	Port      int    `hcl:"port,optional"`
	ServerKey string `hcl:"server_key,optional"`
}

type Storage struct {
	Flavor     string      `hcl:"flavor,optional"`
	Image      string      `hcl:"image,optional"`
	Account    string      `hcl:"account,optional"`
	Key        string      `hcl:"key,optional"`
	Port       int         `hcl:"port,optional"`
	Containers []string    `hcl:"containers,optional"`
	Emulators  []*Emulator `hcl:"emulator,block"`
}

type Emulator struct {
	Alias  string `hcl:"alias,label"`
	Secret string `hcl:"secret,optional"`
}

type Backend struct {
	Image          string            `hcl:"image,optional"`
	Name           string            `hcl:"name,optional"`
	Alias          string            `hcl:"alias,optional"`
	Port           int               `hcl:"port,optional"`
	ConnectionEnv  string            `hcl:"connection_env,optional"`
	RequestTimeout string            `hcl:"request_timeout,optional"`
	Env            map[string]string `hcl:"env,optional"`
}

type Robot struct {
	Name                   string            `hcl:"name,label"`
	Image                  string            `hcl:"image,optional"`
	Alias                  string            `hcl:"alias,optional"`
	Port                   int               `hcl:"port,optional"`
	PlantCode              string            `hcl:"plant_code,optional"`
	PlantShortName         string            `hcl:"plant_short_name,optional"`
	BlobContainer          string            `hcl:"blob_container,optional"`
	MQTTPassword           string            `hcl:"mqtt_password,optional"`
	AzureClientID          string            `hcl:"azure_client_id,optional"`
	AzureClientSecret      string            `hcl:"azure_client_secret,optional"`
	AzureTenantID          string            `hcl:"azure_tenant_id,optional"`
	ShouldFailNormalTask   bool              `hcl:"should_fail_normal_task,optional"`
	TaskFailureProbability float64           `hcl:"task_failure_probability,optional"`
	MissionCompletionDelay int               `hcl:"mission_completion_delay,optional"`
	Env                    map[string]string `hcl:"env,optional"`
}

// Scenario configures the mission run by "armada run".
type Scenario struct {
	MissionSourceID string `hcl:"mission_source_id,optional"`
	Robot           string `hcl:"robot,optional"`
	Storage         string `hcl:"storage,optional"` // Emulator alias the robot uploads to
	Timeout         string `hcl:"timeout,optional"`
}

// Default storage containers and emulator secrets.
var (
	DefaultContainers = []string{"hua", "kaa", "nls", "test"}

	DataStorageSecret     = "AZURE-STORAGE-CONNECTION-STRING-DATA"
	MetadataStorageSecret = "AZURE-STORAGE-CONNECTION-STRING-METADATA"
)

// Default returns a configuration with every block present and the
// environment's usual two emulators.
func Default() *Config {
	cfg := &Config{}
	cfg.fill()
	return cfg
}

// fill makes every block non-nil.
func (c *Config) fill() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Readiness == nil {
		c.Readiness = &Readiness{}
	}
	if c.KeyVault == nil {
		c.KeyVault = &KeyVault{}
	}
	if c.Auth == nil {
		c.Auth = &Auth{}
	}
	if c.Database == nil {
		c.Database = &Database{}
	}
	if c.Migrations == nil {
		c.Migrations = &Migrations{}
	}
	if c.Broker == nil {
		c.Broker = &Broker{}
	}
	if c.Storage == nil {
		c.Storage = &Storage{}
	}
	if c.Storage.Containers == nil {
		c.Storage.Containers = append([]string(nil), DefaultContainers...)
	}
	if len(c.Storage.Emulators) == 0 {
		c.Storage.Emulators = []*Emulator{
			{Alias: "sara-raw", Secret: DataStorageSecret},
			{Alias: "sara-anon", Secret: MetadataStorageSecret},
		}
	}
	if c.Backend == nil {
		c.Backend = &Backend{}
	}
	if len(c.Robots) == 0 {
		c.Robots = []*Robot{{Name: provision.DefaultRobotName}}
	}
	if c.Scenario == nil {
		c.Scenario = &Scenario{}
	}
}

// Load reads the HCL file at path from fs. An empty path yields Default.
// Environment overrides are not applied.
func Load(fs afero.Fs, path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	src, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	// hclsimple selects the syntax from the file extension.
	name := path
	if ext := filepath.Ext(path); ext != ".hcl" && ext != ".json" {
		name = path + ".hcl"
	}
	if err := hclsimple.Decode(name, src, nil, &cfg); err != nil {
		return nil, fmt.Errorf("error decoding config file %s: %w", path, err)
	}
	cfg.fill()
	return &cfg, nil
}

// LoadEnvFile sets variables from a .env file that are not already set.
// A missing file is not an error.
func LoadEnvFile(fs afero.Fs, path string, env Env) error {
	f, err := fs.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error opening env file: %w", err)
	}
	defer f.Close()

	vars, err := godotenv.Parse(f)
	if err != nil {
		return fmt.Errorf("error parsing env file %s: %w", path, err)
	}
	for k, v := range vars {
		if _, ok := env.Lookup(k); !ok {
			if err := env.Set(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Validate checks the configuration after overrides are applied.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error")),
	); err != nil {
		return err
	}
	if err := validation.ValidateStruct(c.Readiness,
		validation.Field(&c.Readiness.Interval, validation.By(duration)),
		validation.Field(&c.Readiness.Timeout, validation.By(duration)),
	); err != nil {
		return fmt.Errorf("readiness: %w", err)
	}
	if err := validation.ValidateStruct(c.Migrations,
		validation.Field(&c.Migrations.Timeout, validation.By(duration)),
	); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if err := validation.ValidateStruct(c.Broker,
		validation.Field(&c.Broker.Port, validation.Min(0), validation.Max(65535)),
	); err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	if err := validation.ValidateStruct(c.Storage,
		validation.Field(&c.Storage.Flavor, validation.In(provision.FlavorAzurite, provision.FlavorMinIO)),
		validation.Field(&c.Storage.Port, validation.Min(0), validation.Max(65535)),
	); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := validation.ValidateStruct(c.Backend,
		validation.Field(&c.Backend.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&c.Backend.RequestTimeout, validation.By(duration)),
	); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if err := validation.ValidateStruct(c.Scenario,
		validation.Field(&c.Scenario.Timeout, validation.By(duration)),
	); err != nil {
		return fmt.Errorf("scenario: %w", err)
	}

	seen := make(map[string]bool, len(c.Robots))
	for i, r := range c.Robots {
		if err := validation.ValidateStruct(r,
			validation.Field(&r.Name, validation.Required),
			validation.Field(&r.Port, validation.Min(0), validation.Max(65535)),
			validation.Field(&r.TaskFailureProbability, validation.Min(0.0), validation.Max(1.0)),
		); err != nil {
			return fmt.Errorf("robot %d: %w", i, err)
		}
		if seen[r.Name] {
			return fmt.Errorf("robot %q is declared twice", r.Name)
		}
		seen[r.Name] = true
	}

	if len(c.Storage.Emulators) == 0 {
		return fmt.Errorf("storage: at least one emulator is required")
	}
	aliases := make(map[string]bool, len(c.Storage.Emulators))
	for _, e := range c.Storage.Emulators {
		if e.Alias == "" || aliases[e.Alias] {
			return fmt.Errorf("storage: emulator aliases must be unique and non-empty")
		}
		aliases[e.Alias] = true
	}
	if c.Scenario.Storage != "" && !aliases[c.Scenario.Storage] {
		return fmt.Errorf("scenario: storage %q is not a configured emulator", c.Scenario.Storage)
	}
	if c.Scenario.Robot != "" && !seen[c.Scenario.Robot] {
		return fmt.Errorf("scenario: robot %q is not configured", c.Scenario.Robot)
	}
	return nil
}

func duration(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	return nil
}

func parseDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// Armada converts the configuration into a deployment configuration. Call
// Validate first.
func (c *Config) Armada() armada.Config {
	cfg := armada.Config{
		Database: provision.DatabaseConfig{
			Image:    c.Database.Image,
			Alias:    c.Database.Alias,
			User:     c.Database.User,
			Password: c.Database.Password,
			Database: c.Database.Name,
			Reuse:    c.Database.Reuse,
		},
		Migrations: provision.MigrationsConfig{
			Image:         c.Migrations.Image,
			Name:          c.Migrations.Name,
			Env:           c.Migrations.Env,
			ConnectionEnv: c.Migrations.ConnectionEnv,
			SourceDir:     c.Migrations.SourceDir,
			Timeout:       parseDuration(c.Migrations.Timeout),
		},
		Broker: provision.BrokerConfig{
			Image:     c.Broker.Image,
			Name:      c.Broker.Name,
			Alias:     c.Broker.Alias,
			Port:      c.Broker.Port,
			ServerKey: c.Broker.ServerKey,
		},
		Storage: provision.StorageConfig{
			Flavor:     c.Storage.Flavor,
			Image:      c.Storage.Image,
			Account:    c.Storage.Account,
			Key:        c.Storage.Key,
			Port:       c.Storage.Port,
			Containers: c.Storage.Containers,
		},
		Backend: provision.BackendConfig{
			Image:          c.Backend.Image,
			Name:           c.Backend.Name,
			Alias:          c.Backend.Alias,
			Port:           c.Backend.Port,
			ConnectionEnv:  c.Backend.ConnectionEnv,
			RequestTimeout: parseDuration(c.Backend.RequestTimeout),
			Env:            c.backendEnv(),
		},
		Readiness: readiness.Options{
			Interval: parseDuration(c.Readiness.Interval),
			Timeout:  parseDuration(c.Readiness.Timeout),
		},
	}
	for _, e := range c.Storage.Emulators {
		cfg.Storage.Emulators = append(cfg.Storage.Emulators, provision.EmulatorConfig{
			Alias:  e.Alias,
			Secret: e.Secret,
		})
	}
	for _, r := range c.Robots {
		cfg.Robots = append(cfg.Robots, provision.RobotConfig{
			Name:                   r.Name,
			Image:                  r.Image,
			Alias:                  r.Alias,
			Port:                   r.Port,
			PlantCode:              r.PlantCode,
			PlantShortName:         r.PlantShortName,
			BlobContainer:          r.BlobContainer,
			KeyVaultName:           c.KeyVault.Name,
			MQTTPassword:           r.MQTTPassword,
			AzureClientID:          r.AzureClientID,
			AzureClientSecret:      r.AzureClientSecret,
			AzureTenantID:          r.AzureTenantID,
			ShouldFailNormalTask:   r.ShouldFailNormalTask,
			TaskFailureProbability: r.TaskFailureProbability,
			MissionCompletionDelay: r.MissionCompletionDelay,
			Env:                    r.Env,
		})
	}
	return cfg
}

// backendEnv points the backend at the key vault with the same identity
// the secrets were written with. Configured env wins.
func (c *Config) backendEnv() map[string]string {
	env := make(map[string]string)
	if c.KeyVault.Name != "" {
		env["KeyVault__VaultUri"] = c.KeyVaultConfig().URL()
		setIf(env, "AZURE_CLIENT_ID", c.KeyVault.ClientID)
		setIf(env, "AZURE_CLIENT_SECRET", c.KeyVault.ClientSecret)
		setIf(env, "AZURE_TENANT_ID", c.KeyVault.TenantID)
	}
	for k, v := range c.Backend.Env {
		env[k] = v
	}
	if len(env) == 0 {
		return nil
	}
	return env
}

func setIf(env map[string]string, key, value string) {
	if value != "" {
		env[key] = value
	}
}

// UsesKeyVault reports whether secrets go to Azure Key Vault rather than an
// in-memory store.
func (c *Config) UsesKeyVault() bool {
	return c.KeyVault.Name != ""
}

func (c *Config) KeyVaultConfig() secrets.KeyVaultConfig {
	return secrets.KeyVaultConfig{
		Name:         c.KeyVault.Name,
		TenantID:     c.KeyVault.TenantID,
		ClientID:     c.KeyVault.ClientID,
		ClientSecret: c.KeyVault.ClientSecret,
	}
}

// UsesAuth reports whether backend requests carry a bearer token.
func (c *Config) UsesAuth() bool {
	return c.Auth.ClientID != ""
}

func (c *Config) AuthConfig() auth.Config {
	return auth.Config{
		Authority:    c.Auth.Authority,
		TenantID:     c.Auth.TenantID,
		ClientID:     c.Auth.ClientID,
		ClientSecret: c.Auth.ClientSecret,
		Audience:     c.Auth.Audience,
	}
}

// ScenarioRobot is the robot "armada run" schedules on.
func (c *Config) ScenarioRobot() string {
	if c.Scenario.Robot != "" {
		return c.Scenario.Robot
	}
	return c.Robots[0].Name
}

// ScenarioStorage is the emulator the scenario counts uploads in: the
// configured one, else the one holding the data secret, else the first.
func (c *Config) ScenarioStorage() string {
	if c.Scenario.Storage != "" {
		return c.Scenario.Storage
	}
	for _, e := range c.Storage.Emulators {
		if e.Secret == DataStorageSecret {
			return e.Alias
		}
	}
	return c.Storage.Emulators[0].Alias
}

// ScenarioTimeout is the per-wait timeout of "armada run".
func (c *Config) ScenarioTimeout() time.Duration {
	return parseDuration(c.Scenario.Timeout)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}
