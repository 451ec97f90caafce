package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Env is a source of environment variables.
type Env interface {
	Lookup(key string) (string, bool)
	Set(key, value string) error
}

// OSEnv is the process environment.
type OSEnv struct{}

func (OSEnv) Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

func (OSEnv) Set(key, value string) error {
	return os.Setenv(key, value)
}

// MapEnv is an in-memory environment.
type MapEnv struct {
	mu   sync.Mutex
	vars map[string]string
}

func NewMapEnv(vars map[string]string) *MapEnv {
	m := &MapEnv{vars: make(map[string]string, len(vars))}
	for k, v := range vars {
		m.vars[k] = v
	}
	return m
}

func (m *MapEnv) Lookup(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vars[key]
	return v, ok
}

func (m *MapEnv) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vars[key] = value
	return nil
}

// ApplyEnv overrides file values with environment variables. Robot
// variables apply to the first robot.
func (c *Config) ApplyEnv(env Env) error {
	str := func(key string, dst *string) {
		if v, ok := env.Lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var result *multierror.Error
	num := func(key string, dst *int) {
		if v, ok := env.Lookup(key); ok && v != "" {
			n, err := atoi(v)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("ARMADA_LOG_LEVEL", &c.LogLevel)
	str("ARMADA_READINESS_INTERVAL", &c.Readiness.Interval)
	str("ARMADA_READINESS_TIMEOUT", &c.Readiness.Timeout)

	str("KEYVAULT_NAME", &c.KeyVault.Name)
	str("AZURE_TENANT_ID", &c.KeyVault.TenantID)
	str("FLOTILLA_AZURE_CLIENT_ID", &c.KeyVault.ClientID)
	str("FLOTILLA_AZURE_CLIENT_SECRET", &c.KeyVault.ClientSecret)

	str("INTEGRATION_TESTS_TENANT_ID", &c.Auth.TenantID)
	str("INTEGRATION_TESTS_CLIENT_ID", &c.Auth.ClientID)
	str("INTEGRATION_TESTS_CLIENT_SECRET", &c.Auth.ClientSecret)
	str("FLOTILLA_AZURE_CLIENT_ID", &c.Auth.Audience)

	str("POSTGRESQL_IMAGE", &c.Database.Image)
	str("DB_ALIAS", &c.Database.Alias)
	str("DB_USER", &c.Database.User)
	str("DB_PASSWORD", &c.Database.Password)

	str("FLOTILLA_MIGRATIONS_IMAGE", &c.Migrations.Image)
	str("FLOTILLA_MIGRATIONS_SOURCE_DIR", &c.Migrations.SourceDir)

	str("FLOTILLA_BROKER_IMAGE", &c.Broker.Image)
	str("FLOTILLA_BROKER_NAME", &c.Broker.Name)
	str("FLOTILLA_BROKER_ALIAS", &c.Broker.Alias)
	num("FLOTILLA_BROKER_PORT", &c.Broker.Port)
	str("FLOTILLA_BROKER_SERVER_KEY", &c.Broker.ServerKey)

	str("FLOTILLA_BACKEND_IMAGE", &c.Backend.Image)
	str("FLOTILLA_BACKEND_NAME", &c.Backend.Name)
	str("FLOTILLA_BACKEND_ALIAS", &c.Backend.Alias)
	num("FLOTILLA_BACKEND_PORT", &c.Backend.Port)

	str("AZURITE_IMAGE", &c.Storage.Image)
	str("AZURITE_ACCOUNT", &c.Storage.Account)
	str("AZURITE_KEY", &c.Storage.Key)
	if v, ok := env.Lookup("AZURITE_ALIASES"); ok && v != "" {
		c.Storage.Emulators = nil
		for _, alias := range splitList(v) {
			c.Storage.Emulators = append(c.Storage.Emulators, &Emulator{Alias: alias})
		}
	}
	c.assignStorageSecret(env, "SARA_RAW_STORAGE_CONTAINER", DataStorageSecret)
	c.assignStorageSecret(env, "SARA_ANON_STORAGE_CONTAINER", MetadataStorageSecret)

	r := c.Robots[0]
	str("ISAR_ROBOT_NAME", &r.Name)
	str("ISAR_ROBOT_IMAGE", &r.Image)
	str("ISAR_ROBOT_ALIAS", &r.Alias)
	num("ISAR_ROBOT_PORT", &r.Port)
	str("ISAR_MQTT_PASSWORD", &r.MQTTPassword)
	str("ISAR_AZURE_CLIENT_ID", &r.AzureClientID)
	str("ISAR_AZURE_CLIENT_SECRET", &r.AzureClientSecret)
	str("ISAR_AZURE_TENANT_ID", &r.AzureTenantID)
	num("ROBOT_MISSION_SIMULATION_MISSION_COMPLETION_DELAY", &r.MissionCompletionDelay)
	if v, ok := env.Lookup("ROBOT_MISSION_SIMULATION_SHOULD_FAIL_NORMAL_TASK"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("ROBOT_MISSION_SIMULATION_SHOULD_FAIL_NORMAL_TASK: invalid boolean %q", v))
		} else {
			r.ShouldFailNormalTask = b
		}
	}

	return result.ErrorOrNil()
}

// assignStorageSecret publishes secret from the emulator named by key.
func (c *Config) assignStorageSecret(env Env, key, secret string) {
	alias, ok := env.Lookup(key)
	if !ok || alias == "" {
		return
	}
	for _, e := range c.Storage.Emulators {
		if e.Secret == secret && e.Alias != alias {
			e.Secret = ""
		}
	}
	for _, e := range c.Storage.Emulators {
		if e.Alias == alias {
			e.Secret = secret
		}
	}
}
