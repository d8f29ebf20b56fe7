package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DatabaseConfig holds the database connection information.
type DatabaseConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// BackendConfig points the proxy layer at the marketplace backend.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// TimeoutDuration returns the parsed client timeout. LoadConfig has already validated it.
func (b BackendConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(b.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// AuthConfig holds the shared secret used to verify session tokens.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	CooloffSweep string `yaml:"cooloff_sweep"`
}

// EventsConfig sizes the in-process event bus.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// Config holds the configuration for the gateway.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Backend   BackendConfig   `yaml:"backend"`
	Auth      AuthConfig      `yaml:"auth"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Events    EventsConfig    `yaml:"events"`
	Port      int             `yaml:"port"`
	Debug     bool            `yaml:"debug"`
}

// LoadConfig reads and parses the configuration file. It returns the config and a potential warning message.
var LoadConfig = func(path string) (*Config, string, error) {
	var config Config
	var warnings []string

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, "", fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}
	// A missing file is fine; everything can come from the environment.

	// Override with environment variables if they exist
	if dsn := os.Getenv("STREAMADS_DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if dbType := os.Getenv("STREAMADS_DATABASE_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if port := os.Getenv("STREAMADS_PORT"); port != "" {
		var p int
		if n, err := fmt.Sscanf(port, "%d", &p); err == nil && n == 1 {
			config.Port = p
		} else {
			warnings = append(warnings, fmt.Sprintf("ignoring invalid STREAMADS_PORT %q", port))
		}
	}
	if debug := os.Getenv("STREAMADS_DEBUG"); debug != "" {
		config.Debug = (debug == "true")
	}
	if backendURL := os.Getenv("STREAMADS_BACKEND_URL"); backendURL != "" {
		config.Backend.BaseURL = backendURL
	}
	if secret := os.Getenv("STREAMADS_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	// Set default values
	if config.Port == 0 {
		config.Port = 8080
		warnings = append(warnings, "port not set, using default value of 8080")
	}
	if config.Backend.Timeout == "" {
		config.Backend.Timeout = "30s"
	}
	if config.Scheduler.CooloffSweep == "" {
		config.Scheduler.CooloffSweep = "@every 1m"
		warnings = append(warnings, "scheduler.cooloff_sweep not set, using default value of @every 1m")
	}
	if config.Events.BufferSize <= 0 {
		config.Events.BufferSize = 100
	}

	// Final validation after overrides
	if config.Database.Type == "" || config.Database.DSN == "" {
		return nil, "", fmt.Errorf("database type and dsn must be configured in config.yaml or via environment variables")
	}
	if config.Backend.BaseURL == "" {
		return nil, "", fmt.Errorf("backend.base_url must be configured in config.yaml or via STREAMADS_BACKEND_URL")
	}
	if config.Auth.JWTSecret == "" {
		return nil, "", fmt.Errorf("auth.jwt_secret must be configured in config.yaml or via STREAMADS_JWT_SECRET")
	}
	if _, err := time.ParseDuration(config.Backend.Timeout); err != nil {
		return nil, "", fmt.Errorf("invalid backend.timeout %q: %w", config.Backend.Timeout, err)
	}

	return &config, strings.Join(warnings, "; "), nil
}
