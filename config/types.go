// Package config provides configuration management for netsim
package config

import (
	"strconv"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// Config represents the complete netsim configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Front-end server configuration
	Frontend FrontendConfig `yaml:"frontend" json:"frontend"`

	// Simulation configuration
	Simulation SimulationConfig `yaml:"simulation" json:"simulation"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr)
	Output string `yaml:"output" json:"output"`
}

// FrontendConfig contains the display server settings
type FrontendConfig struct {
	// Serve the front-end at all
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Host or IP the server binds to and advertises
	Host string `yaml:"host" json:"host"`

	// HTTP port; the websocket endpoint uses Port+1
	Port int `yaml:"port" json:"port"`

	// Directory of static assets
	PublicPath string `yaml:"public_path" json:"public_path"`
}

// Address returns host:port.
func (f FrontendConfig) Address() string {
	return f.Host + ":" + strconv.Itoa(f.Port)
}

// SimulationConfig contains network simulation settings
type SimulationConfig struct {
	// Topology file (yaml, json or toml)
	TopologyFile string `yaml:"topology_file" json:"topology_file"`

	// Run several relay implementations side by side
	Heterogeneous bool `yaml:"heterogeneous" json:"heterogeneous"`

	// Relay implementations used in heterogeneous mode, in assignment order
	RelayKinds []string `yaml:"relay_kinds,omitempty" json:"relay_kinds,omitempty"`

	// Seed for relay drop decisions; 0 means random
	Seed int64 `yaml:"seed" json:"seed"`

	// Upper bound on actors spawned for one topology
	MaxActors int `yaml:"max_actors" json:"max_actors"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "netsim",
			Version:     "0.1.0",
			Environment: EnvDevelopment,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stderr",
		},
		Frontend: FrontendConfig{
			Enabled:    true,
			Host:       "127.0.0.1",
			Port:       8080,
			PublicPath: "static",
		},
		Simulation: SimulationConfig{
			TopologyFile:  "input.toml",
			Heterogeneous: false,
			RelayKinds:    []string{"standard", "quiet"},
			MaxActors:     256,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}

	// the websocket endpoint needs Port+1 as well
	if c.Frontend.Port <= 0 || c.Frontend.Port >= 65535 {
		return ErrInvalidPort
	}
	if c.Frontend.Enabled && c.Frontend.Host == "" {
		return ErrInvalidHost
	}

	if c.Simulation.MaxActors <= 0 {
		return ErrInvalidMaxActors
	}
	if c.Simulation.Heterogeneous && len(c.Simulation.RelayKinds) == 0 {
		return ErrNoRelayKinds
	}
	return nil
}

// RelayKinds returns the implementations to register, in assignment order.
func (c *Config) RelayKinds(standard string) []string {
	if !c.Simulation.Heterogeneous {
		return []string{standard}
	}
	kinds := make([]string, len(c.Simulation.RelayKinds))
	copy(kinds, c.Simulation.RelayKinds)
	return kinds
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// GetLogLevel returns the log level
func (c *Config) GetLogLevel() LogLevel {
	return c.Log.Level
}
