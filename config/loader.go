// Package config provides configuration loading and parsing functionality
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/najoast/netsim/topology"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
	FormatTOML ConfigFormat = "toml"
)

// FormatFromPath determines the format from a file extension.
func FormatFromPath(path string) (ConfigFormat, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// Loader handles configuration loading from files, .env files and the
// environment
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// .env files loaded before reading the environment
	dotenvFiles []string

	// Default configuration
	defaultConfig *Config

	// lookup reads environment variables
	lookup func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		searchPaths: []string{
			".",
			"./config",
			"./configs",
		},
		envPrefix:     "NETSIM",
		dotenvFiles:   []string{".env"},
		defaultConfig: DefaultConfig(),
		lookup:        os.LookupEnv,
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDotenvFiles sets the .env files to load. Missing files are ignored.
func (l *Loader) SetDotenvFiles(files ...string) *Loader {
	l.dotenvFiles = files
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// Load loads configuration from the specified file. An empty filename
// searches the search paths and falls back to defaults.
func (l *Loader) Load(filename string) (*Config, error) {
	if err := l.loadDotenv(); err != nil {
		return nil, err
	}

	config := l.defaults()

	if filename == "" {
		found, err := l.findConfigFile()
		if err != nil && !errors.Is(err, ErrConfigFileNotFound) {
			return nil, err
		}
		filename = found
	}

	if filename != "" {
		fileConfig, err := l.loadFromFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", filename, err)
		}
		config = l.mergeConfig(config, fileConfig)
	}

	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// LoadFromReader loads configuration from an io.Reader, merged onto the
// defaults without environment overrides
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.mergeConfig(l.defaults(), config), nil
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	c := *l.defaultConfig
	c.Simulation.RelayKinds = append([]string(nil), l.defaultConfig.Simulation.RelayKinds...)
	return &c
}

// loadDotenv loads .env files without overriding variables already set.
func (l *Loader) loadDotenv() error {
	for _, file := range l.dotenvFiles {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("%w: %s: %v", ErrEnvironmentVarError, file, err)
		}
	}
	return nil
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, error) {
	filenames := []string{
		"netsim.yaml", "netsim.yml", "netsim.json",
		"config.yaml", "config.yml", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath, nil
			}
		}
	}

	return "", ErrConfigFileNotFound
}

// loadFromFile loads configuration from a file
func (l *Loader) loadFromFile(filename string) (*Config, error) {
	format, err := FormatFromPath(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.parseConfig(data, format)
}

// parseConfig parses configuration data based on format
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := &Config{}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: yaml: %v", ErrConfigParseError, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: json: %v", ErrConfigParseError, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	return config, nil
}

// env returns the prefixed variable, then the bare legacy name if given.
func (l *Loader) env(key string, legacy string) (string, bool) {
	if val, ok := l.lookup(l.envPrefix + "_" + key); ok && val != "" {
		return val, true
	}
	if legacy != "" {
		if val, ok := l.lookup(legacy); ok && val != "" {
			return val, true
		}
	}
	return "", false
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	if val, ok := l.env("APP_ENVIRONMENT", ""); ok {
		config.App.Environment = Environment(val)
	}

	// Log configuration
	if val, ok := l.env("LOG_LEVEL", ""); ok {
		config.Log.Level = LogLevel(strings.ToLower(val))
	}
	if val, ok := l.env("LOG_FORMAT", ""); ok {
		config.Log.Format = val
	}

	// Front-end configuration
	if val, ok := l.env("SERVER_IP", "SERVER_IP"); ok {
		config.Frontend.Host = val
	}
	if val, ok := l.env("SERVER_PORT", "SERVER_PORT"); ok {
		port, err := parsePort(val)
		if err != nil {
			return fmt.Errorf("%w: SERVER_PORT: %v", ErrEnvironmentVarError, err)
		}
		config.Frontend.Port = port
	}
	if val, ok := l.env("SERVER_PUBLIC_PATH", "SERVER_PUBLIC_PATH"); ok {
		config.Frontend.PublicPath = val
	}

	// Simulation configuration
	if val, ok := l.env("TOPOLOGY_FILE", ""); ok {
		config.Simulation.TopologyFile = val
	}
	if val, ok := l.env("HETEROGENEOUS", ""); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%w: HETEROGENEOUS: %v", ErrEnvironmentVarError, err)
		}
		config.Simulation.Heterogeneous = b
	}
	if val, ok := l.env("RELAY_KINDS", ""); ok {
		config.Simulation.RelayKinds = splitList(val)
	}
	if val, ok := l.env("SEED", ""); ok {
		seed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: SEED: %v", ErrEnvironmentVarError, err)
		}
		config.Simulation.Seed = seed
	}

	return nil
}

// Helper function to parse port number
func parsePort(val string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, err
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %d", port)
	}
	return port, nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// mergeConfig merges user config with default config
func (l *Loader) mergeConfig(defaultConfig, userConfig *Config) *Config {
	merged := *defaultConfig

	// App config
	if userConfig.App.Name != "" {
		merged.App.Name = userConfig.App.Name
	}
	if userConfig.App.Version != "" {
		merged.App.Version = userConfig.App.Version
	}
	if userConfig.App.Environment != "" {
		merged.App.Environment = userConfig.App.Environment
	}

	// Log config
	if userConfig.Log.Level != "" {
		merged.Log.Level = userConfig.Log.Level
	}
	if userConfig.Log.Format != "" {
		merged.Log.Format = userConfig.Log.Format
	}
	if userConfig.Log.Output != "" {
		merged.Log.Output = userConfig.Log.Output
	}

	// Front-end config; Enabled is taken as written only if the section has
	// any other field set
	fe := userConfig.Frontend
	if fe != (FrontendConfig{}) {
		merged.Frontend.Enabled = fe.Enabled
	}
	if fe.Host != "" {
		merged.Frontend.Host = fe.Host
	}
	if fe.Port != 0 {
		merged.Frontend.Port = fe.Port
	}
	if fe.PublicPath != "" {
		merged.Frontend.PublicPath = fe.PublicPath
	}

	// Simulation config
	sim := userConfig.Simulation
	if sim.TopologyFile != "" {
		merged.Simulation.TopologyFile = sim.TopologyFile
	}
	merged.Simulation.Heterogeneous = sim.Heterogeneous
	if len(sim.RelayKinds) > 0 {
		merged.Simulation.RelayKinds = append([]string(nil), sim.RelayKinds...)
	}
	if sim.Seed != 0 {
		merged.Simulation.Seed = sim.Seed
	}
	if sim.MaxActors != 0 {
		merged.Simulation.MaxActors = sim.MaxActors
	}

	return &merged
}

// LoadTopology reads a topology file. The format follows the extension:
// yaml, json or toml.
func LoadTopology(path string) (*topology.Topology, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	return ParseTopology(data, format)
}

// ParseTopology decodes a topology document.
func ParseTopology(data []byte, format ConfigFormat) (*topology.Topology, error) {
	t := &topology.Topology{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, t); err != nil {
			return nil, fmt.Errorf("%w: yaml: %v", ErrConfigParseError, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, t); err != nil {
			return nil, fmt.Errorf("%w: json: %v", ErrConfigParseError, err)
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), t); err != nil {
			return nil, fmt.Errorf("%w: toml: %v", ErrConfigParseError, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return t, nil
}
