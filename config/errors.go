// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName     = errors.New("invalid application name")
	ErrInvalidEnvironment = errors.New("invalid environment")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidPort        = errors.New("invalid port number")
	ErrInvalidHost        = errors.New("invalid host")
	ErrInvalidMaxActors   = errors.New("invalid max actors")
	ErrNoRelayKinds       = errors.New("heterogeneous mode needs at least one relay kind")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrConfigWatchError    = errors.New("configuration watch error")
	ErrUnsupportedFormat   = errors.New("unsupported file format")
)
