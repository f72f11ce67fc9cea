package config

import "errors"

// ErrInvalidConfig wraps every problem found by Validate. ErrLoadConfig wraps
// failures reading the YAML file or the environment.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)
