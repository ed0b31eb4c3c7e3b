package config

import "errors"

// ErrInvalidConfig marks a configuration that loaded but cannot run the service.
var ErrInvalidConfig = errors.New("invalid config")

// ErrLoadConfig marks a failure reading the config file or environment.
var ErrLoadConfig = errors.New("load config failed")
