package config

import "errors"

var (
	// ErrInvalidConfig wraps every Validate failure.
	ErrInvalidConfig = errors.New("config: invalid")
	// ErrLoadConfig wraps file, env and unmarshal failures in Load.
	ErrLoadConfig = errors.New("config: load")
)
