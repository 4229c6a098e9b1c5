package vm

import "errors"

// Configuration errors
var (
	ErrInvalidSMP     = errors.New("vm: CPU count must not be negative")
	ErrInvalidMemsize = errors.New("vm: memory size must not be negative")
	ErrEmptyDrivePath = errors.New("vm: drive path is required")
)

// Runtime errors
var (
	ErrClosed        = errors.New("vm: session is closed")
	ErrNotLaunched   = errors.New("vm: session has not been launched")
	ErrLaunched      = errors.New("vm: session is already launched")
	ErrLaunchTimeout = errors.New("vm: launch did not complete before the deadline")
)
