package worker

import "errors"

// Sentinel kinds for task failures.
var (
	ErrTimeout = errors.New("task timed out")
	ErrPanic   = errors.New("task panicked")
	ErrNotRun  = errors.New("task not run")
)
