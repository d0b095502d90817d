package model

import "errors"

var (
	// ErrKernelNameRequired is returned when a session creation request is
	// missing the kernelspec name.
	ErrKernelNameRequired = errors.New("kernel name is required")

	// ErrSessionNotFound is returned when a kernel session is not found.
	ErrSessionNotFound = errors.New("kernel session not found")

	// ErrSessionNotRunning is returned for operations that need a live kernel.
	ErrSessionNotRunning = errors.New("kernel session is not running")

	// ErrConcurrencyLimit is returned when the maximum number of concurrent
	// kernel sessions is reached.
	ErrConcurrencyLimit = errors.New("concurrent kernel session limit exceeded")
)
