package scheduler

import "errors"

// Sentinel errors for scheduler operations.
var (
	// ErrUnsetHandle is returned when a nil handle is enqueued or registered.
	ErrUnsetHandle = errors.New("scheduler: unset handle")

	// ErrNotFound is returned when a timer or descriptor is not registered.
	ErrNotFound = errors.New("scheduler: not found")

	// ErrOutOfMemory is returned when a configured queue capacity is exceeded.
	ErrOutOfMemory = errors.New("scheduler: out of memory")

	// ErrAlreadyRegistered is returned when a descriptor is registered twice.
	ErrAlreadyRegistered = errors.New("scheduler: descriptor already registered")

	// ErrStopped is returned by operations on a stopped scheduler.
	ErrStopped = errors.New("scheduler: stopped")
)
