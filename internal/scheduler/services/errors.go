package services

import "errors"

// Errors surfaced synchronously to callers of the scheduler facade. The API
// layer maps them to HTTP status codes with errors.Is.
var (
	// ErrTaskNotFound means the referenced task ID does not exist in the store.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidSchedule means a cron expression failed to parse or yields no
	// future fire time. Rejected before anything is persisted or registered.
	ErrInvalidSchedule = errors.New("invalid schedule expression")

	// ErrValidation means a required field is missing or malformed.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyRunning means a manual execution was requested while an
	// attempt sequence for the same task is still in flight.
	ErrAlreadyRunning = errors.New("task is already running")

	// ErrActionExecution wraps failures returned by the action invoker.
	// These are retried per the task's retry policy and only reach the
	// history and the notification sink, never a synchronous caller.
	ErrActionExecution = errors.New("action execution failed")
)
