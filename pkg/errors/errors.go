package broker_errors

import "errors"

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockNotHeld   = errors.New("lock not held")
)

// Meeting lifecycle errors. These are the only failure classes a room user
// ever sees; health tracking and reconciliation states stay internal.
var (
	ErrNoServerAvailable = errors.New("no server available")
	ErrStartFailed       = errors.New("meeting start failed")
	ErrConcurrentStart   = errors.New("another start for this room is in progress")
	ErrRoomNotRunning    = errors.New("room is not running")
	ErrJoinFailed        = errors.New("join failed")
	ErrConsentRequired   = errors.New("consent required")
)
