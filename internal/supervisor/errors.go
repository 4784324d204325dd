package supervisor

import "errors"

var (
	// ErrSpawnFailure reports that the command could not be launched.
	ErrSpawnFailure = errors.New("spawn failure")
	// ErrPrematureExit reports that the process exited before it was confirmed running.
	ErrPrematureExit = errors.New("process exited before start was confirmed")
	// ErrConfirmTimeout reports that no lifecycle signal arrived within ConfirmTimeout.
	ErrConfirmTimeout = errors.New("spawn confirmation timed out")
	// ErrTerminating is returned by Spawn and Run once a termination sweep started.
	ErrTerminating = errors.New("supervisor is terminating")
	// ErrTerminationTimeout is reported (never returned) when a sweep gives up.
	ErrTerminationTimeout = errors.New("termination timeout")
	// ErrUnknownEntry is returned by lookups with an id that was never issued.
	ErrUnknownEntry = errors.New("unknown entry id")
	// ErrNotReady is returned by WaitReady when the readiness probe never passed.
	ErrNotReady = errors.New("process not ready")
)

// IsSpawnFailure reports whether err is a launch failure.
func IsSpawnFailure(err error) bool { return errors.Is(err, ErrSpawnFailure) }

// IsPrematureExit reports whether err is an exit before confirmation.
func IsPrematureExit(err error) bool { return errors.Is(err, ErrPrematureExit) }
