package domain

import "errors"

// Domain errors represent error conditions of a replay run.
// They are returned by the public API and can be checked with errors.Is.
var (
	// ErrHangTimeout is returned when a driver-side wait exceeds the gate
	// timeout. The tested service likely crashed or deadlocked.
	ErrHangTimeout = errors.New("lockstep: timeout reached, tested service likely crashed or deadlocked")

	// ErrUnexpectedTopic is returned when a service publishes on a topic its
	// configuration does not declare.
	ErrUnexpectedTopic = errors.New("lockstep: service published on undeclared topic")

	// ErrMissingOutput is returned when fewer outputs were observed than
	// expected within the settle window.
	ErrMissingOutput = errors.New("lockstep: expected output was not received")

	// ErrConfigMismatch is returned when a service configuration is
	// inconsistent (for example an output mapping keyed by an undeclared
	// input topic).
	ErrConfigMismatch = errors.New("lockstep: service configuration mismatch")

	// ErrUnknownService is returned when a service name has no registry entry.
	ErrUnknownService = errors.New("lockstep: unknown service")

	// ErrNoEntryPoint is returned when an in-process service has no entry
	// point registered with the harness.
	ErrNoEntryPoint = errors.New("lockstep: no entry point for in-process service")

	// ErrAlreadyRunning is returned when Start() is called on a running service.
	ErrAlreadyRunning = errors.New("lockstep: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped service.
	ErrNotRunning = errors.New("lockstep: not running")

	// ErrShutdownTimeout is returned when the service does not exit in time.
	ErrShutdownTimeout = errors.New("lockstep: shutdown timeout")
)
