package ports

import (
	"context"
	"time"

	"github.com/bft-labs/lockstep/internal/domain"
)

// BusTransport is the real socket transport used to talk to a subprocess.
type BusTransport interface {
	// URL is the address the subprocess connects to.
	URL() string

	// Ready returns a channel closed once the service has completed the
	// readiness handshake.
	Ready() <-chan struct{}

	// Publish delivers msg to the subprocess.
	Publish(ctx context.Context, msg domain.Message) error

	// Poll collects the messages the subprocess published within window.
	// A zero window returns only what is already buffered.
	Poll(ctx context.Context, window time.Duration) ([]domain.Message, error)

	// Close releases the transport.
	Close() error
}

// Process is a started OS process.
type Process interface {
	// Pid returns the operating system process id.
	Pid() int

	// Interrupt asks the process to exit.
	Interrupt() error

	// Kill forcibly terminates the process.
	Kill() error

	// Wait blocks until the process exits.
	Wait() error
}

// Launcher starts OS processes.
type Launcher interface {
	// Start launches argv in dir with env appended to the current environment.
	Start(ctx context.Context, dir string, argv []string, env []string) (Process, error)
}
