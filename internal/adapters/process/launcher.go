// Package process launches subprocess services with os/exec.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/bft-labs/lockstep/internal/ports"
	"github.com/bft-labs/lockstep/pkg/log"
)

// Launcher implements ports.Launcher.
type Launcher struct {
	logger log.Logger
	stdout *os.File
	stderr *os.File
}

// NewLauncher creates a launcher forwarding child output to the harness
// stdout and stderr.
func NewLauncher(logger log.Logger) *Launcher {
	return &Launcher{
		logger: log.OrNoop(logger),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// Start launches argv in dir. The process outlives ctx; it is stopped
// through Interrupt or Kill.
func (l *Launcher) Start(_ context.Context, dir string, argv []string, env []string) (ports.Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("process: empty command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = l.stdout
	cmd.Stderr = l.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process: start %s: %w", argv[0], err)
	}

	l.logger.Debug("process started",
		log.String("command", argv[0]),
		log.String("dir", dir),
		log.Int("pid", cmd.Process.Pid),
	)

	return &Process{cmd: cmd}, nil
}

// Process wraps a started exec.Cmd.
type Process struct {
	cmd *exec.Cmd

	waitOnce sync.Once
	waitErr  error
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Interrupt sends SIGINT.
func (p *Process) Interrupt() error {
	return p.cmd.Process.Signal(os.Interrupt)
}

// Kill sends SIGKILL.
func (p *Process) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Wait blocks until exit. Safe to call more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

var (
	_ ports.Launcher = (*Launcher)(nil)
	_ ports.Process  = (*Process)(nil)
)
