package execution

import (
	"context"
	"errors"
)

// ErrExecutableNotFound is returned by Driver.Start when the program to run does not exist.
var ErrExecutableNotFound = errors.New("executable not found")

// Signal is one rung of the escalation ladder.
type Signal int

const (
	SignalInterrupt Signal = iota
	SignalTerminate
	SignalKill
)

func (s Signal) String() string {
	switch s {
	case SignalInterrupt:
		return "SIGINT"
	case SignalTerminate:
		return "SIGTERM"
	case SignalKill:
		return "SIGKILL"
	default:
		return "unknown signal"
	}
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code int   // -1 when the process did not exit normally
	Err  error // wait error, nil on a zero exit
}

// StartRequest defines how a Driver should start a process.
type StartRequest struct {
	Args   []string // program and arguments
	Stdin  []byte   // payload written to stdin, nil for no stdin
	UsePTY bool     // run under a pseudo-terminal, stdout and stderr are merged
}

// Process is one started external process, local or remote.
type Process interface {
	// ID identifies the process: a pid for local processes, a session id for ssh.
	ID() string
	// Done is closed once the process has exited and its output is fully captured.
	Done() <-chan struct{}
	// Poll reports the exit status without blocking.
	Poll() (ExitStatus, bool)
	Signal(sig Signal) error
	// Output returns the captured streams. Complete only after Done.
	Output() (stdout, stderr []byte)
}

// Driver starts processes.
type Driver interface {
	Start(ctx context.Context, req StartRequest) (Process, error)
}

// CommandRequest defines a one-shot command for an ExecutionClient.
type CommandRequest struct {
	Args  []string // program and arguments
	Stdin []byte   // optional stdin payload
}

// CommandResult describes the outcome of a command invocation.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecutionClient runs scheduler commands and reads result files on a host.
// RunCommand returns an error only when the command could not be run to
// completion (spawn failure, transport error, cancellation); a non-zero exit
// is reported through CommandResult.ExitCode.
type ExecutionClient interface {
	RunCommand(ctx context.Context, req CommandRequest) (CommandResult, error)
	// ReadFile reads a whole file from the host.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// Close closes the execution client, for example an SSH connection
	Close() error
}
