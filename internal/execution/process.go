package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// pipeWaitDelay bounds how long Wait keeps reading pipes that outlive the process.
const pipeWaitDelay = 2 * time.Second

// LocalDriver starts processes on the local machine.
type LocalDriver struct {
	MaxOutput int // per-stream capture bound, <= 0 for unbounded
	Logger    *log.Logger
}

// NewLocalDriver creates a LocalDriver.
func NewLocalDriver(maxOutput int, logger *log.Logger) *LocalDriver {
	return &LocalDriver{MaxOutput: maxOutput, Logger: logger}
}

type localProcess struct {
	cmd      *exec.Cmd
	stdout   *captureBuffer
	stderr   *captureBuffer
	copyDone chan struct{} // closed when PTY output is drained, nil for pipes
	done     chan struct{}
	logger   *log.Logger

	mu     sync.Mutex
	status ExitStatus
	exited bool
}

// Start spawns req.Args. The process is not bound to ctx; use Communicate or
// Interrupt to stop it.
func (d *LocalDriver) Start(ctx context.Context, req StartRequest) (Process, error) {
	if len(req.Args) == 0 {
		return nil, errors.New("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(req.Args[0], req.Args[1:]...)
	p := &localProcess{
		cmd:    cmd,
		stdout: newCaptureBuffer(d.MaxOutput),
		stderr: newCaptureBuffer(d.MaxOutput),
		done:   make(chan struct{}),
		logger: d.Logger,
	}

	var err error
	if req.UsePTY {
		err = p.startPTY(req.Stdin)
	} else {
		err = p.startPiped(req.Stdin)
	}
	if err != nil {
		return nil, spawnError(req.Args[0], err)
	}

	go p.wait()
	return p, nil
}

func (p *localProcess) startPiped(stdin []byte) error {
	if stdin != nil {
		p.cmd.Stdin = bytes.NewReader(stdin)
	}
	p.cmd.Stdout = p.stdout
	p.cmd.Stderr = p.stderr
	p.cmd.WaitDelay = pipeWaitDelay
	// own process group so the ladder reaches the script's children too
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return p.cmd.Start()
}

func spawnError(name string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %q", ErrExecutableNotFound, name)
	}
	return err
}

func (p *localProcess) wait() {
	err := p.cmd.Wait()
	if p.copyDone != nil {
		<-p.copyDone
	}

	status := ExitStatus{Code: exitCodeFrom(err, p.cmd.ProcessState), Err: err}
	p.mu.Lock()
	p.status = status
	p.exited = true
	p.mu.Unlock()

	if n := p.stdout.Dropped() + p.stderr.Dropped(); n > 0 {
		logf(p.logger, "WARNING: process %s output truncated, %d bytes dropped", p.ID(), n)
	}
	close(p.done)
}

func exitCodeFrom(waitErr error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) && exitErr.ProcessState != nil {
		return exitErr.ProcessState.ExitCode()
	}
	return -1
}

func (p *localProcess) ID() string {
	return strconv.Itoa(p.Pid())
}

// Pid returns the operating system process id.
func (p *localProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *localProcess) Done() <-chan struct{} {
	return p.done
}

func (p *localProcess) Poll() (ExitStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.exited
}

// Signal delivers sig to the process group, falling back to the process itself.
func (p *localProcess) Signal(sig Signal) error {
	if _, exited := p.Poll(); exited {
		return os.ErrProcessDone
	}
	pid := p.Pid()
	if pid <= 0 {
		return errors.New("process not started")
	}
	usig := unixSignal(sig)
	err := unix.Kill(-pid, usig)
	if errors.Is(err, unix.ESRCH) {
		err = unix.Kill(pid, usig)
	}
	return err
}

func unixSignal(sig Signal) unix.Signal {
	switch sig {
	case SignalInterrupt:
		return unix.SIGINT
	case SignalTerminate:
		return unix.SIGTERM
	default:
		return unix.SIGKILL
	}
}

func (p *localProcess) Output() ([]byte, []byte) {
	return p.stdout.Bytes(), p.stderr.Bytes()
}
