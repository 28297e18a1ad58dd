package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/luccadibe/jobctl/internal/config"
	"github.com/luccadibe/jobctl/internal/execution"
	"github.com/luccadibe/jobctl/internal/progress"
)

// reapTimeout bounds how long an interrupted process may take to be reaped
// after SIGKILL.
const reapTimeout = 5 * time.Second

// RemoteBackend starts the script on a remote host and returns immediately.
// Wait polls the transport process until it exits.
type RemoteBackend struct {
	opts        Options
	handle      *Handle
	stepper     *progress.Stepper
	host        string
	pidVar      string
	tty         bool
	passthrough []string

	mu     sync.Mutex
	spec   Spec
	proc   execution.Process
	closer io.Closer
}

// NewRemote builds a RemoteBackend. Recognized options: --host, --pid, --tty.
func NewRemote(opts Options) (*RemoteBackend, error) {
	opts.withDefaults()
	flags, err := parseKnown(opts.Args, []string{"--host", "--pid"}, []string{"--tty"})
	if err != nil {
		return nil, err
	}
	defaultHost := opts.Config.Remote.DefaultHost
	if defaultHost == "" {
		defaultHost = "localhost"
	}
	return &RemoteBackend{
		opts:        opts,
		handle:      newHandle(),
		stepper:     opts.stepper(),
		host:        flags.value("--host", defaultHost),
		pidVar:      flags.value("--pid", ""),
		tty:         flags.bools["--tty"],
		passthrough: flags.rest,
	}, nil
}

var _ Backend = (*RemoteBackend)(nil)

func (b *RemoteBackend) Handle() *Handle { return b.handle }

func (b *RemoteBackend) Spec() Spec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spec
}

// Host returns the target host or host alias.
func (b *RemoteBackend) Host() string { return b.host }

// transport picks the driver and argv for spec. A configured host alias is
// reached with a native ssh session, anything else through the ssh binary.
func (b *RemoteBackend) transport(spec Spec) (execution.Driver, execution.StartRequest, error) {
	script := string(spec.Script())
	if b.opts.Driver == nil {
		if host, ok := b.opts.Config.Hosts[b.host]; ok {
			driver, err := execution.NewSSHDriver(host, b.opts.Config.MaxOutputBytes)
			if err != nil {
				return nil, execution.StartRequest{}, fmt.Errorf("connecting to %s: %w", b.host, err)
			}
			b.mu.Lock()
			b.closer = driver
			b.mu.Unlock()
			return driver, execution.StartRequest{
				Args:   []string{spec.Shell(), "-c", script},
				UsePTY: b.tty,
			}, nil
		}
	}

	command := b.opts.Config.Remote.Command
	if len(command) == 0 {
		command = config.Default().Remote.Command
	}
	argv := append([]string(nil), command...)
	if b.tty {
		argv = append(argv, "-t")
	}
	argv = append(argv, spec.Argv()...)
	argv = append(argv, b.host, script)
	return b.opts.localDriver(), execution.StartRequest{Args: argv, UsePTY: b.tty}, nil
}

// Submit starts the transport and probes it once. A job that is already
// gone is terminated on the spot and its output captured.
func (b *RemoteBackend) Submit(ctx context.Context, content []byte) (string, error) {
	spec := NewSpec(b.passthrough, b.opts.Shell, content)
	b.mu.Lock()
	b.spec = spec
	b.mu.Unlock()

	driver, req, err := b.transport(spec)
	if err != nil {
		return "", err
	}
	p, err := driver.Start(ctx, req)
	if errors.Is(err, execution.ErrExecutableNotFound) {
		b.opts.diag("couldn't find program: %q", req.Args[0])
		b.release()
		return "", nil
	}
	if err != nil {
		b.release()
		if ctx.Err() != nil {
			return "", b.handle.finish(StateFailed, true)
		}
		return "", fmt.Errorf("starting remote job on %s: %w", b.host, err)
	}
	b.mu.Lock()
	b.proc = p
	b.mu.Unlock()

	if _, exited := p.Poll(); exited {
		b.handle.markStarted()
		if err := b.handle.finish(StateTerminated, false); err != nil {
			return "", err
		}
		_, err := b.collect(ctx, p)
		b.release()
		return "", err
	}

	if err := b.handle.submitted(p.ID()); err != nil {
		return "", err
	}
	if b.pidVar != "" {
		b.opts.Namespace.Set(b.pidVar, exportedID(p))
	}
	b.opts.Logger.Printf("Remote job started on %s with id %s", b.host, p.ID())
	return fmt.Sprintf("SSH started with pid: %s\n", p.ID()), nil
}

// exportedID is the pid as an int for local processes and the session id otherwise.
func exportedID(p execution.Process) any {
	if local, ok := p.(interface{ Pid() int }); ok {
		return local.Pid()
	}
	return p.ID()
}

// Wait polls the process with the running step sequence. The sleep between
// polls ends early when the process exits.
func (b *RemoteBackend) Wait(ctx context.Context) error {
	p := b.process()
	state := b.handle.State()
	if p == nil || state.Terminal() || state == StateCreated {
		return nil
	}
	if err := b.handle.transition(StateRunning); err != nil {
		return err
	}

	exitCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-p.Done():
			stop()
		case <-exitCtx.Done():
		}
	}()

	for {
		if _, exited := p.Poll(); exited {
			break
		}
		_ = b.stepper.Step(exitCtx, progress.PhaseRunning, b.handle.stepRunning())
		if ctx.Err() != nil {
			return b.Interrupt(context.WithoutCancel(ctx))
		}
	}

	if err := b.handle.finish(StateTerminated, false); err != nil {
		return err
	}
	b.stepper.Write("\nDone\n")
	return nil
}

// Interrupt runs the escalation ladder against a live process.
func (b *RemoteBackend) Interrupt(ctx context.Context) error {
	p := b.process()
	if p == nil || b.handle.State().Terminal() {
		return nil
	}
	outcome := execution.Interrupt(p, b.opts.Config.Settle(), b.opts.Logger)
	b.opts.Logger.Printf("Remote job %s on %s %s", p.ID(), b.host, outcome)

	timer := time.NewTimer(reapTimeout)
	defer timer.Stop()
	select {
	case <-p.Done():
	case <-timer.C:
		b.opts.Logger.Printf("WARNING: remote job %s was not reaped after %s", p.ID(), reapTimeout)
	case <-ctx.Done():
	}
	return b.handle.finish(StateTerminated, true)
}

// Output reads the captured streams once the job is terminated.
func (b *RemoteBackend) Output(ctx context.Context) (Output, error) {
	if out, ok := b.handle.captured(); ok {
		return out, nil
	}
	if err := b.handle.outputGate(); err != nil {
		return Output{}, err
	}
	out, err := b.collect(ctx, b.process())
	b.release()
	return out, err
}

// collect waits for the capture to be complete and memoizes it. An
// interrupted process that was never reaped yields what was captured so far.
func (b *RemoteBackend) collect(ctx context.Context, p execution.Process) (Output, error) {
	var deadline <-chan time.Time
	if b.handle.Snapshot().Cancelled {
		timer := time.NewTimer(reapTimeout)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-p.Done():
	case <-deadline:
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}
	stdout, stderr := p.Output()
	return b.handle.capture(Output{Stdout: string(stdout), Stderr: string(stderr)})
}

func (b *RemoteBackend) process() execution.Process {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.proc
}

// release closes a native ssh connection, if one was opened.
func (b *RemoteBackend) release() {
	b.mu.Lock()
	closer := b.closer
	b.closer = nil
	b.mu.Unlock()
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		b.opts.Logger.Printf("WARNING: closing connection to %s: %v", b.host, err)
	}
}
