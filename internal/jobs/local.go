package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/luccadibe/jobctl/internal/execution"
)

// LocalBackend runs the script through a local shell and blocks until it exits.
type LocalBackend struct {
	opts        Options
	handle      *Handle
	passthrough []string
	pty         bool
	driver      execution.Driver

	mu          sync.Mutex
	spec        Spec
	proc        execution.Process
	interrupted bool
}

// NewLocal builds a LocalBackend. Recognized option: --pty.
func NewLocal(opts Options) (*LocalBackend, error) {
	opts.withDefaults()
	flags, err := parseKnown(opts.Args, nil, []string{"--pty"})
	if err != nil {
		return nil, err
	}
	return &LocalBackend{
		opts:        opts,
		handle:      newHandle(),
		passthrough: flags.rest,
		pty:         flags.bools["--pty"],
		driver:      opts.localDriver(),
	}, nil
}

var _ Backend = (*LocalBackend)(nil)

func (b *LocalBackend) Handle() *Handle { return b.handle }

func (b *LocalBackend) Spec() Spec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spec
}

// Submit runs the script to completion. A missing shell is reported as a
// diagnostic and leaves the job in the created state.
func (b *LocalBackend) Submit(ctx context.Context, content []byte) (string, error) {
	spec := NewSpec(b.passthrough, b.opts.Shell, content)
	b.mu.Lock()
	b.spec = spec
	b.mu.Unlock()

	argv := append([]string{spec.Shell()}, spec.Argv()...)
	req := execution.StartRequest{Args: argv, Stdin: spec.Script()}
	if b.pty {
		// a script written to a terminal would make the shell interactive
		req = execution.StartRequest{Args: append(argv, "-c", string(spec.Script())), UsePTY: true}
	}

	p, err := b.driver.Start(ctx, req)
	if errors.Is(err, execution.ErrExecutableNotFound) {
		b.opts.diag("couldn't find program: %q", spec.Shell())
		return "", nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", b.handle.finish(StateFailed, true)
		}
		return "", fmt.Errorf("starting %s: %w", spec.Shell(), err)
	}
	b.mu.Lock()
	b.proc = p
	b.mu.Unlock()

	status, err := execution.Communicate(ctx, p, b.opts.Config.Settle(), b.opts.Logger)
	if err != nil {
		b.opts.Logger.Printf("Local job %s abandoned: %v", p.ID(), err)
		return "", b.handle.finish(StateFailed, true)
	}
	b.mu.Lock()
	interrupted := b.interrupted
	b.mu.Unlock()
	if interrupted {
		b.opts.Logger.Printf("Local job %s abandoned after interrupt", p.ID())
		return "", b.handle.finish(StateFailed, true)
	}
	b.opts.Logger.Printf("Local job %s exited with code %d", p.ID(), status.Code)

	b.handle.markStarted()
	if err := b.handle.finish(StateTerminated, false); err != nil {
		return "", err
	}
	stdout, stderr := p.Output()
	_, err = b.handle.capture(Output{Stdout: string(stdout), Stderr: string(stderr)})
	return "", err
}

// Wait is a no-op: Submit already ran the job to completion.
func (b *LocalBackend) Wait(ctx context.Context) error {
	return nil
}

// Output returns the pair captured by Submit.
func (b *LocalBackend) Output(ctx context.Context) (Output, error) {
	if out, ok := b.handle.captured(); ok {
		return out, nil
	}
	if err := b.handle.outputGate(); err != nil {
		return Output{}, err
	}
	return Output{}, ErrNeverStarted
}

// Interrupt stops the shell if Submit is still running it. The submission
// is then abandoned like a cancelled one: no output is kept.
func (b *LocalBackend) Interrupt(ctx context.Context) error {
	b.mu.Lock()
	p := b.proc
	b.interrupted = p != nil
	b.mu.Unlock()
	if p == nil || b.handle.State().Terminal() {
		return nil
	}
	execution.Interrupt(p, b.opts.Config.Settle(), b.opts.Logger)
	return nil
}
