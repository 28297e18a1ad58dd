package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/luccadibe/jobctl/internal/config"
	"github.com/luccadibe/jobctl/internal/jobs"
)

// Request is one submission.
type Request struct {
	Backend    string // registry name, empty for config.DefaultBackend
	Shell      string // empty for config.Shell
	Args       []string
	Script     []byte
	Background bool
	// Handle names the namespace variable the background backend is stored under.
	Handle string
}

// Result describes a finished foreground run or a started background one.
type Result struct {
	Backend jobs.Backend
	TaskID  string
}

// Orchestrator resolves backends and drives submit, wait and output.
type Orchestrator struct {
	Config    *config.Config
	Logger    *log.Logger
	Stdout    io.Writer
	Stderr    io.Writer
	Namespace *jobs.Namespace
	Runner    TaskRunner
	Registry  *Registry
}

// NewOrchestrator wires an orchestrator with the default registry, a fresh
// namespace and a goroutine runner bound to ctx.
func NewOrchestrator(ctx context.Context, cfg *config.Config, logger *log.Logger, stdout, stderr io.Writer) *Orchestrator {
	return &Orchestrator{
		Config:    cfg,
		Logger:    logger,
		Stdout:    stdout,
		Stderr:    stderr,
		Namespace: jobs.NewNamespace(),
		Runner:    NewGoroutineRunner(ctx, logger),
		Registry:  NewRegistry(),
	}
}

// backendName resolves the empty name to the configured default.
func (o *Orchestrator) backendName(name string) string {
	if name == "" {
		name = o.Config.DefaultBackend
	}
	if name == "" {
		name = BackendLocal
	}
	return name
}

// Run submits req. In the foreground it waits for the job and writes its
// output; in the background it hands the wait to the runner and returns.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	name := o.backendName(req.Backend)
	factory, err := o.Registry.Lookup(name)
	if err != nil {
		return Result{}, err
	}

	args := append(append([]string(nil), req.Args...), o.Config.ArgsFor(name)...)
	shell := req.Shell
	if shell == "" {
		shell = o.Config.Shell
	}
	backend, err := factory(jobs.Options{
		Args:      args,
		Shell:     shell,
		Namespace: o.Namespace,
		Config:    o.Config,
		Logger:    o.Logger,
		Stdout:    o.Stdout,
		Stderr:    o.Stderr,
		Silent:    req.Background,
	})
	if err != nil {
		return Result{}, fmt.Errorf("creating %s backend: %w", name, err)
	}
	res := Result{Backend: backend}

	o.Logger.Printf("Submitting job to %s backend", name)
	ack, err := backend.Submit(ctx, req.Script)
	if ack != "" {
		fmt.Fprint(o.Stdout, ack)
	}
	if err != nil {
		return res, fmt.Errorf("submitting to %s: %w", name, err)
	}

	if req.Background {
		if req.Handle != "" {
			o.Namespace.Set(req.Handle, backend)
		} else if h := backend.Handle(); h != nil && h.State().Terminal() {
			// finished during submit; nothing else could ever reach its output
			return res, o.writeOutput(ctx, backend)
		} else {
			fmt.Fprintln(o.Stderr, "WARNING: background job started without a handle name, its output will not be reachable")
		}
		res.TaskID = o.Runner.Go(name, backend.Wait)
		return res, nil
	}

	waitErr := backend.Wait(ctx)
	outCtx := ctx
	if ctx.Err() != nil {
		outCtx = context.WithoutCancel(ctx)
	}
	outErr := o.writeOutput(outCtx, backend)
	return res, errors.Join(waitErr, outErr, ctx.Err())
}

// FetchOutput writes the output of the background backend stored under handle.
func (o *Orchestrator) FetchOutput(ctx context.Context, handle string) error {
	backend, ok := o.Namespace.Backend(handle)
	if !ok {
		return fmt.Errorf("no job stored under %q", handle)
	}
	return o.writeOutput(ctx, backend)
}

// writeOutput copies the job's output to the sinks. A job that is not ready
// or never started has nothing to write.
func (o *Orchestrator) writeOutput(ctx context.Context, backend jobs.Backend) error {
	out, err := backend.Output(ctx)
	if errors.Is(err, jobs.ErrNotReady) || errors.Is(err, jobs.ErrNeverStarted) {
		o.Logger.Printf("No output: %v", err)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprint(o.Stdout, out.Stdout)
	fmt.Fprint(o.Stderr, out.Stderr)
	return nil
}

// NewLogger creates a logger based on the logging configuration. The
// returned close function releases the log file, if any.
func NewLogger(cfg *config.LoggingConfig) (*log.Logger, func() error, error) {
	noop := func() error { return nil }
	if cfg == nil {
		return log.New(os.Stderr, "", log.LstdFlags), noop, nil
	}
	flags := log.LstdFlags
	switch strings.ToLower(cfg.Level) {
	case "quiet":
		return log.New(io.Discard, "", 0), noop, nil
	case "debug":
		flags |= log.Lshortfile
	}
	if cfg.Path == "" {
		return log.New(os.Stderr, "", flags), noop, nil
	}
	file, err := os.OpenFile(config.ExpandTilde(cfg.Path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating log file: %w", err)
	}
	return log.New(file, "", flags), file.Close, nil
}
