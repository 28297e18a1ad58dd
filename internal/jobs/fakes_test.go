package jobs

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"log"
	"os"
	"sync"
	"time"

	"github.com/luccadibe/jobctl/internal/config"
	"github.com/luccadibe/jobctl/internal/execution"
)

// fakeClient is a scripted scheduler. Each program name maps to a queue of
// results; the last result repeats once the queue is drained.
type fakeClient struct {
	mu      sync.Mutex
	results map[string][]fakeResult
	files   map[string]string
	calls   [][]string
	stdin   [][]byte
	closed  bool
	onCall  func(args []string)
}

type fakeResult struct {
	res execution.CommandResult
	err error
}

func newFakeClient() *fakeClient {
	return &fakeClient{results: map[string][]fakeResult{}, files: map[string]string{}}
}

func (c *fakeClient) script(program string, stdout ...string) {
	for _, out := range stdout {
		c.results[program] = append(c.results[program], fakeResult{res: execution.CommandResult{Stdout: out}})
	}
}

func (c *fakeClient) fail(program string, err error) {
	c.results[program] = append(c.results[program], fakeResult{res: execution.CommandResult{ExitCode: -1}, err: err})
}

func (c *fakeClient) RunCommand(ctx context.Context, req execution.CommandRequest) (execution.CommandResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, append([]string(nil), req.Args...))
	c.stdin = append(c.stdin, req.Stdin)
	queue := c.results[req.Args[0]]
	var r fakeResult
	switch len(queue) {
	case 0:
	case 1:
		r = queue[0]
	default:
		r = queue[0]
		c.results[req.Args[0]] = queue[1:]
	}
	hook := c.onCall
	c.mu.Unlock()

	if hook != nil {
		hook(req.Args)
	}
	if err := ctx.Err(); err != nil {
		return execution.CommandResult{ExitCode: -1}, err
	}
	return r.res, r.err
}

func (c *fakeClient) ReadFile(ctx context.Context, path string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, ok := c.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return []byte(content), nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) programs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, call := range c.calls {
		out = append(out, call[0])
	}
	return out
}

func (c *fakeClient) call(i int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[i]
}

// fakeProcess never exits on its own. It exits on the first signal listed in
// exitOn, or when exit is called.
type fakeProcess struct {
	id     string
	exitOn map[execution.Signal]bool
	stdout string

	mu      sync.Mutex
	signals []execution.Signal
	polls   int
	exited  bool
	done    chan struct{}
}

func newFakeProcess(id string, exitOn ...execution.Signal) *fakeProcess {
	p := &fakeProcess{id: id, exitOn: map[execution.Signal]bool{}, done: make(chan struct{})}
	for _, sig := range exitOn {
		p.exitOn[sig] = true
	}
	return p
}

func (p *fakeProcess) ID() string            { return p.id }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Poll() (execution.ExitStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	return execution.ExitStatus{}, p.exited
}

func (p *fakeProcess) Signal(sig execution.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return os.ErrProcessDone
	}
	p.signals = append(p.signals, sig)
	if p.exitOn[sig] || sig == execution.SignalKill {
		p.exitLocked()
	}
	return nil
}

func (p *fakeProcess) exit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitLocked()
}

func (p *fakeProcess) exitLocked() {
	if !p.exited {
		p.exited = true
		close(p.done)
	}
}

func (p *fakeProcess) Output() ([]byte, []byte) {
	return []byte(p.stdout), nil
}

func (p *fakeProcess) Signals() []execution.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]execution.Signal(nil), p.signals...)
}

func (p *fakeProcess) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

// fakeDriver hands out a prepared process and records the request.
type fakeDriver struct {
	proc *fakeProcess
	err  error

	mu  sync.Mutex
	req execution.StartRequest
}

func (d *fakeDriver) Start(ctx context.Context, req execution.StartRequest) (execution.Process, error) {
	d.mu.Lock()
	d.req = req
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.proc, nil
}

func (d *fakeDriver) Request() execution.StartRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.req
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

// testConfig returns the defaults with a short settle delay and result files
// under dir.
func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.Shell = "/bin/sh"
	cfg.SettleDelay = "1ms"
	cfg.Cluster.ResultFiles = dir + "/slurm." + config.ResultFilePlaceholder
	cfg.Cluster.CancelGrace = "1ms"
	return cfg
}

type sinks struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (s *sinks) options(cfg *config.Config, args ...string) Options {
	return Options{
		Args:      args,
		Config:    cfg,
		Namespace: NewNamespace(),
		Logger:    discardLogger(),
		Stdout:    &s.stdout,
		Stderr:    &s.stderr,
		Sleep:     noSleep,
	}
}
