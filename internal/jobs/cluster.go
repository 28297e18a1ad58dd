package jobs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/luccadibe/jobctl/internal/config"
	"github.com/luccadibe/jobctl/internal/execution"
	"github.com/luccadibe/jobctl/internal/progress"
)

// Bucket is the coarse class of a scheduler job state.
type Bucket int

const (
	BucketUnknown Bucket = iota
	BucketWait
	BucketRun
	BucketEnd
)

func (b Bucket) String() string {
	switch b {
	case BucketWait:
		return "wait"
	case BucketRun:
		return "run"
	case BucketEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Classify matches state against the end, wait and run vocabularies, in
// that order, by substring.
func Classify(c config.Cluster, state string) Bucket {
	switch {
	case containsAny(state, c.EndStates):
		return BucketEnd
	case containsAny(state, c.WaitStates):
		return BucketWait
	case containsAny(state, c.RunStates):
		return BucketRun
	}
	return BucketUnknown
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// ClusterBackend submits the script to a batch scheduler and polls the
// scheduler until the job ends. Output is read from the job's result files.
type ClusterBackend struct {
	opts        Options
	handle      *Handle
	stepper     *progress.Stepper
	cluster     config.Cluster
	ack         *regexp.Regexp
	jobIDVar    string
	passthrough []string

	mu         sync.Mutex
	spec       Spec
	submitArgv []string
	client     execution.ExecutionClient
	remote     bool
}

// NewCluster builds a ClusterBackend. Recognized option: --jobid.
func NewCluster(opts Options) (*ClusterBackend, error) {
	opts.withDefaults()
	flags, err := parseKnown(opts.Args, []string{"--jobid"}, nil)
	if err != nil {
		return nil, err
	}
	ack, err := regexp.Compile(opts.Config.Cluster.AckPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid cluster.ack_pattern: %w", err)
	}
	return &ClusterBackend{
		opts:        opts,
		handle:      newHandle(),
		stepper:     opts.stepper(),
		cluster:     opts.Config.Cluster,
		ack:         ack,
		jobIDVar:    flags.value("--jobid", ""),
		passthrough: flags.rest,
		client:      opts.Client,
	}, nil
}

var _ Backend = (*ClusterBackend)(nil)

func (b *ClusterBackend) Handle() *Handle { return b.handle }

func (b *ClusterBackend) Spec() Spec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spec
}

// SubmitCommand returns the argv used for the submission.
func (b *ClusterBackend) SubmitCommand() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.submitArgv...)
}

// connect returns the scheduler client, opening an ssh connection to the
// login host when one is configured.
func (b *ClusterBackend) connect() (execution.ExecutionClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	settle := b.opts.Config.Settle()
	if alias := b.cluster.LoginHost; alias != "" {
		host, ok := b.opts.Config.Hosts[alias]
		if !ok {
			return nil, fmt.Errorf("login host %q is not configured", alias)
		}
		client, err := execution.NewSSHClient(host, settle, b.opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to login host %s: %w", alias, err)
		}
		b.client = client
		b.remote = true
		return client, nil
	}
	b.client = execution.NewLocalClient(b.opts.localDriver(), settle, b.opts.Logger)
	return b.client, nil
}

// resultPrefix is the result file template. On a login host $HOME is left to
// the remote side, since relative paths resolve against the remote home.
func (b *ClusterBackend) resultPrefix() string {
	b.mu.Lock()
	remote := b.remote
	b.mu.Unlock()
	if remote {
		prefix := strings.TrimPrefix(b.cluster.ResultFiles, "$HOME/")
		return strings.TrimPrefix(prefix, "~/")
	}
	return b.cluster.ResultPrefix()
}

// resultFile returns the result path for the job id with the given suffix.
func (b *ClusterBackend) resultFile(id, suffix string) string {
	return strings.ReplaceAll(b.resultPrefix(), config.ResultFilePlaceholder, id) + suffix
}

// Submit pipes the script to the scheduler's submit command and parses the
// acknowledgement for the job id.
func (b *ClusterBackend) Submit(ctx context.Context, content []byte) (string, error) {
	spec := NewSpec(b.passthrough, b.opts.Shell, content)
	client, err := b.connect()
	if err != nil {
		return "", err
	}
	defer func() {
		if !b.handle.Snapshot().Started {
			_ = b.Close()
		}
	}()

	prefix := b.resultPrefix()
	argv := append([]string(nil), b.cluster.Submit...)
	argv = append(argv, spec.Argv()...)
	argv = append(argv, "--output="+prefix+".out", "--error="+prefix+".err")
	b.mu.Lock()
	b.spec = spec
	b.submitArgv = argv
	b.mu.Unlock()

	res, err := client.RunCommand(ctx, execution.CommandRequest{Args: argv, Stdin: spec.Script()})
	if errors.Is(err, execution.ErrExecutableNotFound) {
		b.opts.diag("couldn't find program: %q", argv[0])
		return "", nil
	}
	if err != nil {
		if ctx.Err() != nil {
			b.opts.Logger.Printf("Batch job submission abandoned: %v", err)
			return "", b.handle.finish(StateFailed, true)
		}
		return "", fmt.Errorf("submitting batch job: %w", err)
	}

	m := b.ack.FindStringSubmatch(res.Stdout)
	if len(m) < 2 || m[1] == "" {
		b.opts.diag("Error during job submission")
		if text := strings.TrimSpace(res.Stdout + res.Stderr); text != "" {
			b.opts.diag("%s", text)
		}
		return "", b.handle.finish(StateFailed, false)
	}

	id := m[1]
	if err := b.handle.submitted(id); err != nil {
		return "", err
	}
	if b.jobIDVar != "" {
		b.opts.Namespace.Set(b.jobIDVar, id)
	}
	b.opts.Logger.Printf("Batch job %s submitted to %s", id, b.cluster.Name)
	return res.Stdout, nil
}

// Wait polls the scheduler until the job reaches an end state.
func (b *ClusterBackend) Wait(ctx context.Context) error {
	snap := b.handle.Snapshot()
	if !snap.Started || snap.State.Terminal() {
		return nil
	}
	id := snap.ExternalID
	maxFailures := b.cluster.MaxQueryFailures
	if maxFailures <= 0 {
		maxFailures = config.DefaultMaxQueryFails
	}

	failures := 0
	for {
		state, err := b.query(ctx, id)
		if ctx.Err() != nil {
			return b.Interrupt(context.WithoutCancel(ctx))
		}
		if err != nil {
			failures++
			b.opts.Logger.Printf("WARNING: querying state of job %s (%d/%d): %v", id, failures, maxFailures, err)
			if failures >= maxFailures {
				if ferr := b.handle.finish(StateFailed, false); ferr != nil {
					return ferr
				}
				return fmt.Errorf("job %s: giving up after %d failed state queries: %w", id, failures, err)
			}
			if b.stepper.Pause(ctx) != nil {
				return b.Interrupt(context.WithoutCancel(ctx))
			}
			continue
		}
		failures = 0

		var stepErr error
		switch Classify(b.cluster, state) {
		case BucketEnd:
			if err := b.handle.finish(StateTerminated, false); err != nil {
				return err
			}
			if s := b.handle.Snapshot(); s.WaitingSteps+s.RunningSteps > 0 {
				b.stepper.Newline()
			}
			b.stepper.Write(fmt.Sprintf("End batch job %s Status: %s\n", id, state))
			return nil
		case BucketWait:
			if err := b.handle.transition(StateWaiting); err != nil {
				return err
			}
			stepErr = b.stepper.Step(ctx, progress.PhaseWaiting, b.handle.stepWaiting())
		case BucketRun:
			if err := b.handle.transition(StateRunning); err != nil {
				return err
			}
			if s := b.handle.Snapshot(); s.WaitingSteps > 0 && s.RunningSteps == 0 {
				b.stepper.Newline()
			}
			stepErr = b.stepper.Step(ctx, progress.PhaseRunning, b.handle.stepRunning())
		default:
			b.opts.Logger.Printf("Job %s is in unrecognized state %q", id, state)
			stepErr = b.stepper.Pause(ctx)
		}
		if stepErr != nil {
			return b.Interrupt(context.WithoutCancel(ctx))
		}
	}
}

// Interrupt cancels a queued or running job with the scheduler's cancel
// command, waits the grace period and records the final state.
func (b *ClusterBackend) Interrupt(ctx context.Context) error {
	snap := b.handle.Snapshot()
	if !snap.Started || snap.State.Terminal() {
		return nil
	}
	client, err := b.connect()
	if err != nil {
		return err
	}
	id := snap.ExternalID
	// printed even for silent jobs, next to the progress line
	fmt.Fprintf(b.opts.Stdout, "Terminate job %s\n", id)

	res, err := client.RunCommand(ctx, execution.CommandRequest{Args: withJobID(b.cluster.Cancel, id)})
	switch {
	case err != nil:
		b.opts.Logger.Printf("WARNING: cancelling job %s: %v", id, err)
	case res.ExitCode != 0:
		b.opts.Logger.Printf("WARNING: cancelling job %s exited with code %d: %s", id, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	sleep := b.opts.Sleep
	if sleep == nil {
		sleep = progress.Sleep
	}
	_ = sleep(ctx, b.cluster.Grace())
	if state, err := b.query(ctx, id); err == nil {
		b.opts.Logger.Printf("Job %s state after cancel: %s", id, state)
	}
	return b.handle.finish(StateTerminated, true)
}

// Output re-queries the final state and reads the result files.
func (b *ClusterBackend) Output(ctx context.Context) (Output, error) {
	if out, ok := b.handle.captured(); ok {
		return out, nil
	}
	if err := b.handle.outputGate(); err != nil {
		return Output{}, err
	}
	client, err := b.connect()
	if err != nil {
		return Output{}, err
	}
	id := b.handle.Snapshot().ExternalID

	state, err := b.query(ctx, id)
	if err != nil {
		b.opts.Logger.Printf("WARNING: querying final state of job %s: %v", id, err)
	}
	if state != b.cluster.CompletedState {
		b.opts.diag("%s command was: %s", b.cluster.Name, execution.JoinArgs(b.SubmitCommand()))
	}

	read := func(suffix string) string {
		path := b.resultFile(id, suffix)
		data, err := client.ReadFile(ctx, path)
		if err != nil {
			b.opts.Logger.Printf("Reading %s: %v", path, err)
			b.opts.diag("File not found : %s", path)
			return ""
		}
		return string(data)
	}
	out, err := b.handle.capture(Output{Stdout: read(".out"), Stderr: read(".err")})
	if cerr := b.Close(); cerr != nil {
		b.opts.Logger.Printf("WARNING: closing scheduler client: %v", cerr)
	}
	return out, err
}

// Close releases the scheduler client.
func (b *ClusterBackend) Close() error {
	b.mu.Lock()
	client := b.client
	owned := b.opts.Client == nil
	if owned {
		b.client = nil
	}
	b.mu.Unlock()
	if client == nil || !owned {
		return nil
	}
	return client.Close()
}

// errNoState means neither status command knows the job.
var errNoState = errors.New("no state reported for job")

// query runs the status command and, when it yields nothing, the fallback.
// Empty output from both is errNoState.
func (b *ClusterBackend) query(ctx context.Context, id string) (string, error) {
	client, err := b.connect()
	if err != nil {
		return "", err
	}
	res, err := client.RunCommand(ctx, execution.CommandRequest{Args: withJobID(b.cluster.Status, id)})
	if err != nil {
		return "", err
	}
	if state := strings.TrimSpace(res.Stdout); state != "" {
		return state, nil
	}
	if len(b.cluster.FallbackStatus) > 0 {
		res, err = client.RunCommand(ctx, execution.CommandRequest{Args: withJobID(b.cluster.FallbackStatus, id)})
		if err != nil {
			return "", err
		}
		if state := strings.TrimSpace(res.Stdout); state != "" {
			return state, nil
		}
	}
	return "", errNoState
}

func withJobID(args []string, id string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = strings.ReplaceAll(arg, config.JobIDPlaceholder, id)
	}
	return out
}
