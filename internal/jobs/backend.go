// Package jobs implements the job backends: a local shell, a remote host and
// a batch-scheduler cluster. Every backend follows the same contract:
// Submit, then Wait, then Output.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/luccadibe/jobctl/internal/config"
	"github.com/luccadibe/jobctl/internal/execution"
	"github.com/luccadibe/jobctl/internal/progress"
)

// ErrUnknownBackend is returned when no backend is registered under a name.
var ErrUnknownBackend = errors.New("unknown backend")

// Backend runs one job.
type Backend interface {
	// Submit hands content to the execution environment and returns the
	// acknowledgement text to show the user.
	Submit(ctx context.Context, content []byte) (string, error)
	// Wait blocks until the job is terminal. A cancelled ctx interrupts the job.
	Wait(ctx context.Context) error
	// Output returns the captured streams, or ErrNotReady / ErrNeverStarted.
	Output(ctx context.Context) (Output, error)
	// Interrupt cancels a live job and resolves its handle to a terminal state.
	Interrupt(ctx context.Context) error
	Handle() *Handle
	Spec() Spec
}

// Options is what every backend constructor receives.
type Options struct {
	Args      []string
	Shell     string
	Namespace *Namespace
	Config    *config.Config
	Logger    *log.Logger
	Stdout    io.Writer
	Stderr    io.Writer // diagnostics
	Silent    bool

	// Driver overrides the process driver (local and remote backends).
	Driver execution.Driver
	// Client overrides the scheduler command client (cluster backend).
	Client execution.ExecutionClient
	// Sleep overrides the polling clock.
	Sleep progress.SleepFunc
}

func (o *Options) withDefaults() {
	if o.Config == nil {
		o.Config = config.Default()
	}
	if o.Shell == "" {
		o.Shell = o.Config.Shell
	}
	if o.Namespace == nil {
		o.Namespace = NewNamespace()
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	if o.Stdout == nil {
		o.Stdout = io.Discard
	}
	if o.Stderr == nil {
		o.Stderr = io.Discard
	}
}

func (o *Options) stepper() *progress.Stepper {
	st := progress.NewStepper(o.Stdout, o.Silent)
	if o.Sleep != nil {
		st.Sleep = o.Sleep
	}
	return st
}

func (o *Options) localDriver() execution.Driver {
	if o.Driver != nil {
		return o.Driver
	}
	return execution.NewLocalDriver(o.Config.MaxOutputBytes, o.Logger)
}

// diag writes a user-facing diagnostic line.
func (o *Options) diag(format string, args ...any) {
	fmt.Fprintf(o.Stderr, format+"\n", args...)
}

// knownFlags is the result of parse-known option parsing.
type knownFlags struct {
	values map[string]string
	bools  map[string]bool
	rest   []string
}

func (k knownFlags) value(name, fallback string) string {
	if v, ok := k.values[name]; ok {
		return v
	}
	return fallback
}

// parseKnown extracts the named options from args and returns the rest in
// order. Both "--name value" and "--name=value" are accepted. Anything after
// "--" passes through untouched.
func parseKnown(args []string, valued, boolean []string) (knownFlags, error) {
	isValued := map[string]bool{}
	for _, name := range valued {
		isValued[name] = true
	}
	isBool := map[string]bool{}
	for _, name := range boolean {
		isBool[name] = true
	}

	out := knownFlags{values: map[string]string{}, bools: map[string]bool{}}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			out.rest = append(out.rest, args[i+1:]...)
			break
		}
		name, value, hasValue := strings.Cut(arg, "=")
		switch {
		case isBool[name] && !hasValue:
			out.bools[name] = true
		case isValued[name] && hasValue:
			out.values[name] = value
		case isValued[name]:
			if i+1 >= len(args) {
				return knownFlags{}, errors.New("option " + name + " requires a value")
			}
			i++
			out.values[name] = args[i]
		default:
			out.rest = append(out.rest, arg)
		}
	}
	return out, nil
}
