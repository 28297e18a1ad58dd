package execution

import (
	"context"
	"log"
	"time"
)

// DefaultSettleDelay is the pause between two rungs of the escalation ladder.
const DefaultSettleDelay = 100 * time.Millisecond

// InterruptOutcome reports which rung of the ladder stopped the process.
type InterruptOutcome int

const (
	OutcomeExited InterruptOutcome = iota // already gone before any signal
	OutcomeInterrupted
	OutcomeTerminated
	OutcomeKilled
)

func (o InterruptOutcome) String() string {
	switch o {
	case OutcomeExited:
		return "exited"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeTerminated:
		return "terminated"
	case OutcomeKilled:
		return "killed"
	default:
		return "unknown"
	}
}

var ladder = []struct {
	sig     Signal
	outcome InterruptOutcome
}{
	{SignalInterrupt, OutcomeInterrupted},
	{SignalTerminate, OutcomeTerminated},
}

// Interrupt stops p by escalating SIGINT, SIGTERM and SIGKILL. After each of
// the first two signals it waits settle and stops as soon as p has exited.
// Signal delivery errors are logged and otherwise ignored.
func Interrupt(p Process, settle time.Duration, logger *log.Logger) InterruptOutcome {
	if _, exited := p.Poll(); exited {
		return OutcomeExited
	}
	for _, rung := range ladder {
		if err := p.Signal(rung.sig); err != nil {
			logf(logger, "WARNING: sending %s to process %s: %v", rung.sig, p.ID(), err)
		}
		if settled(p, settle) {
			logf(logger, "Process %s is %s.", p.ID(), rung.outcome)
			return rung.outcome
		}
	}
	if err := p.Signal(SignalKill); err != nil {
		logf(logger, "WARNING: sending %s to process %s: %v", SignalKill, p.ID(), err)
	}
	logf(logger, "Process %s is %s.", p.ID(), OutcomeKilled)
	return OutcomeKilled
}

// settled waits up to settle for p to exit and then re-checks liveness.
func settled(p Process, settle time.Duration) bool {
	timer := time.NewTimer(settle)
	defer timer.Stop()
	select {
	case <-p.Done():
	case <-timer.C:
	}
	_, exited := p.Poll()
	return exited
}

// Communicate blocks until p exits or ctx is done. On cancellation the
// process is stopped with Interrupt and ctx.Err() is returned.
func Communicate(ctx context.Context, p Process, settle time.Duration, logger *log.Logger) (ExitStatus, error) {
	select {
	case <-p.Done():
		status, _ := p.Poll()
		return status, nil
	case <-ctx.Done():
		Interrupt(p, settle, logger)
		return ExitStatus{Code: -1, Err: ctx.Err()}, ctx.Err()
	}
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
