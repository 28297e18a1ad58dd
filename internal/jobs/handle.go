package jobs

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotReady is returned by Output before the job reached a terminal state.
	ErrNotReady = errors.New("job output not ready")
	// ErrNeverStarted is returned by Output for a job that never entered its backend.
	ErrNeverStarted = errors.New("job never started")
	// ErrInvalidTransition reports an out-of-order state change.
	ErrInvalidTransition = errors.New("invalid job state transition")
	// ErrExternalIDSet reports a second attempt to set the external id.
	ErrExternalIDSet = errors.New("external id already set")
)

// State is the lifecycle state of a job.
type State int

const (
	StateCreated State = iota
	StateSubmitted
	StateWaiting
	StateRunning
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSubmitted:
		return "submitted"
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// rank orders states; waiting and running share a rank so a requeued job
// can move between them.
func (s State) rank() int {
	switch s {
	case StateCreated:
		return 0
	case StateSubmitted:
		return 1
	case StateWaiting, StateRunning:
		return 2
	default:
		return 3
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateFailed
}

// Output is a captured stdout/stderr pair.
type Output struct {
	Stdout string
	Stderr string
}

// Handle is the mutable state of one job, owned by exactly one backend.
type Handle struct {
	mu           sync.Mutex
	state        State
	externalID   string
	started      bool
	cancelled    bool
	output       *Output
	waitingSteps int
	runningSteps int
}

// Snapshot is a consistent copy of a Handle.
type Snapshot struct {
	State        State
	ExternalID   string
	Started      bool
	Cancelled    bool
	WaitingSteps int
	RunningSteps int
}

func newHandle() *Handle {
	return &Handle{state: StateCreated}
}

// Snapshot returns a copy of the handle's fields.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{
		State:        h.state,
		ExternalID:   h.externalID,
		Started:      h.started,
		Cancelled:    h.cancelled,
		WaitingSteps: h.waitingSteps,
		RunningSteps: h.runningSteps,
	}
}

// State returns the current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) transition(to State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transitionLocked(to)
}

func (h *Handle) transitionLocked(to State) error {
	from := h.state
	if from == to {
		return nil
	}
	if from.Terminal() || to == StateCreated || to.rank() < from.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	h.state = to
	return nil
}

// submitted records a successful submission.
func (h *Handle) submitted(externalID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.externalID != "" {
		return ErrExternalIDSet
	}
	if err := h.transitionLocked(StateSubmitted); err != nil {
		return err
	}
	h.externalID = externalID
	h.started = true
	return nil
}

// finish moves to a terminal state, noting whether an interrupt caused it.
func (h *Handle) finish(to State, cancelled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.transitionLocked(to); err != nil {
		return err
	}
	if cancelled {
		h.cancelled = true
	}
	return nil
}

// markStarted notes that the job reached its backend without an external id.
func (h *Handle) markStarted() {
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
}

// capture memoizes out; the first captured pair wins.
func (h *Handle) capture(out Output) (Output, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.output != nil {
		return *h.output, nil
	}
	if !h.state.Terminal() {
		return Output{}, ErrNotReady
	}
	h.output = &out
	return out, nil
}

// captured returns the memoized pair, if any.
func (h *Handle) captured() (Output, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.output == nil {
		return Output{}, false
	}
	return *h.output, true
}

// outputGate reports why output cannot be read yet, or nil when it can.
func (h *Handle) outputGate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.output != nil:
		return nil
	case !h.started && (h.state == StateCreated || h.state.Terminal()):
		return ErrNeverStarted
	case !h.state.Terminal():
		return ErrNotReady
	}
	return nil
}

func (h *Handle) stepWaiting() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.waitingSteps++
	return h.waitingSteps
}

func (h *Handle) stepRunning() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runningSteps++
	return h.runningSteps
}
