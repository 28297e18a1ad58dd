package jobs

import (
	"errors"
	"testing"
)

func TestHandleTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		wantErr bool
	}{
		{"local one step", []State{StateTerminated}, false},
		{"cluster", []State{StateSubmitted, StateWaiting, StateRunning, StateTerminated}, false},
		{"requeued", []State{StateSubmitted, StateRunning, StateWaiting, StateRunning, StateFailed}, false},
		{"repeat is a no-op", []State{StateSubmitted, StateSubmitted}, false},
		{"back to submitted", []State{StateSubmitted, StateRunning, StateSubmitted}, true},
		{"back to created", []State{StateSubmitted, StateCreated}, true},
		{"after terminal", []State{StateTerminated, StateRunning}, true},
		{"between terminals", []State{StateFailed, StateTerminated}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandle()
			var err error
			for _, to := range tt.path {
				if err = h.transition(to); err != nil {
					break
				}
			}
			if tt.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestHandleExternalIDSetOnce(t *testing.T) {
	h := newHandle()
	if err := h.submitted("1"); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if err := h.submitted("2"); !errors.Is(err, ErrExternalIDSet) {
		t.Fatalf("expected ErrExternalIDSet, got %v", err)
	}
	if snap := h.Snapshot(); snap.ExternalID != "1" || !snap.Started {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestHandleCaptureRequiresTerminalState(t *testing.T) {
	h := newHandle()
	_ = h.submitted("1")
	if _, err := h.capture(Output{Stdout: "early"}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if err := h.outputGate(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady from the gate, got %v", err)
	}

	if err := h.finish(StateTerminated, true); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	first, err := h.capture(Output{Stdout: "a"})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	second, _ := h.capture(Output{Stdout: "b"})
	if first != second || second.Stdout != "a" {
		t.Fatalf("expected the first capture to win, got %+v and %+v", first, second)
	}
	if !h.Snapshot().Cancelled {
		t.Fatalf("expected cancelled to be recorded")
	}
}

func TestHandleNeverStarted(t *testing.T) {
	h := newHandle()
	if err := h.outputGate(); !errors.Is(err, ErrNeverStarted) {
		t.Fatalf("expected ErrNeverStarted for a created job, got %v", err)
	}
	_ = h.finish(StateFailed, false)
	if err := h.outputGate(); !errors.Is(err, ErrNeverStarted) {
		t.Fatalf("expected ErrNeverStarted for a rejected job, got %v", err)
	}
}

func TestStepCountersAreIndependent(t *testing.T) {
	h := newHandle()
	h.stepWaiting()
	h.stepWaiting()
	if got := h.stepRunning(); got != 1 {
		t.Fatalf("expected the first running step to be 1, got %d", got)
	}
	if snap := h.Snapshot(); snap.WaitingSteps != 2 || snap.RunningSteps != 1 {
		t.Fatalf("unexpected counters %+v", snap)
	}
}
