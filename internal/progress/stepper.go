// Package progress paces status polling and renders its progress glyphs.
//
// The cadence decays step by step: a "." every second for the first ten
// steps, an "o" every ten seconds for the next ten, an "O" every minute for
// ten more and an "@" every ten minutes from then on.
package progress

import (
	"context"
	"io"
	"math"
	"time"
)

// Step is one row of the polling schedule.
type Step struct {
	Limit    int
	Interval time.Duration
	Glyph    string
}

// Schedule is ordered by Limit; the last row must be unbounded.
var Schedule = []Step{
	{Limit: 10, Interval: time.Second, Glyph: "."},
	{Limit: 20, Interval: 10 * time.Second, Glyph: "o"},
	{Limit: 30, Interval: time.Minute, Glyph: "O"},
	{Limit: math.MaxInt, Interval: 10 * time.Minute, Glyph: "@"},
}

// Select returns the first schedule row with s < Limit.
func Select(s int) Step {
	for _, step := range Schedule {
		if s < step.Limit {
			return step
		}
	}
	return Schedule[len(Schedule)-1]
}

// Phase names an independent step sequence of a job.
type Phase int

const (
	PhaseWaiting Phase = iota // queued, waiting for resources
	PhaseRunning
)

// Banner is printed once, before the first step of the phase.
func (p Phase) Banner() string {
	if p == PhaseWaiting {
		return "Waiting for resources "
	}
	return "Running "
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stepper renders progress to Out and sleeps between polls.
type Stepper struct {
	Out    io.Writer
	Silent bool
	Sleep  SleepFunc
}

// NewStepper returns a Stepper using the real clock.
func NewStepper(out io.Writer, silent bool) *Stepper {
	return &Stepper{Out: out, Silent: silent, Sleep: Sleep}
}

// Step performs step s (counted from 1) of phase: banner on the first step,
// then the glyph, then the interval sleep. The sleep ends early with
// ctx.Err() when ctx is done.
func (st *Stepper) Step(ctx context.Context, phase Phase, s int) error {
	if s == 1 {
		st.write(phase.Banner())
	}
	step := Select(s)
	st.write(step.Glyph)
	return st.pause(ctx, step.Interval)
}

// Pause sleeps the shortest schedule interval without printing anything.
func (st *Stepper) Pause(ctx context.Context) error {
	return st.pause(ctx, Schedule[0].Interval)
}

// Newline separates progress lines, unless silent.
func (st *Stepper) Newline() {
	st.write("\n")
}

// Write emits a status line fragment, unless silent.
func (st *Stepper) Write(text string) {
	st.write(text)
}

func (st *Stepper) write(text string) {
	if st.Silent || st.Out == nil {
		return
	}
	_, _ = io.WriteString(st.Out, text)
}

func (st *Stepper) pause(ctx context.Context, d time.Duration) error {
	sleep := st.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	return sleep(ctx, d)
}
