package internal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/oklog/ulid/v2"
)

// TaskRunner runs work off the caller's goroutine. Go returns immediately
// with the task id.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error) string
}

// backgroundTask tracks one running task.
type backgroundTask struct {
	id     string
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// GoroutineRunner runs every task in its own goroutine.
type GoroutineRunner struct {
	base   context.Context
	logger *log.Logger

	mu    sync.Mutex
	tasks []*backgroundTask
}

// NewGoroutineRunner creates a runner whose tasks are cancelled when ctx is.
func NewGoroutineRunner(ctx context.Context, logger *log.Logger) *GoroutineRunner {
	return &GoroutineRunner{base: ctx, logger: logger}
}

func (r *GoroutineRunner) Go(name string, fn func(ctx context.Context) error) string {
	ctx, cancel := context.WithCancel(r.base)
	task := &backgroundTask{
		id:     ulid.Make().String(),
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()

	r.logger.Printf("Started background task %s (%s)", task.id, name)
	go func() {
		defer close(task.done)
		defer cancel()
		task.err = fn(ctx)
		if task.err != nil {
			r.logger.Printf("WARNING: background task %s (%s) failed: %v", task.id, name, task.err)
			return
		}
		r.logger.Printf("Background task %s (%s) finished", task.id, name)
	}()
	return task.id
}

// Done reports whether the task with the given id has finished.
func (r *GoroutineRunner) Done(id string) bool {
	for _, task := range r.snapshot() {
		if task.id != id {
			continue
		}
		select {
		case <-task.done:
			return true
		default:
			return false
		}
	}
	return false
}

// Wait blocks until every task has finished or ctx is done, and returns the
// tasks' errors joined.
func (r *GoroutineRunner) Wait(ctx context.Context) error {
	var combinedErr error
	for _, task := range r.snapshot() {
		select {
		case <-task.done:
		case <-ctx.Done():
			return errors.Join(combinedErr, ctx.Err())
		}
		if task.err != nil {
			combinedErr = errors.Join(combinedErr, fmt.Errorf("background task %s (%s): %w", task.id, task.name, task.err))
		}
	}
	return combinedErr
}

// StopAll cancels every task and waits for them to return.
func (r *GoroutineRunner) StopAll(ctx context.Context) error {
	tasks := r.snapshot()
	if len(tasks) == 0 {
		return nil
	}
	for _, task := range tasks {
		r.logger.Printf("Stopping background task %s (%s)", task.id, task.name)
		task.cancel()
	}
	return r.Wait(ctx)
}

func (r *GoroutineRunner) snapshot() []*backgroundTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*backgroundTask(nil), r.tasks...)
}
