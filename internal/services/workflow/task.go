package workflow

import (
	"context"
	"sync"
)

// Task is the handle of one submitted stage request
type Task struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Stage     Stage  `json:"stage"`

	done   chan struct{}
	cancel context.CancelFunc

	mu        sync.Mutex
	err       error
	discarded bool
}

func newTask(id, sessionID string, stage Stage, cancel context.CancelFunc) *Task {
	return &Task{
		ID:        id,
		SessionID: sessionID,
		Stage:     stage,
		done:      make(chan struct{}),
		cancel:    cancel,
	}
}

// Done is closed once the task's outcome is applied or discarded
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx ends, and returns the task error
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the outcome; nil while running or on success
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Discarded reports whether the result was dropped because the session moved on
func (t *Task) Discarded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.discarded
}

func (t *Task) finish(err error, discarded bool) {
	t.mu.Lock()
	t.err = err
	t.discarded = discarded
	t.mu.Unlock()
	t.cancel()
	close(t.done)
}
