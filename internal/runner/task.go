package runner

import (
	"context"
	"sync"
)

// OutputFunc receives one human-readable output line.
type OutputFunc func(line string)

// Task is a handle to one logical unit of cancellable, observable work.
type Task struct {
	stopFn  func()
	eventFn func() string

	done      chan struct{}
	settle1   sync.Once
	continued bool
	err       error
}

func newTask(stop func(), eventID func() string) *Task {
	return &Task{
		stopFn:  stop,
		eventFn: eventID,
		done:    make(chan struct{}),
	}
}

var immediate = func() *Task {
	t := newTask(nil, nil)
	t.settle(true, nil)
	return t
}()

// Immediate returns a Task that has already completed and whose Stop does
// nothing. Use it as a neutral default.
func Immediate() *Task { return immediate }

// Stop cancels whatever the Task is currently running. It does nothing once
// the Task has settled and is safe to call repeatedly.
func (t *Task) Stop() {
	if t.Settled() || t.stopFn == nil {
		return
	}
	t.stopFn()
}

// EventID identifies the process-host session behind the Task, or "" when
// the Task does not wrap one. For chains it follows the running stage.
func (t *Task) EventID() string {
	if t.eventFn == nil {
		return ""
	}
	return t.eventFn()
}

// Done is closed when the Task settles.
func (t *Task) Done() <-chan struct{} { return t.done }

// Settled reports whether the outcome is known.
func (t *Task) Settled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome of a settled Task, or ErrPending.
func (t *Task) Result() (continued bool, err error) {
	if !t.Settled() {
		return false, ErrPending
	}
	return t.continued, t.err
}

// Wait blocks until the Task settles or ctx is done. continued is true when
// the work ran to completion and false when it was stopped.
func (t *Task) Wait(ctx context.Context) (continued bool, err error) {
	select {
	case <-t.done:
		return t.continued, t.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// settle records the outcome. Only the first call has any effect.
func (t *Task) settle(continued bool, err error) bool {
	first := false
	t.settle1.Do(func() {
		t.continued = continued
		t.err = err
		close(t.done)
		first = true
	})
	return first
}

// emit forwards line to fn unless the Task has already settled.
func (t *Task) emit(fn OutputFunc, line string) {
	if fn == nil || t.Settled() {
		return
	}
	fn(line)
}
