// Package pool abstracts the worker pools the scheduler offloads blocking
// work to. The scheduler never blocks on a pool: it submits a task together
// with a completion callback and carries on; the callback runs on a pool
// worker (or inline, for the test pool) and is expected to hand the result
// back to the scheduler through its mailbox.
package pool

import (
	"errors"
	"sync/atomic"
)

// ErrCanceled is handed to the completion callback of a task that was
// canceled before it started running.
var ErrCanceled = errors.New("pool: task canceled")

// ErrClosed is returned by Submit on a closed pool.
var ErrClosed = errors.New("pool: closed")

// Task is a unit of blocking work.
type Task func() (interface{}, error)

// Done receives a task's result on an unspecified goroutine.
type Done func(interface{}, error)

// Pool runs tasks with bounded concurrency.
type Pool interface {
	// Submit enqueues fn and returns a future for it. done is invoked
	// exactly once, with the task's result or with ErrCanceled.
	Submit(fn Task, done Done) (*Future, error)

	// Size is the number of tasks the pool runs concurrently.
	Size() int

	// Close stops the pool after draining already-submitted tasks.
	Close()
}

const (
	statePending int32 = iota
	stateRunning
	stateDone
	stateCanceled
)

// Future tracks one submitted task.
type Future struct {
	state int32
}

// Cancel prevents the task from running if it has not started. It reports
// whether the cancellation took effect; a false return means the task is
// already running or finished, and its result will still be delivered.
// Cancellation is best effort by design.
func (f *Future) Cancel() bool {
	return atomic.CompareAndSwapInt32(&f.state, statePending, stateCanceled)
}

func (f *Future) start() bool {
	return atomic.CompareAndSwapInt32(&f.state, statePending, stateRunning)
}

func (f *Future) finish() {
	atomic.StoreInt32(&f.state, stateDone)
}
