package txservice

import (
	"errors"
	"fmt"
)

var (
	// ErrPending is returned by Get while the transaction has not closed.
	ErrPending = errors.New("txservice: transaction pending")
	// ErrQueueFull is returned by TryPut when the handoff queue is full.
	ErrQueueFull = errors.New("txservice: queue full")
	// ErrNoSenderOpen is returned by puts after Close.
	ErrNoSenderOpen = errors.New("txservice: service closed")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("txservice: already started")
)

// SendError hands a rejected transaction back to the caller.
type SendError[T any] struct {
	Txn T
	Err error
}

func (e *SendError[T]) Error() string {
	return fmt.Sprintf("txservice: put rejected: %v", e.Err)
}

func (e *SendError[T]) Unwrap() error {
	return e.Err
}

// WorkerError is why a worker stopped: a protocol error or a panic.
type WorkerError struct {
	Worker int
	Err    error
	Panic  any
	Stack  []byte
}

func (e *WorkerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("worker %d panicked: %v", e.Worker, e.Panic)
	}
	return fmt.Sprintf("worker %d: %v", e.Worker, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// ShutdownError is returned by Close when workers failed.
type ShutdownError struct {
	Failures []error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("txservice: %d worker(s) failed: %v", len(e.Failures), errors.Join(e.Failures...))
}

func (e *ShutdownError) Unwrap() []error {
	return e.Failures
}
