package worker

import (
	"fmt"

	"github.com/c360/assetflow/errors"
)

// Sentinel errors for worker pool operations
var (
	// ErrPoolNotStarted indicates the pool hasn't been started yet
	ErrPoolNotStarted = fmt.Errorf("worker pool: %w", errors.ErrNotStarted)

	// ErrPoolStopped indicates the pool has been stopped
	ErrPoolStopped = fmt.Errorf("worker pool: %w", errors.ErrShuttingDown)

	// ErrPoolAlreadyStarted indicates Start() was called on an already-started pool
	ErrPoolAlreadyStarted = fmt.Errorf("worker pool: %w", errors.ErrAlreadyStarted)

	// ErrQueueFull indicates the work queue is at capacity. It classifies as transient.
	ErrQueueFull = fmt.Errorf("worker pool: %w", errors.ErrQueueFull)

	// ErrNilProcessor indicates a nil processor function was provided
	ErrNilProcessor = errors.New("processor function cannot be nil")

	// ErrStopTimeout indicates the pool didn't stop within the timeout
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")

	// ErrProcessorPanic wraps a value recovered from a panicking processor
	ErrProcessorPanic = errors.New("worker pool: processor panicked")
)
