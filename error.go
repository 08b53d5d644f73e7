package batchz

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the Coalescer.
var (
	// ErrInvalidInput indicates a nil input or one with no rows.
	ErrInvalidInput = errors.New("invalid input")

	// ErrQueueFull indicates the open batch is full and the pending queue is at QueueLimit.
	ErrQueueFull = errors.New("batch queue full")

	// ErrNotStarted indicates Submit was called before Start.
	ErrNotStarted = errors.New("coalescer not started")

	// ErrStopped indicates the coalescer has been stopped.
	ErrStopped = errors.New("coalescer stopped")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("coalescer already started")

	// ErrStopTimeout indicates workers did not exit within the Stop timeout.
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")

	// ErrUnknownHandle indicates Await was given a nil handle or one issued by another coalescer.
	ErrUnknownHandle = errors.New("unknown handle")

	// ErrInvalidConfig indicates a configuration value out of range.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSplitMismatch indicates Codec.Split did not return one output per request.
	ErrSplitMismatch = errors.New("split output count does not match batch size")

	// ErrRowMismatch indicates the combined output does not have one row per input row.
	ErrRowMismatch = errors.New("output rows do not match input rows")

	// ErrShapeMismatch indicates tensors that cannot be concatenated or split.
	ErrShapeMismatch = errors.New("tensor shape mismatch")
)

// SubmitError reports that a request was refused before it joined any batch.
// The request was never seen by the model.
type SubmitError struct {
	Err       error
	Coalescer string
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit rejected by %s: %v", e.Coalescer, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// BatchError reports that the batch a request belonged to failed.
// The same Err is shared by every member of the batch, so it is not
// necessarily caused by this particular request's input.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type BatchError struct {
	// Err is the root cause, identical for every member of the batch.
	Err error

	// Coalescer identifies which coalescer ran the batch.
	Coalescer string

	// BatchID and BatchSize describe the failed batch.
	BatchID   uint64
	BatchSize int

	// SlotID is the id of the request this error was delivered to.
	SlotID uint64

	// Timestamp records when the batch failed.
	Timestamp time.Time
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("BatchError[%s]: batch %d of %d requests failed: %v (slot: %d, time: %s)",
		e.Coalescer, e.BatchID, e.BatchSize, e.Err, e.SlotID, e.Timestamp.Format(time.RFC3339))
}

// Unwrap returns the root cause, enabling errors.Is against executor errors.
func (e *BatchError) Unwrap() error {
	return e.Err
}

// PanicError is the root cause recorded when the Executor or Codec panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during batch execution: %v", e.Value)
}
