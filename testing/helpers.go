// Package testing provides test utilities for batchz.
package testing

import (
	"context"
	"sync"
	"testing"
	"time"

	batchz "github.com/zoobzio/batchz"
)

// RecordingExecutor wraps an executor function and records every combined
// input it is called with, in call order.
type RecordingExecutor[In, Out any] struct {
	fn    func(context.Context, In) (Out, error)
	mu    sync.Mutex
	calls []In
}

// NewRecordingExecutor returns a RecordingExecutor that delegates to fn.
func NewRecordingExecutor[In, Out any](fn func(context.Context, In) (Out, error)) *RecordingExecutor[In, Out] {
	return &RecordingExecutor[In, Out]{fn: fn}
}

// Execute records in and calls the wrapped function.
func (r *RecordingExecutor[In, Out]) Execute(ctx context.Context, in In) (Out, error) {
	r.mu.Lock()
	r.calls = append(r.calls, in)
	r.mu.Unlock()
	return r.fn(ctx, in)
}

// Calls returns a copy of the recorded inputs.
func (r *RecordingExecutor[In, Out]) Calls() []In {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]In, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns the number of recorded calls.
func (r *RecordingExecutor[In, Out]) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Gate blocks executor calls until it is opened. Entered reports each call
// as it starts blocking.
type Gate struct {
	open    chan struct{}
	once    sync.Once
	entered chan struct{}
}

// NewGate creates a closed Gate. Up to buffer calls can be reported on
// Entered without a reader.
func NewGate(buffer int) *Gate {
	return &Gate{
		open:    make(chan struct{}),
		entered: make(chan struct{}, buffer),
	}
}

// Wait reports entry and blocks until Open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entered returns the channel signalled each time a call reaches Wait.
func (g *Gate) Entered() <-chan struct{} {
	return g.entered
}

// Open releases every current and future waiter.
func (g *Gate) Open() {
	g.once.Do(func() { close(g.open) })
}

// WaitEntered fails the test if no call reaches the gate within timeout.
func (g *Gate) WaitEntered(t *testing.T, timeout time.Duration) {
	t.Helper()

	select {
	case <-g.entered:
	case <-time.After(timeout):
		t.Fatalf("no executor call reached the gate within %v", timeout)
	}
}

// MustSubmit submits in and fails the test on error.
func MustSubmit[In, Out any](t *testing.T, c *batchz.Coalescer[In, Out], in In) *batchz.Handle[In, Out] {
	t.Helper()

	h, err := c.Submit(in)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	return h
}

// AwaitAll awaits every handle in order with a shared timeout and returns
// their results.
func AwaitAll[In, Out any](t *testing.T, c *batchz.Coalescer[In, Out], handles []*batchz.Handle[In, Out], timeout time.Duration) []batchz.Result[Out] {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	results := make([]batchz.Result[Out], len(handles))
	for i, h := range handles {
		out, err := c.Await(ctx, h)
		if err != nil {
			results[i] = batchz.NewError[Out](err)
			continue
		}
		results[i] = batchz.NewSuccess(out)
	}
	return results
}

// AssertAllSuccess verifies all results are successful.
func AssertAllSuccess[T any](t *testing.T, results []batchz.Result[T]) {
	t.Helper()

	for i, r := range results {
		if r.IsError() {
			t.Errorf("result %d: expected success, got error: %v", i, r.Error())
		}
	}
}

// AssertAllErrors verifies all results are errors.
func AssertAllErrors[T any](t *testing.T, results []batchz.Result[T]) {
	t.Helper()

	for i, r := range results {
		if r.IsSuccess() {
			t.Errorf("result %d: expected error, got success with value: %v", i, r.Value())
		}
	}
}

// StartCoalescer starts c and stops it when the test ends.
func StartCoalescer[In, Out any](t *testing.T, c *batchz.Coalescer[In, Out]) {
	t.Helper()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Stop(5 * time.Second); err != nil {
			t.Errorf("stop failed: %v", err)
		}
	})
}
