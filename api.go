// Package batchz provides dynamic request batching for model serving.
//
// Many goroutines each submit one logical prediction request. Requests that
// arrive close together are coalesced into a single batch, the batch is run
// once through an Executor, and the combined output is split back out so that
// every caller receives exactly the slice of the result that belongs to its
// own input.
//
// Basic usage:
//
//	ctx := context.Background()
//
//	model := batchz.ExecutorFunc[[]string, []string](func(ctx context.Context, in []string) ([]string, error) {
//		return runModel(ctx, in) // one call per batch
//	})
//
//	c := batchz.NewCoalescer(model, batchz.SliceCodec[string, string]{}).
//		WithBatchLimit(32).
//		WithWorkers(2)
//
//	if err := c.Start(ctx); err != nil {
//		return err
//	}
//	defer c.Stop(5 * time.Second)
//
//	// From any number of goroutines:
//	out, err := c.Do(ctx, []string{"hello"})
//
// Guarantees:
//   - Within one batch, output i always belongs to input i.
//   - A batch of one skips Concat and Split entirely.
//   - A failing batch fails every member with the same root cause.
//   - Execution of one batch never holds up submissions into the next one.
package batchz

import "context"

// Executor runs the model on one combined input. It is invoked exactly once
// per batch, from a worker goroutine, and must be safe for concurrent use
// when the Coalescer runs more than one worker.
type Executor[In, Out any] interface {
	Execute(ctx context.Context, in In) (Out, error)
}

// ExecutorFunc adapts an ordinary function to the Executor interface.
type ExecutorFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

// Execute calls f(ctx, in).
func (f ExecutorFunc[In, Out]) Execute(ctx context.Context, in In) (Out, error) {
	return f(ctx, in)
}

// Codec knows how to merge per-request inputs along the batch dimension and
// how to split a combined output back into per-request outputs.
//
// A single request input may hold more than one row (for example a tensor
// with a leading dimension of 3); Rows reports that count and Split receives
// the row counts in slot order.
type Codec[In, Out any] interface {
	// Rows returns the size of in along the batch dimension.
	// A value <= 0 marks the input as invalid.
	Rows(in In) int

	// Concat merges inputs in order into one combined input.
	Concat(inputs []In) (In, error)

	// Split cuts out into len(rows) outputs, the i-th holding rows[i] rows.
	Split(out Out, rows []int) ([]Out, error)
}
