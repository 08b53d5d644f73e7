package batchz

import (
	"context"
	"fmt"
	"runtime/debug"

	"k8s.io/klog/v2"
)

// runWorker takes runnable batches until the coalescer stops or ctx ends.
func (c *Coalescer[In, Out]) runWorker(ctx context.Context) {
	logger := klog.FromContext(ctx)
	for {
		c.mu.Lock()
		if ctx.Err() != nil {
			// Cancelled: whatever is still queued is failed by abandon.
			c.mu.Unlock()
			return
		}
		b := c.takeLocked()
		more := c.runnableLocked()
		stopped := c.stopped
		depth := len(c.pending)
		c.mu.Unlock()

		if more {
			// Hand the rest to another idle worker.
			c.poke()
		}

		if b != nil {
			c.metrics.recordQueue(depth)
			c.execute(ctx, b)
			c.mu.Lock()
			c.inflight--
			c.checkDrainedLocked()
			c.mu.Unlock()
			continue
		}

		if stopped {
			// Nothing left to drain; Stop cancels ctx once every worker is idle.
			<-ctx.Done()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		case <-c.quit:
			logger.V(3).Info("Draining after stop")
		}
	}
}

// execute runs b through the executor and completes every member.
func (c *Coalescer[In, Out]) execute(ctx context.Context, b *batchState[In, Out]) {
	logger := klog.FromContext(ctx)
	b.transition(PhaseExecuting)

	start := c.clock.Now()
	c.stats.dispatched(start)
	c.metrics.recordStart()
	logger.V(4).Info("Executing batch", "batch", b.id, "size", b.size(), "rows", b.total)

	outs, err := c.run(ctx, b)
	elapsed := c.clock.Now().Sub(start)

	c.stats.batches.Add(1)
	c.stats.items.Add(int64(b.size()))
	if b.size() == 1 {
		c.stats.fastPath.Add(1)
	}
	c.metrics.recordBatch(b.size(), elapsed.Seconds(), err != nil)

	if err != nil {
		b.transition(PhaseFailed)
		c.stats.failed.Add(1)
		logger.Error(err, "Batch execution failed", "batch", b.id, "size", b.size())
		b.fail(c.config.Name, err, c.clock.Now())
		return
	}

	b.transition(PhaseCompleted)
	for i, s := range b.slots {
		s.complete(NewSuccess(outs[i]))
	}
	logger.V(4).Info("Completed batch", "batch", b.id, "size", b.size(), "elapsed", elapsed)
}

// run performs the single executor call for b. A batch of one is passed
// through unchanged; larger batches are concatenated in slot order and the
// output is split back by each slot's row count.
func (c *Coalescer[In, Out]) run(ctx context.Context, b *batchState[In, Out]) (outs []Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			outs = nil
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	if b.size() == 1 {
		out, err := c.executor.Execute(ctx, b.slots[0].input)
		if err != nil {
			return nil, err
		}
		return []Out{out}, nil
	}

	combined, err := c.codec.Concat(b.inputs())
	if err != nil {
		return nil, fmt.Errorf("concat batch %d: %w", b.id, err)
	}

	out, err := c.executor.Execute(ctx, combined)
	if err != nil {
		return nil, err
	}

	outs, err = c.codec.Split(out, b.rows)
	if err != nil {
		return nil, fmt.Errorf("split batch %d: %w", b.id, err)
	}
	if len(outs) != b.size() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSplitMismatch, len(outs), b.size())
	}
	return outs, nil
}
