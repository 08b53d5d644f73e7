package batchz

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

// Coalescer merges concurrent requests into batches and runs each batch once
// through an Executor.
//
// At most one batch is open at a time. A batch is closed when it reaches
// BatchLimit, or when a worker is idle and the batch's latency window has
// passed. Closed batches wait in a queue bounded by QueueLimit until a worker
// takes them.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type Coalescer[In, Out any] struct {
	executor   Executor[In, Out]
	codec      Codec[In, Out]
	config     Config
	clock      Clock
	registerer prometheus.Registerer
	reporter   *monitor

	metrics *Metrics
	stats   counters

	// All further fields are protected by mu.
	mu        sync.Mutex
	open      *batchState[In, Out]
	pending   []*batchState[In, Out]
	inflight  int
	nextSlot  uint64
	nextBatch uint64
	started   bool
	stopped   bool

	wake      chan struct{}
	quit      chan struct{}
	quitOnce  sync.Once
	drained   chan struct{}
	drainOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewCoalescer creates a coalescer that batches requests for executor,
// merging and splitting them with codec. Use the fluent API to configure it,
// then call Start.
//
// When to use:
//   - Model servers where per-call overhead dominates (GPU kernels, RPC)
//   - Any executor that is much cheaper per item when called with many items
//   - Smoothing bursts of small requests into a few large calls
//
// Example:
//
//	c := batchz.NewCoalescer(model, batchz.TensorCodec{}).
//		WithBatchLimit(64).
//		WithMaxLatency(2 * time.Millisecond).
//		WithWorkers(4).
//		WithMetrics(prometheus.DefaultRegisterer)
//
// Default configuration:
//   - BatchLimit: 1 (no batching)
//   - QueueLimit: 16
//   - Workers: 1
//   - MaxLatency: 0
//
// Panics if executor or codec is nil.
func NewCoalescer[In, Out any](executor Executor[In, Out], codec Codec[In, Out]) *Coalescer[In, Out] {
	if executor == nil {
		panic("batchz: nil executor")
	}
	if codec == nil {
		panic("batchz: nil codec")
	}
	return &Coalescer[In, Out]{
		executor: executor,
		codec:    codec,
		clock:    RealClock,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		drained:  make(chan struct{}),
	}
}

// WithConfig replaces the whole configuration. Unset fields get defaults at Start.
func (c *Coalescer[In, Out]) WithConfig(cfg Config) *Coalescer[In, Out] {
	c.config = cfg
	return c
}

// WithName sets the name used in logs, errors and metric labels.
func (c *Coalescer[In, Out]) WithName(name string) *Coalescer[In, Out] {
	c.config.Name = name
	return c
}

// WithBatchLimit sets the maximum number of requests per batch.
func (c *Coalescer[In, Out]) WithBatchLimit(limit int) *Coalescer[In, Out] {
	c.config.BatchLimit = limit
	return c
}

// WithQueueLimit sets the maximum number of closed batches waiting for a worker.
func (c *Coalescer[In, Out]) WithQueueLimit(limit int) *Coalescer[In, Out] {
	c.config.QueueLimit = limit
	return c
}

// WithWorkers sets the number of goroutines executing batches.
func (c *Coalescer[In, Out]) WithWorkers(workers int) *Coalescer[In, Out] {
	c.config.Workers = workers
	return c
}

// WithMaxLatency sets how long an open batch keeps collecting requests
// before an idle worker may take it.
func (c *Coalescer[In, Out]) WithMaxLatency(d time.Duration) *Coalescer[In, Out] {
	c.config.MaxLatency = d
	return c
}

// WithClock sets the clock used for latency windows and stats reporting.
func (c *Coalescer[In, Out]) WithClock(clock Clock) *Coalescer[In, Out] {
	c.clock = clock
	return c
}

// WithMetrics registers the coalescer's Prometheus metrics with reg at Start.
func (c *Coalescer[In, Out]) WithMetrics(reg prometheus.Registerer) *Coalescer[In, Out] {
	c.registerer = reg
	return c
}

// Config returns the effective configuration. Before Start, unset fields
// are still zero.
func (c *Coalescer[In, Out]) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// Name returns the coalescer name.
func (c *Coalescer[In, Out]) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Name
}

// Start launches the workers. The logger is taken from ctx with
// klog.FromContext. Cancelling ctx stops the workers and fails every request
// that has not started executing with ErrStopped; use Stop for a graceful
// drain.
func (c *Coalescer[In, Out]) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}

	cfg := c.config.Defaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.config = cfg

	if c.registerer != nil {
		m, err := newMetrics(cfg.Name, c.registerer)
		if err != nil {
			return err
		}
		c.metrics = m
	}

	logger := klog.FromContext(ctx).WithValues("coalescer", cfg.Name)
	workCtx, cancel := context.WithCancel(klog.NewContext(ctx, logger))
	c.cancel = cancel

	for workerIdx := range cfg.Workers {
		workLogger := logger.WithValues("worker", workerIdx)
		wctx := klog.NewContext(workCtx, workLogger)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			wait.UntilWithContext(wctx, c.runWorker, time.Second)
			workLogger.V(3).Info("Finished worker")
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-workCtx.Done()
		c.abandon(workCtx)
	}()

	if c.reporter != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.reporter.run(workCtx, c.clock, c.Stats)
		}()
	}

	c.started = true
	logger.V(1).Info("Started coalescer",
		"workers", cfg.Workers, "batchLimit", cfg.BatchLimit,
		"queueLimit", cfg.QueueLimit, "maxLatency", cfg.MaxLatency)
	return nil
}

// Stop refuses new requests, lets the workers run every batch that was
// already accepted, then shuts the workers down. If that takes longer than
// timeout on the coalescer's clock, the remaining queued requests fail with
// ErrStopped and Stop returns ErrStopTimeout.
func (c *Coalescer[In, Out]) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	if c.open != nil {
		if c.open.size() > 0 {
			c.enqueueOpenLocked()
		} else {
			c.open = nil
		}
	}
	c.checkDrainedLocked()
	c.mu.Unlock()
	c.quitOnce.Do(func() { close(c.quit) })

	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.drained:
	case <-timer.C():
		c.cancel()
		return ErrStopTimeout
	}

	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-timer.C():
		return ErrStopTimeout
	}
}

// Submit adds in to the open batch and returns its handle immediately.
// It never blocks. The caller must eventually Await the handle (or watch
// Done) to collect the result.
//
// Submit refuses the request with a *SubmitError when in is nil or has no
// rows, when the coalescer is not running, or when the open batch is full
// and QueueLimit closed batches are already waiting.
func (c *Coalescer[In, Out]) Submit(in In) (*Handle[In, Out], error) {
	rows := 0
	if any(in) != nil {
		rows = c.codec.Rows(in)
	}

	c.mu.Lock()
	name, metrics := c.config.Name, c.metrics
	var refused error
	switch {
	case rows <= 0:
		refused = ErrInvalidInput
	case !c.started:
		refused = ErrNotStarted
	case c.stopped:
		refused = ErrStopped
	case c.open != nil && c.open.full() && len(c.pending) >= c.config.QueueLimit:
		refused = ErrQueueFull
	}
	if refused != nil {
		c.mu.Unlock()
		c.stats.rejected.Add(1)
		metrics.recordReject(rejectReason(refused))
		return nil, &SubmitError{Err: refused, Coalescer: name}
	}

	// The open batch filled up earlier while the queue had no room for it.
	if c.open != nil && c.open.full() {
		c.enqueueOpenLocked()
	}
	if c.open == nil {
		c.openBatchLocked()
	}

	c.nextSlot++
	h := newHandle(c, c.nextSlot, in)
	c.open.add(h, rows)
	if c.open.full() && len(c.pending) < c.config.QueueLimit {
		c.enqueueOpenLocked()
	}
	depth := len(c.pending)
	c.mu.Unlock()

	c.stats.submitted.Add(1)
	metrics.recordSubmit()
	metrics.recordQueue(depth)
	c.poke()
	return h, nil
}

// Await blocks until h completes or ctx is done.
//
// On success it returns the output for h's input. If the batch failed it
// returns a *BatchError carrying the batch's root cause. If ctx ends first it
// returns ctx.Err(); the request stays in its batch and still completes, so
// Await may be called again later. Repeated calls on a completed handle
// return the same result without re-running anything.
func (c *Coalescer[In, Out]) Await(ctx context.Context, h *Handle[In, Out]) (Out, error) {
	var zero Out
	if h == nil || h.owner != c {
		return zero, ErrUnknownHandle
	}

	select {
	case <-h.done:
		return h.result.Unpack()
	default:
	}

	select {
	case <-h.done:
		return h.result.Unpack()
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Do submits in and waits for its output.
func (c *Coalescer[In, Out]) Do(ctx context.Context, in In) (Out, error) {
	h, err := c.Submit(in)
	if err != nil {
		var zero Out
		return zero, err
	}
	return c.Await(ctx, h)
}

// Stats returns a snapshot of the coalescer's counters.
func (c *Coalescer[In, Out]) Stats() Stats {
	c.mu.Lock()
	depth := len(c.pending)
	inflight := c.inflight
	workers := c.config.Workers
	c.mu.Unlock()

	return Stats{
		Submitted:    c.stats.submitted.Load(),
		Rejected:     c.stats.rejected.Load(),
		Batches:      c.stats.batches.Load(),
		Failed:       c.stats.failed.Load(),
		FastPath:     c.stats.fastPath.Load(),
		Items:        c.stats.items.Load(),
		QueueDepth:   depth,
		Inflight:     inflight,
		Workers:      workers,
		LastDispatch: c.stats.lastDispatchTime(),
	}
}

// poke wakes one idle worker, if any.
func (c *Coalescer[In, Out]) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coalescer[In, Out]) openBatchLocked() {
	c.nextBatch++
	b := newBatchState[In, Out](c.nextBatch, c.config.BatchLimit)
	if c.config.MaxLatency > 0 {
		b.timer = c.clock.AfterFunc(c.config.MaxLatency, func() { c.ripen(b) })
	} else {
		b.ripe = true
	}
	c.open = b
}

// ripen marks b as ready for an idle worker once its latency window ends.
func (c *Coalescer[In, Out]) ripen(b *batchState[In, Out]) {
	c.mu.Lock()
	stillOpen := c.open == b
	if stillOpen {
		b.ripe = true
	}
	c.mu.Unlock()
	if stillOpen {
		c.poke()
	}
}

// closeLocked freezes b. Empty batches are never closed.
func (c *Coalescer[In, Out]) closeLocked(b *batchState[In, Out]) bool {
	if b.size() == 0 {
		return false
	}
	b.transition(PhaseClosing)
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return true
}

// enqueueOpenLocked closes the open batch and appends it to the pending queue.
func (c *Coalescer[In, Out]) enqueueOpenLocked() {
	b := c.open
	c.open = nil
	if c.closeLocked(b) {
		c.pending = append(c.pending, b)
	}
}

// takeLocked hands the next runnable batch to a worker: the oldest pending
// batch first, then the open batch if it is ripe or full.
func (c *Coalescer[In, Out]) takeLocked() *batchState[In, Out] {
	if len(c.pending) > 0 {
		b := c.pending[0]
		c.pending[0] = nil
		c.pending = c.pending[1:]
		c.inflight++
		return b
	}
	if b := c.open; b != nil && (b.ripe || b.full()) {
		c.open = nil
		if !c.closeLocked(b) {
			return nil
		}
		c.inflight++
		return b
	}
	return nil
}

// runnableLocked reports whether another worker could take a batch now.
func (c *Coalescer[In, Out]) runnableLocked() bool {
	return len(c.pending) > 0 || (c.open != nil && c.open.size() > 0 && (c.open.ripe || c.open.full()))
}

func (c *Coalescer[In, Out]) checkDrainedLocked() {
	if c.stopped && c.inflight == 0 && len(c.pending) == 0 && c.open == nil {
		c.drainOnce.Do(func() { close(c.drained) })
	}
}

// abandon fails every batch that has not started executing. It runs once the
// worker context ends.
func (c *Coalescer[In, Out]) abandon(ctx context.Context) {
	c.mu.Lock()
	c.stopped = true
	var left []*batchState[In, Out]
	if c.open != nil {
		if c.closeLocked(c.open) {
			left = append(left, c.open)
		}
		c.open = nil
	}
	left = append(left, c.pending...)
	c.pending = nil
	c.checkDrainedLocked()
	c.mu.Unlock()
	c.quitOnce.Do(func() { close(c.quit) })
	c.metrics.recordQueue(0)

	if len(left) == 0 {
		return
	}
	klog.FromContext(ctx).V(1).Info("Failing batches left behind at shutdown", "batches", len(left))
	now := c.clock.Now()
	for _, b := range left {
		b.transition(PhaseExecuting)
		b.transition(PhaseFailed)
		b.fail(c.config.Name, ErrStopped, now)
		c.stats.failed.Add(1)
	}
}
