package batchz

import (
	"sync/atomic"
	"time"
)

// Stats is a snapshot of a coalescer's counters.
type Stats struct {
	Submitted  int64 `json:"submitted"`
	Rejected   int64 `json:"rejected"`
	Batches    int64 `json:"batches"`
	Failed     int64 `json:"failed"`
	FastPath   int64 `json:"fast_path"`
	Items      int64 `json:"items"`
	QueueDepth int   `json:"queue_depth"`
	Inflight   int   `json:"inflight"`
	Workers    int   `json:"workers"`

	// LastDispatch is when the most recent batch started executing.
	LastDispatch time.Time `json:"last_dispatch"`
}

// AverageBatchSize returns Items / Batches, or 0 before the first batch.
func (s Stats) AverageBatchSize() float64 {
	if s.Batches == 0 {
		return 0
	}
	return float64(s.Items) / float64(s.Batches)
}

type counters struct {
	submitted    atomic.Int64
	rejected     atomic.Int64
	batches      atomic.Int64
	failed       atomic.Int64
	fastPath     atomic.Int64
	items        atomic.Int64
	lastDispatch atomic.Int64 // unix nanos, 0 until the first dispatch
}

func (c *counters) dispatched(at time.Time) {
	c.lastDispatch.Store(at.UnixNano())
}

func (c *counters) lastDispatchTime() time.Time {
	nanos := c.lastDispatch.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
