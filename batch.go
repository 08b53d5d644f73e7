package batchz

import (
	"fmt"
	"time"
)

// BatchPhase is the lifecycle state of a batch.
type BatchPhase int

const (
	// PhaseOpen accepts new requests. It is the only phase that does.
	PhaseOpen BatchPhase = iota
	// PhaseClosing is frozen and waiting for a worker.
	PhaseClosing
	// PhaseExecuting is being run by a worker.
	PhaseExecuting
	// PhaseCompleted delivered an output to every member.
	PhaseCompleted
	// PhaseFailed delivered the same error to every member.
	PhaseFailed
)

// String returns a human-readable representation of the phase.
func (p BatchPhase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseClosing:
		return "closing"
	case PhaseExecuting:
		return "executing"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// next reports whether to is the successor of p.
func (p BatchPhase) next(to BatchPhase) bool {
	switch p {
	case PhaseOpen:
		return to == PhaseClosing
	case PhaseClosing:
		return to == PhaseExecuting
	case PhaseExecuting:
		return to == PhaseCompleted || to == PhaseFailed
	default:
		return false
	}
}

// batchState is the set of requests merged together for one Executor call.
// Fields up to and including ripe are guarded by the owning Coalescer's mutex
// while the batch is open. Once closed the batch belongs to a single worker.
type batchState[In, Out any] struct {
	id    uint64
	limit int
	phase BatchPhase

	// slots and rows are parallel: slot i contributes rows[i] rows to the
	// combined input, after the rows of every earlier slot.
	slots   []*Handle[In, Out]
	rows    []int
	total   int

	// ripe is set once the latency window has elapsed.
	ripe  bool
	timer Timer
}

func newBatchState[In, Out any](id uint64, limit int) *batchState[In, Out] {
	return &batchState[In, Out]{
		id:      id,
		limit:   limit,
		phase:   PhaseOpen,
		slots:   make([]*Handle[In, Out], 0, limit),
		rows:    make([]int, 0, limit),
	}
}

// add appends h as the next slot. The caller holds the coalescer mutex,
// so a slot's position is fixed by the append itself.
func (b *batchState[In, Out]) add(h *Handle[In, Out], rows int) {
	if b.phase != PhaseOpen {
		panic(fmt.Sprintf("batchz: add to batch %d in phase %s", b.id, b.phase))
	}
	b.slots = append(b.slots, h)
	b.rows = append(b.rows, rows)
	b.total += rows
}

func (b *batchState[In, Out]) size() int {
	return len(b.slots)
}

func (b *batchState[In, Out]) full() bool {
	return len(b.slots) >= b.limit
}

func (b *batchState[In, Out]) transition(to BatchPhase) {
	if !b.phase.next(to) {
		panic(fmt.Sprintf("batchz: invalid batch transition %s -> %s", b.phase, to))
	}
	b.phase = to
}

func (b *batchState[In, Out]) inputs() []In {
	ins := make([]In, len(b.slots))
	for i, s := range b.slots {
		ins[i] = s.input
	}
	return ins
}

// fail delivers err to every member, each wrapped in its own BatchError.
func (b *batchState[In, Out]) fail(name string, err error, at time.Time) {
	for _, s := range b.slots {
		s.complete(NewError[Out](&BatchError{
			Err:       err,
			Coalescer: name,
			BatchID:   b.id,
			BatchSize: len(b.slots),
			SlotID:    s.id,
			Timestamp: at,
		}))
	}
}
