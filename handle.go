package batchz

import "sync"

// Handle is the caller's view of one submitted request. It is returned by
// Submit right away and completes when the batch the request was merged into
// finishes.
//
// A Handle is owned by its batch until it completes. After that the result
// belongs to the caller and may be read any number of times.
type Handle[In, Out any] struct {
	owner *Coalescer[In, Out]
	id    uint64
	input In

	once   sync.Once
	done   chan struct{}
	result Result[Out]
}

func newHandle[In, Out any](owner *Coalescer[In, Out], id uint64, input In) *Handle[In, Out] {
	return &Handle[In, Out]{
		owner: owner,
		id:    id,
		input: input,
		done:  make(chan struct{}),
	}
}

// ID returns the request id, unique and increasing per Coalescer.
func (h *Handle[In, Out]) ID() uint64 {
	return h.id
}

// Done returns a channel that is closed once the result is available.
func (h *Handle[In, Out]) Done() <-chan struct{} {
	return h.done
}

// Result returns the result and true if the request has completed,
// or a zero Result and false if it is still pending. It never blocks.
func (h *Handle[In, Out]) Result() (Result[Out], bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return Result[Out]{}, false
	}
}

// complete stores r and wakes every waiter. Only the first call has any
// effect; the result is write-once.
func (h *Handle[In, Out]) complete(r Result[Out]) bool {
	completed := false
	h.once.Do(func() {
		h.result = r
		close(h.done)
		completed = true
	})
	return completed
}
