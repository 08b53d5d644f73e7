package batchz

import "fmt"

// SliceCodec batches slice inputs: each request is a slice of items, the
// combined input is all requests' items in submission order, and the
// combined output must hold exactly one result per input item.
//
// Example:
//
//	c := batchz.NewCoalescer(model, batchz.SliceCodec[string, string]{})
//	out, err := c.Do(ctx, []string{"a"}) // out == []string{"A"}
type SliceCodec[T, R any] struct{}

// Rows returns len(in).
func (SliceCodec[T, R]) Rows(in []T) int {
	return len(in)
}

// Concat appends inputs in order.
func (SliceCodec[T, R]) Concat(inputs [][]T) ([]T, error) {
	total := 0
	for _, in := range inputs {
		total += len(in)
	}
	combined := make([]T, 0, total)
	for _, in := range inputs {
		combined = append(combined, in...)
	}
	return combined, nil
}

// Split cuts out into consecutive runs of rows[i] items.
func (SliceCodec[T, R]) Split(out []R, rows []int) ([][]R, error) {
	total := 0
	for _, n := range rows {
		total += n
	}
	if total != len(out) {
		return nil, fmt.Errorf("%w: output has %d rows, batch has %d", ErrRowMismatch, len(out), total)
	}

	outs := make([][]R, len(rows))
	offset := 0
	for i, n := range rows {
		outs[i] = out[offset : offset+n : offset+n]
		offset += n
	}
	return outs, nil
}
