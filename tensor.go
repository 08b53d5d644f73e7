package batchz

import (
	"fmt"
	"slices"
	"sort"
)

// Tensor is a dense row-major float32 array. Shape[0] is the batch dimension.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// NewTensor validates that data holds exactly the number of elements shape
// describes.
func NewTensor(shape []int, data []float32) (Tensor, error) {
	if len(shape) == 0 {
		return Tensor{}, fmt.Errorf("%w: tensor needs at least one dimension", ErrShapeMismatch)
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return Tensor{}, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, shape)
		}
		n *= d
	}
	if n != len(data) {
		return Tensor{}, fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrShapeMismatch, shape, n, len(data))
	}
	return Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

// Rows returns the size of the batch dimension.
func (t Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// rowSize is the number of elements in one row.
func (t Tensor) rowSize() int {
	n := 1
	for _, d := range t.Shape[1:] {
		n *= d
	}
	return n
}

// Tensors maps input or output names to tensors that share a batch dimension.
type Tensors map[string]Tensor

// Names returns the tensor names in sorted order.
func (ts Tensors) Names() []string {
	names := make([]string, 0, len(ts))
	for name := range ts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TensorCodec batches named tensors along dimension 0. Every request must
// carry the same tensor names with the same trailing dimensions.
type TensorCodec struct{}

// Rows returns the common batch dimension of in, or 0 if in is empty or its
// tensors disagree.
func (TensorCodec) Rows(in Tensors) int {
	rows := -1
	for _, t := range in {
		if len(t.Shape) == 0 || len(t.Data) != t.Rows()*t.rowSize() {
			return 0
		}
		if rows >= 0 && t.Rows() != rows {
			return 0
		}
		rows = t.Rows()
	}
	if rows < 0 {
		return 0
	}
	return rows
}

// Concat stacks inputs along dimension 0.
func (TensorCodec) Concat(inputs []Tensors) (Tensors, error) {
	if len(inputs) == 0 {
		return Tensors{}, nil
	}
	first := inputs[0]
	combined := make(Tensors, len(first))

	for _, name := range first.Names() {
		ref := first[name]
		total := 0
		for i, in := range inputs {
			t, ok := in[name]
			if !ok {
				return nil, fmt.Errorf("%w: input %d has no tensor %q", ErrShapeMismatch, i, name)
			}
			if !slices.Equal(t.Shape[1:], ref.Shape[1:]) {
				return nil, fmt.Errorf("%w: tensor %q has shape %v in input %d, want [*%v]",
					ErrShapeMismatch, name, t.Shape, i, ref.Shape[1:])
			}
			total += t.Rows()
		}

		data := make([]float32, 0, total*ref.rowSize())
		for _, in := range inputs {
			data = append(data, in[name].Data...)
		}
		shape := slices.Clone(ref.Shape)
		shape[0] = total
		combined[name] = Tensor{Shape: shape, Data: data}
	}

	for i, in := range inputs[1:] {
		if len(in) != len(first) {
			return nil, fmt.Errorf("%w: input %d has %d tensors, want %d", ErrShapeMismatch, i+1, len(in), len(first))
		}
	}
	return combined, nil
}

// Split cuts every tensor of out into consecutive row ranges.
func (TensorCodec) Split(out Tensors, rows []int) ([]Tensors, error) {
	total := 0
	for _, n := range rows {
		total += n
	}

	outs := make([]Tensors, len(rows))
	for i := range outs {
		outs[i] = make(Tensors, len(out))
	}

	for name, t := range out {
		if t.Rows() != total {
			return nil, fmt.Errorf("%w: output %q has %d rows, batch has %d", ErrRowMismatch, name, t.Rows(), total)
		}
		if len(t.Data) != total*t.rowSize() {
			return nil, fmt.Errorf("%w: output %q has %d elements for shape %v", ErrShapeMismatch, name, len(t.Data), t.Shape)
		}

		width := t.rowSize()
		offset := 0
		for i, n := range rows {
			start, end := offset*width, (offset+n)*width
			shape := slices.Clone(t.Shape)
			shape[0] = n
			outs[i][name] = Tensor{Shape: shape, Data: t.Data[start:end:end]}
			offset += n
		}
	}
	return outs, nil
}
