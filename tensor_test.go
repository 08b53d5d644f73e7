package batchz

import (
	"errors"
	"slices"
	"testing"
)

func mustTensor(t *testing.T, shape []int, data []float32) Tensor {
	t.Helper()
	tensor, err := NewTensor(shape, data)
	if err != nil {
		t.Fatalf("NewTensor(%v): %v", shape, err)
	}
	return tensor
}

func TestNewTensor(t *testing.T) {
	tensor := mustTensor(t, []int{2, 3}, make([]float32, 6))
	if tensor.Rows() != 2 || tensor.rowSize() != 3 {
		t.Errorf("expected 2 rows of 3, got %d rows of %d", tensor.Rows(), tensor.rowSize())
	}

	tests := []struct {
		name  string
		shape []int
		data  []float32
	}{
		{"no dimensions", nil, nil},
		{"negative dimension", []int{-1, 2}, nil},
		{"too few elements", []int{2, 2}, make([]float32, 3)},
		{"too many elements", []int{1, 2}, make([]float32, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTensor(tt.shape, tt.data); !errors.Is(err, ErrShapeMismatch) {
				t.Errorf("expected ErrShapeMismatch, got %v", err)
			}
		})
	}
}

func TestTensors_Names(t *testing.T) {
	ts := Tensors{"token_ids": {}, "attention_mask": {}, "position_ids": {}}
	expected := []string{"attention_mask", "position_ids", "token_ids"}
	if names := ts.Names(); !slices.Equal(names, expected) {
		t.Errorf("expected %v, got %v", expected, names)
	}
}

func TestTensorCodec_Rows(t *testing.T) {
	codec := TensorCodec{}

	in := Tensors{
		"ids":  mustTensor(t, []int{3, 4}, make([]float32, 12)),
		"mask": mustTensor(t, []int{3, 4}, make([]float32, 12)),
	}
	if rows := codec.Rows(in); rows != 3 {
		t.Errorf("expected 3 rows, got %d", rows)
	}

	if rows := codec.Rows(Tensors{}); rows != 0 {
		t.Errorf("expected 0 rows for empty input, got %d", rows)
	}

	disagree := Tensors{
		"ids":  mustTensor(t, []int{3, 4}, make([]float32, 12)),
		"mask": mustTensor(t, []int{2, 4}, make([]float32, 8)),
	}
	if rows := codec.Rows(disagree); rows != 0 {
		t.Errorf("expected 0 rows for mismatched batch dims, got %d", rows)
	}

	broken := Tensors{"ids": {Shape: []int{2, 2}, Data: make([]float32, 3)}}
	if rows := codec.Rows(broken); rows != 0 {
		t.Errorf("expected 0 rows for inconsistent tensor, got %d", rows)
	}
}

func TestTensorCodec_ConcatSplit(t *testing.T) {
	codec := TensorCodec{}
	a := Tensors{"x": mustTensor(t, []int{1, 2}, []float32{1, 2})}
	b := Tensors{"x": mustTensor(t, []int{2, 2}, []float32{3, 4, 5, 6})}

	combined, err := codec.Concat([]Tensors{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	x := combined["x"]
	if !slices.Equal(x.Shape, []int{3, 2}) {
		t.Errorf("expected shape [3 2], got %v", x.Shape)
	}
	if !slices.Equal(x.Data, []float32{1, 2, 3, 4, 5, 6}) {
		t.Errorf("unexpected data %v", x.Data)
	}
	if a["x"].Shape[0] != 1 {
		t.Error("concat must not modify its inputs")
	}

	parts, err := codec.Split(Tensors{"y": x}, []int{1, 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if y := parts[0]["y"]; !slices.Equal(y.Shape, []int{1, 2}) || !slices.Equal(y.Data, []float32{1, 2}) {
		t.Errorf("unexpected first part %+v", y)
	}
	if y := parts[1]["y"]; !slices.Equal(y.Shape, []int{2, 2}) || !slices.Equal(y.Data, []float32{3, 4, 5, 6}) {
		t.Errorf("unexpected second part %+v", y)
	}
}

func TestTensorCodec_ConcatMismatch(t *testing.T) {
	codec := TensorCodec{}
	base := Tensors{"x": mustTensor(t, []int{1, 2}, []float32{1, 2})}

	tests := []struct {
		name  string
		other Tensors
	}{
		{"missing tensor", Tensors{"y": mustTensor(t, []int{1, 2}, []float32{1, 2})}},
		{"trailing shape", Tensors{"x": mustTensor(t, []int{1, 3}, []float32{1, 2, 3})}},
		{"extra tensor", Tensors{
			"x": mustTensor(t, []int{1, 2}, []float32{1, 2}),
			"z": mustTensor(t, []int{1, 1}, []float32{1}),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := codec.Concat([]Tensors{base, tt.other}); !errors.Is(err, ErrShapeMismatch) {
				t.Errorf("expected ErrShapeMismatch, got %v", err)
			}
		})
	}
}

func TestTensorCodec_SplitMismatch(t *testing.T) {
	codec := TensorCodec{}

	out := Tensors{"y": mustTensor(t, []int{2, 1}, []float32{1, 2})}
	if _, err := codec.Split(out, []int{1, 2}); !errors.Is(err, ErrRowMismatch) {
		t.Errorf("expected ErrRowMismatch, got %v", err)
	}

	bad := Tensors{"y": {Shape: []int{3, 2}, Data: make([]float32, 5)}}
	if _, err := codec.Split(bad, []int{1, 2}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}
