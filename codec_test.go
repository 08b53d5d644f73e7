package batchz

import (
	"errors"
	"testing"
)

func TestSliceCodec_RoundTrip(t *testing.T) {
	codec := SliceCodec[string, int]{}
	inputs := [][]string{{"a"}, {"b", "c"}, {"d", "e", "f"}}

	rows := make([]int, len(inputs))
	for i, in := range inputs {
		rows[i] = codec.Rows(in)
	}

	combined, err := codec.Concat(inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(combined) != 6 || combined[0] != "a" || combined[5] != "f" {
		t.Fatalf("unexpected combined input %v", combined)
	}

	out := []int{1, 2, 3, 4, 5, 6}
	parts, err := codec.Split(out, rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := [][]int{{1}, {2, 3}, {4, 5, 6}}
	for i, p := range parts {
		if len(p) != len(expected[i]) {
			t.Fatalf("part %d: expected %v, got %v", i, expected[i], p)
		}
		for j := range p {
			if p[j] != expected[i][j] {
				t.Errorf("part %d: expected %v, got %v", i, expected[i], p)
			}
		}
	}
}

func TestSliceCodec_SplitPartsDoNotAlias(t *testing.T) {
	codec := SliceCodec[int, int]{}
	parts, err := codec.Split([]int{1, 2, 3}, []int{1, 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Appending to one caller's output must not overwrite the next.
	_ = append(parts[0], 99)
	if parts[1][0] != 2 {
		t.Errorf("expected second part to be untouched, got %v", parts[1])
	}
}

func TestSliceCodec_SplitRowMismatch(t *testing.T) {
	codec := SliceCodec[int, int]{}

	if _, err := codec.Split([]int{1, 2}, []int{1, 2}); !errors.Is(err, ErrRowMismatch) {
		t.Errorf("expected ErrRowMismatch for short output, got %v", err)
	}
	if _, err := codec.Split([]int{1, 2, 3, 4}, []int{1, 2}); !errors.Is(err, ErrRowMismatch) {
		t.Errorf("expected ErrRowMismatch for long output, got %v", err)
	}
}
