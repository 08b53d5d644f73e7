package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	batchz "github.com/zoobzio/batchz"
)

func TestModel_SumsRows(t *testing.T) {
	m := &model{}
	x, err := batchz.NewTensor([]int{2, 3}, []float32{1, 2, 3, 10, 20, 30})
	require.NoError(t, err)

	out, err := m.Execute(context.Background(), batchz.Tensors{"features": x})
	require.NoError(t, err)

	scores := out["scores"]
	assert.Equal(t, []int{2, 1}, scores.Shape)
	assert.Equal(t, []float32{6, 60}, scores.Data)
	assert.EqualValues(t, 1, m.calls.Load())
}

func TestModel_MissingFeatures(t *testing.T) {
	_, err := (&model{}).Execute(context.Background(), batchz.Tensors{})
	assert.Error(t, err)
}

func TestRequest(t *testing.T) {
	in, err := request(7, 2, 4)
	require.NoError(t, err)

	x := in["features"]
	assert.Equal(t, 2, x.Rows())
	assert.Len(t, x.Data, 8)
	assert.Equal(t, float32(7), x.Data[5])
}

func TestRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := batchz.Config{Name: "bench-test", BatchLimit: 8, QueueLimit: 64, Workers: 2, MaxLatency: time.Millisecond}
	err := run(ctx, cfg, benchOptions{
		callers:      4,
		requests:     5,
		rows:         2,
		features:     3,
		modelLatency: time.Millisecond,
	})
	require.NoError(t, err)
}
