package nn

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-rat/internal/tensor"
)

func TestLinearForward(t *testing.T) {
	ctx := NewContext(1)
	l := NewLinear(ctx, 2, 3, true)
	l.Weight = mat.NewDense(2, 3, []float64{
		1, 0, 2,
		0, 1, 3,
	})
	l.Bias = []float64{0.5, 0.5, 0.5}

	x, err := tensor.FromSlice([]float64{1, 2, 3, 4}, 2, 1, 2)
	require.NoError(t, err)
	y, err := l.Forward(x)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 1, 3}, y.Shape())
	assert.Equal(t, []float64{1.5, 2.5, 8.5, 3.5, 4.5, 18.5}, y.Data())
	assert.Equal(t, 9, ctx.NumParameters())
}

func TestLinearRejectsWidth(t *testing.T) {
	l := NewLinear(NewContext(1), 4, 2, false)
	_, err := l.Forward(tensor.New(3, 5))
	assert.True(t, errors.Is(err, tensor.ErrShape))
}

func TestLayerNorm(t *testing.T) {
	n := NewLayerNorm(NewContext(1), 4)
	x, _ := tensor.FromSlice([]float64{1, 2, 3, 4, 10, 10, 10, 10}, 2, 4)
	y, err := n.Forward(x)
	require.NoError(t, err)

	row := y.Data()[:4]
	mean, sq := 0.0, 0.0
	for _, v := range row {
		mean += v
		sq += v * v
	}
	assert.InDelta(t, 0, mean/4, 1e-9)
	assert.InDelta(t, 1, sq/4, 1e-4)

	for _, v := range y.Data()[4:] {
		assert.InDelta(t, 0, v, 1e-9)
	}
}

func TestDropoutModes(t *testing.T) {
	ctx := NewContext(7)
	d := NewDropout(ctx, 0.5)
	x := tensor.Full(1, 1000)

	y, err := d.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, x.Data(), y.Data(), "eval mode must be identity")

	ctx.Train()
	y, err = d.Forward(x)
	require.NoError(t, err)
	zeros := 0
	for _, v := range y.Data() {
		if v == 0 {
			zeros++
		} else {
			assert.Equal(t, 2.0, v)
		}
	}
	assert.InDelta(t, 500, zeros, 100)
}

func TestParseActivation(t *testing.T) {
	for _, name := range []string{"relu", "ReLU", "gelu", "tanh", "sigmoid"} {
		fn, err := ParseActivation(name)
		require.NoError(t, err, name)
		require.NotNil(t, fn, name)
	}
	fn, err := ParseActivation("")
	require.NoError(t, err)
	assert.Nil(t, fn)

	_, err = ParseActivation("swish-ish")
	assert.Error(t, err)
}

func TestEmbeddingRow(t *testing.T) {
	e := NewEmbedding(NewContext(3), 5, 4, 1e-4)
	row, err := e.Row(4)
	require.NoError(t, err)
	assert.Len(t, row, 4)
	for _, v := range row {
		assert.True(t, math.Abs(v) < 1e-2)
	}

	_, err = e.Row(5)
	assert.Error(t, err)
}

func TestMLPShape(t *testing.T) {
	ctx := NewContext(11)
	act, _ := ParseActivation("relu")
	m := NewMLP(ctx, 6, 1, []int{8, 4}, act, 0)
	y, err := m.Forward(tensor.Full(0.3, 5, 6))
	require.NoError(t, err)
	assert.Equal(t, []int{5, 1}, y.Shape())
	assert.Equal(t, 6*8+8+8*4+4+4*1+1, ctx.NumParameters())
}

func TestContextIsSeeded(t *testing.T) {
	a := NewLinear(NewContext(42), 3, 3, false)
	b := NewLinear(NewContext(42), 3, 3, false)
	assert.True(t, mat.Equal(a.Weight, b.Weight))
}
