package tensor

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = float64(i)
	}
	return t
}

func TestReshapeSharesData(t *testing.T) {
	x := seq(2, 3, 4)
	v, err := x.Reshape(6, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 4}, v.Shape())

	v.Set(-1, 5, 3)
	assert.Equal(t, -1.0, x.At(1, 2, 3))

	_, err = x.Reshape(5, 5)
	assert.True(t, errors.Is(err, ErrShape))
}

func TestSwapAxes(t *testing.T) {
	x := seq(2, 3, 4, 5)
	y, err := SwapAxes(x, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 3, 5}, y.Shape())

	for b := 0; b < 2; b++ {
		for i := 0; i < 3; i++ {
			for j := 0; j < 4; j++ {
				for d := 0; d < 5; d++ {
					require.Equal(t, x.At(b, i, j, d), y.At(b, j, i, d))
				}
			}
		}
	}

	back, err := SwapAxes(y, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, x.Data(), back.Data())
}

func TestSwapAxesRejectsBadAxis(t *testing.T) {
	_, err := SwapAxes(seq(2, 2), 0, 2)
	assert.True(t, errors.Is(err, ErrShape))
}

func TestConcat(t *testing.T) {
	a := Full(1, 2, 1, 3)
	b := Full(2, 2, 2, 3)
	c, err := Concat(1, a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 3}, c.Shape())
	for n := 0; n < 2; n++ {
		assert.Equal(t, 1.0, c.At(n, 0, 2))
		assert.Equal(t, 2.0, c.At(n, 1, 0))
		assert.Equal(t, 2.0, c.At(n, 2, 1))
	}

	_, err = Concat(1, a, Full(0, 3, 1, 3))
	assert.True(t, errors.Is(err, ErrShape))
}

func TestSelect(t *testing.T) {
	x := seq(2, 3, 4)
	s, err := Select(x, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, s.Shape())
	for b := 0; b < 2; b++ {
		for d := 0; d < 4; d++ {
			assert.Equal(t, x.At(b, 2, d), s.At(b, d))
		}
	}

	_, err = Select(x, 1, 3)
	assert.True(t, errors.Is(err, ErrShape))
}

func TestMeanAndAdd(t *testing.T) {
	m, err := Mean(Full(2, 3, 3), Full(4, 3, 3))
	require.NoError(t, err)
	for _, v := range m.Data() {
		assert.Equal(t, 3.0, v)
	}

	s, err := Add(Full(1, 2), Full(0.5, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 1.5}, s.Data())

	_, err = Add(Full(1, 2), Full(1, 3))
	assert.True(t, errors.Is(err, ErrShape))
}

func TestSoftmaxStability(t *testing.T) {
	x := make([]float64, 10)
	for i := range x {
		x[i] = 1000 + float64(i)
	}
	Softmax(x)

	sum := 0.0
	for i, v := range x {
		require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "index %d", i)
		require.True(t, v >= 0 && v <= 1)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestActivations(t *testing.T) {
	tests := []struct {
		name string
		fn   func(float64) float64
		in   float64
		want float64
	}{
		{"gelu zero", GELU, 0, 0},
		{"gelu one", GELU, 1, 0.8413447460685429},
		{"relu negative", ReLU, -2, 0},
		{"relu positive", ReLU, 2, 2},
		{"sigmoid zero", Sigmoid, 0, 0.5},
		{"sigmoid large negative", Sigmoid, -800, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.fn(tt.in), 1e-12)
		})
	}
}

func TestCountNonFinite(t *testing.T) {
	nan, inf := CountNonFinite([]float64{1, math.NaN(), math.Inf(1), math.Inf(-1)})
	assert.Equal(t, 1, nan)
	assert.Equal(t, 2, inf)
}
