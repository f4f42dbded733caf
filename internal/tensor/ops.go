package tensor

import (
	"math"
)

// Softmax normalises x in place. The max is subtracted first so large logits
// do not overflow.
func Softmax(x []float64) {
	if len(x) == 0 {
		return
	}
	max := x[0]
	for _, v := range x {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for i := range x {
		x[i] = math.Exp(x[i] - max)
		sum += x[i]
	}
	if sum > 0 {
		inv := 1.0 / sum
		for i := range x {
			x[i] *= inv
		}
	}
}

// GELU is the exact erf form, 0.5*x*(1+erf(x/sqrt(2))).
func GELU(x float64) float64 {
	return 0.5 * x * (1 + math.Erf(x/math.Sqrt2))
}

func ReLU(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func Tanh(x float64) float64 {
	return math.Tanh(x)
}

// Apply returns a new tensor with fn applied to every element.
func Apply(t *Tensor, fn func(float64) float64) *Tensor {
	out := New(t.shape...)
	for i, v := range t.data {
		out.data[i] = fn(v)
	}
	return out
}

// CountNonFinite counts NaN and Inf values.
func CountNonFinite(data []float64) (nanCount, infCount int) {
	for _, v := range data {
		if math.IsNaN(v) {
			nanCount++
		}
		if math.IsInf(v, 0) {
			infCount++
		}
	}
	return
}
