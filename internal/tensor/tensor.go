package tensor

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// ErrShape is returned by every operation whose operands do not agree in shape.
var ErrShape = errors.New("tensor shape mismatch")

// Tensor is a dense row-major float64 array. Data is always contiguous.
type Tensor struct {
	shape []int
	data  []float64
}

// New allocates a zero-filled tensor.
func New(shape ...int) *Tensor {
	return &Tensor{
		shape: append([]int(nil), shape...),
		data:  make([]float64, numel(shape)),
	}
}

// Full allocates a tensor with every element set to v.
func Full(v float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// FromSlice wraps data without copying.
func FromSlice(data []float64, shape ...int) (*Tensor, error) {
	if numel(shape) != len(data) {
		return nil, errors.Wrapf(ErrShape, "cannot view %d values as %v", len(data), shape)
	}
	return &Tensor{shape: append([]int(nil), shape...), data: data}, nil
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

func (t *Tensor) Rank() int {
	return len(t.shape)
}

func (t *Tensor) Dim(axis int) int {
	return t.shape[axis]
}

func (t *Tensor) Len() int {
	return len(t.data)
}

// Data exposes the backing slice.
func (t *Tensor) Data() []float64 {
	return t.data
}

func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		shape: append([]int(nil), t.shape...),
		data:  append([]float64(nil), t.data...),
	}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: %d indices for rank %d", len(idx), len(t.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for axis %d of %v", v, i, t.shape))
		}
		off = off*t.shape[i] + v
	}
	return off
}

func (t *Tensor) At(idx ...int) float64 {
	return t.data[t.offset(idx)]
}

func (t *Tensor) Set(v float64, idx ...int) {
	t.data[t.offset(idx)] = v
}

// Reshape returns a view sharing the same data.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if numel(shape) != len(t.data) {
		return nil, errors.Wrapf(ErrShape, "cannot reshape %v into %v", t.shape, shape)
	}
	return &Tensor{shape: append([]int(nil), shape...), data: t.data}, nil
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	return equalShape(a.shape, b.shape)
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Expect fails unless t has exactly the given shape.
func Expect(t *Tensor, shape ...int) error {
	if !equalShape(t.shape, shape) {
		return errors.Wrapf(ErrShape, "expected %v, got %v", shape, t.shape)
	}
	return nil
}

// SwapAxes returns a contiguous copy of t with axes i and j exchanged.
func SwapAxes(t *Tensor, i, j int) (*Tensor, error) {
	rank := len(t.shape)
	if i < 0 || j < 0 || i >= rank || j >= rank {
		return nil, errors.Wrapf(ErrShape, "swap axes %d,%d on rank %d", i, j, rank)
	}
	outShape := append([]int(nil), t.shape...)
	outShape[i], outShape[j] = outShape[j], outShape[i]
	out := New(outShape...)
	if i == j || len(t.data) == 0 {
		copy(out.data, t.data)
		return out, nil
	}

	strides := make([]int, rank)
	s := 1
	for a := rank - 1; a >= 0; a-- {
		strides[a] = s
		s *= t.shape[a]
	}
	// stride of each output axis in the source buffer
	src := append([]int(nil), strides...)
	src[i], src[j] = src[j], src[i]

	idx := make([]int, rank)
	off := 0
	for n := range out.data {
		out.data[n] = t.data[off]
		for a := rank - 1; a >= 0; a-- {
			idx[a]++
			off += src[a]
			if idx[a] < outShape[a] {
				break
			}
			off -= src[a] * idx[a]
			idx[a] = 0
		}
	}
	return out, nil
}

// Concat joins tensors along axis. All other axes must agree.
func Concat(axis int, ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.Wrap(ErrShape, "concat of nothing")
	}
	rank := len(ts[0].shape)
	if axis < 0 || axis >= rank {
		return nil, errors.Wrapf(ErrShape, "concat axis %d on rank %d", axis, rank)
	}
	outShape := append([]int(nil), ts[0].shape...)
	outShape[axis] = 0
	for _, t := range ts {
		if len(t.shape) != rank {
			return nil, errors.Wrapf(ErrShape, "concat rank %d with %v", rank, t.shape)
		}
		for a := range t.shape {
			if a != axis && t.shape[a] != ts[0].shape[a] {
				return nil, errors.Wrapf(ErrShape, "concat %v with %v on axis %d", ts[0].shape, t.shape, axis)
			}
		}
		outShape[axis] += t.shape[axis]
	}

	outer := numel(outShape[:axis])
	inner := numel(outShape[axis+1:])
	out := New(outShape...)
	pos := 0
	for o := 0; o < outer; o++ {
		for _, t := range ts {
			chunk := t.shape[axis] * inner
			copy(out.data[pos:pos+chunk], t.data[o*chunk:(o+1)*chunk])
			pos += chunk
		}
	}
	return out, nil
}

// Select picks index along axis and drops that axis.
func Select(t *Tensor, axis, index int) (*Tensor, error) {
	rank := len(t.shape)
	if axis < 0 || axis >= rank {
		return nil, errors.Wrapf(ErrShape, "select axis %d on rank %d", axis, rank)
	}
	if index < 0 || index >= t.shape[axis] {
		return nil, errors.Wrapf(ErrShape, "select index %d outside axis %d of %v", index, axis, t.shape)
	}
	outShape := append(append([]int(nil), t.shape[:axis]...), t.shape[axis+1:]...)
	outer := numel(t.shape[:axis])
	inner := numel(t.shape[axis+1:])
	dim := t.shape[axis]
	out := New(outShape...)
	for o := 0; o < outer; o++ {
		src := (o*dim + index) * inner
		copy(out.data[o*inner:(o+1)*inner], t.data[src:src+inner])
	}
	return out, nil
}

// Add returns a + b elementwise.
func Add(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, errors.Wrapf(ErrShape, "add %v and %v", a.shape, b.shape)
	}
	out := a.Clone()
	floats.Add(out.data, b.data)
	return out, nil
}

// Mean returns the elementwise arithmetic mean of ts.
func Mean(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.Wrap(ErrShape, "mean of nothing")
	}
	out := ts[0].Clone()
	for _, t := range ts[1:] {
		if !SameShape(ts[0], t) {
			return nil, errors.Wrapf(ErrShape, "mean %v and %v", ts[0].shape, t.shape)
		}
		floats.Add(out.data, t.data)
	}
	floats.Scale(1/float64(len(ts)), out.data)
	return out, nil
}

// AllClose reports whether a and b share a shape and agree within tol.
func AllClose(a, b *Tensor, tol float64) bool {
	return SameShape(a, b) && floats.EqualApprox(a.data, b.data, tol)
}
