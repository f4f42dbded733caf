package nn

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-rat/internal/tensor"
)

// Linear maps the last axis of its input from In to Out features.
// Weight is stored In x Out so a batch of rows multiplies directly.
type Linear struct {
	In, Out int
	Weight  *mat.Dense
	Bias    []float64
}

// NewLinear allocates a xavier-normal initialised layer with zero bias.
func NewLinear(ctx *Context, in, out int, bias bool) *Linear {
	l := &Linear{In: in, Out: out, Weight: mat.NewDense(in, out, nil)}
	ctx.XavierNormal(l.Weight)
	ctx.register(in * out)
	if bias {
		l.Bias = make([]float64, out)
		ctx.register(out)
	}
	return l
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	shape := x.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != l.In {
		return nil, errors.Wrapf(tensor.ErrShape, "linear %d->%d got input %v", l.In, l.Out, shape)
	}
	rows := x.Len() / l.In
	shape[len(shape)-1] = l.Out
	if rows == 0 {
		return tensor.New(shape...), nil
	}

	in := mat.NewDense(rows, l.In, x.Data())
	out := mat.NewDense(rows, l.Out, nil)
	out.Mul(in, l.Weight)
	data := out.RawMatrix().Data
	if l.Bias != nil {
		for r := 0; r < rows; r++ {
			floats.Add(data[r*l.Out:(r+1)*l.Out], l.Bias)
		}
	}
	return tensor.FromSlice(data, shape...)
}
