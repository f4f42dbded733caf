package nn

import (
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-rat/internal/tensor"
)

// MLP is a stack of Linear -> activation -> dropout hidden layers followed by
// a plain Linear output layer.
type MLP struct {
	hidden     []*Linear
	drops      []*Dropout
	activation Activation
	out        *Linear
}

func NewMLP(ctx *Context, in, out int, hiddenUnits []int, activation Activation, dropout float64) *MLP {
	m := &MLP{activation: activation}
	width := in
	for _, units := range hiddenUnits {
		m.hidden = append(m.hidden, NewLinear(ctx, width, units, true))
		m.drops = append(m.drops, NewDropout(ctx, dropout))
		width = units
	}
	m.out = NewLinear(ctx, width, out, true)
	return m
}

func (m *MLP) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h := x
	for i, layer := range m.hidden {
		var err error
		if h, err = layer.Forward(h); err != nil {
			return nil, errors.Wrapf(err, "mlp hidden layer %d", i)
		}
		if m.activation != nil {
			h = tensor.Apply(h, m.activation)
		}
		if h, err = m.drops[i].Forward(h); err != nil {
			return nil, err
		}
	}
	return m.out.Forward(h)
}
