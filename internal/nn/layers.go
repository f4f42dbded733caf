package nn

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-rat/internal/tensor"
)

// LayerNorm normalises over the last axis with a learned gain and bias.
type LayerNorm struct {
	Dim  int
	Eps  float64
	Gain []float64
	Bias []float64
}

func NewLayerNorm(ctx *Context, dim int) *LayerNorm {
	gain := make([]float64, dim)
	for i := range gain {
		gain[i] = 1
	}
	ctx.register(2 * dim)
	return &LayerNorm{Dim: dim, Eps: 1e-5, Gain: gain, Bias: make([]float64, dim)}
}

func (n *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() == 0 || x.Dim(x.Rank()-1) != n.Dim {
		return nil, errors.Wrapf(tensor.ErrShape, "layer norm over %d got %v", n.Dim, x.Shape())
	}
	out := tensor.New(x.Shape()...)
	in, o := x.Data(), out.Data()
	d := float64(n.Dim)
	for off := 0; off < len(in); off += n.Dim {
		row := in[off : off+n.Dim]
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= d
		variance := 0.0
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		inv := 1 / math.Sqrt(variance/d+n.Eps)
		for j, v := range row {
			o[off+j] = (v-mean)*inv*n.Gain[j] + n.Bias[j]
		}
	}
	return out, nil
}

// Dropout zeroes elements with probability P in training mode and rescales
// the survivors by 1/(1-P). In eval mode it is the identity.
type Dropout struct {
	P   float64
	ctx *Context
}

func NewDropout(ctx *Context, p float64) *Dropout {
	return &Dropout{P: p, ctx: ctx}
}

func (d *Dropout) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if d == nil || d.P <= 0 || !d.ctx.Training() {
		return x, nil
	}
	out := tensor.New(x.Shape()...)
	if d.P >= 1 {
		return out, nil
	}
	scale := 1 / (1 - d.P)
	in, o := x.Data(), out.Data()
	for i, v := range in {
		if d.ctx.uniform() >= d.P {
			o[i] = v * scale
		}
	}
	return out, nil
}

// Activation is an elementwise nonlinearity.
type Activation func(float64) float64

// ParseActivation maps a fuxictr style activation name to a function.
func ParseActivation(name string) (Activation, error) {
	switch strings.ToLower(name) {
	case "relu":
		return tensor.ReLU, nil
	case "gelu":
		return tensor.GELU, nil
	case "tanh":
		return tensor.Tanh, nil
	case "sigmoid":
		return tensor.Sigmoid, nil
	case "", "linear", "identity":
		return nil, nil
	}
	return nil, errors.Errorf("unknown activation %q", name)
}

// Embedding is a lookup table of Vocab rows of width Dim.
type Embedding struct {
	Vocab, Dim int
	Table      *mat.Dense
}

func NewEmbedding(ctx *Context, vocab, dim int, std float64) *Embedding {
	e := &Embedding{Vocab: vocab, Dim: dim, Table: mat.NewDense(vocab, dim, nil)}
	ctx.Normal(std, e.Table.RawMatrix().Data)
	ctx.register(vocab * dim)
	return e
}

// Row returns the embedding of id. The slice aliases the table.
func (e *Embedding) Row(id int) ([]float64, error) {
	if id < 0 || id >= e.Vocab {
		return nil, errors.Errorf("embedding id %d outside vocabulary of %d", id, e.Vocab)
	}
	return e.Table.RawRowView(id), nil
}
