package encoder

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-rat/internal/nn"
	"github.com/23skdu/longbow-rat/internal/tensor"
)

// ErrShape reports an attention or block shape violation.
var ErrShape = tensor.ErrShape

// Layer is anything that maps a tensor to a tensor.
type Layer interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// Projections holds the query/key/value maps an Attention reads from. Two
// attentions may hold the same Query to share its weights.
type Projections struct {
	Query, Key, Value *nn.Linear
}

// Attention is scaled dot-product multi-head attention over the middle axis
// of a (rows, positions, dim) input.
//
// The configured head count is split between the two attention roles of a
// block, so each call runs numHeads/2 heads over the full inner width
// numHeads*headDim. The score scale still uses the configured headDim.
type Attention struct {
	proj     Projections
	dim      int
	numHeads int
	headDim  int
	heads    int
	inner    int
	scale    float64
	out      *nn.Linear
	drop     *nn.Dropout
}

func NewAttention(ctx *nn.Context, proj Projections, dim, numHeads, headDim int, dropout float64) (*Attention, error) {
	if dim <= 0 || numHeads <= 0 || headDim <= 0 {
		return nil, errors.Wrapf(ErrShape, "attention dim=%d num_heads=%d head_dim=%d", dim, numHeads, headDim)
	}
	heads := numHeads / 2
	inner := numHeads * headDim
	if heads == 0 {
		return nil, errors.Wrapf(ErrShape, "num_heads=%d leaves no heads after halving", numHeads)
	}
	if inner%heads != 0 {
		return nil, errors.Wrapf(ErrShape, "inner width %d not divisible by %d heads", inner, heads)
	}
	for name, p := range map[string]*nn.Linear{"query": proj.Query, "key": proj.Key, "value": proj.Value} {
		if p == nil {
			return nil, errors.Errorf("attention: missing %s projection", name)
		}
		if p.In != dim || p.Out != inner {
			return nil, errors.Wrapf(ErrShape, "%s projection %d->%d, want %d->%d", name, p.In, p.Out, dim, inner)
		}
	}

	a := &Attention{
		proj:     proj,
		dim:      dim,
		numHeads: numHeads,
		headDim:  headDim,
		heads:    heads,
		inner:    inner,
		scale:    1 / math.Sqrt(float64(headDim)),
	}
	if inner != dim || heads > 1 {
		a.out = nn.NewLinear(ctx, inner, dim, true)
		a.drop = nn.NewDropout(ctx, dropout)
	}
	return a, nil
}

// EffectiveHeads is the number of heads each Forward call splits into.
func (a *Attention) EffectiveHeads() int {
	return a.heads
}

// Projects reports whether the output goes through a learned projection.
func (a *Attention) Projects() bool {
	return a.out != nil
}

func (a *Attention) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() != 3 || x.Dim(2) != a.dim {
		return nil, errors.Wrapf(ErrShape, "attention expects (rows, positions, %d), got %v", a.dim, x.Shape())
	}
	rows, n := x.Dim(0), x.Dim(1)
	if rows == 0 || n == 0 {
		return nil, errors.Wrapf(ErrShape, "attention over empty input %v", x.Shape())
	}

	q, err := a.proj.Query.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "query projection")
	}
	k, err := a.proj.Key.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "key projection")
	}
	v, err := a.proj.Value.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "value projection")
	}

	hd := a.inner / a.heads
	block := n * a.inner
	out := tensor.New(rows, n, a.inner)
	scores := mat.NewDense(n, n, nil)
	for r := 0; r < rows; r++ {
		qm := mat.NewDense(n, a.inner, q.Data()[r*block:(r+1)*block])
		km := mat.NewDense(n, a.inner, k.Data()[r*block:(r+1)*block])
		vm := mat.NewDense(n, a.inner, v.Data()[r*block:(r+1)*block])
		om := mat.NewDense(n, a.inner, out.Data()[r*block:(r+1)*block])
		for h := 0; h < a.heads; h++ {
			lo, hi := h*hd, (h+1)*hd
			qh := qm.Slice(0, n, lo, hi)
			kh := km.Slice(0, n, lo, hi)
			vh := vm.Slice(0, n, lo, hi)

			scores.Mul(qh, kh.T())
			scores.Scale(a.scale, scores)
			for i := 0; i < n; i++ {
				tensor.Softmax(scores.RawRowView(i))
			}
			om.Slice(0, n, lo, hi).(*mat.Dense).Mul(scores, vh)
		}
	}

	if a.out == nil {
		return out, nil
	}
	proj, err := a.out.Forward(out)
	if err != nil {
		return nil, errors.Wrap(err, "output projection")
	}
	return a.drop.Forward(proj)
}

// PreNorm layer-normalises its input before handing it to fn. The residual is
// left to the caller.
type PreNorm struct {
	norm *nn.LayerNorm
	fn   Layer
}

func NewPreNorm(ctx *nn.Context, dim int, fn Layer) *PreNorm {
	return &PreNorm{norm: nn.NewLayerNorm(ctx, dim), fn: fn}
}

func (p *PreNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	normed, err := p.norm.Forward(x)
	if err != nil {
		return nil, err
	}
	return p.fn.Forward(normed)
}

// FeedForward is the position-wise Linear -> GELU -> Dropout -> Linear -> Dropout.
type FeedForward struct {
	fc1, fc2     *nn.Linear
	drop1, drop2 *nn.Dropout
}

func NewFeedForward(ctx *nn.Context, dim, hidden int, dropout float64) *FeedForward {
	return &FeedForward{
		fc1:   nn.NewLinear(ctx, dim, hidden, true),
		drop1: nn.NewDropout(ctx, dropout),
		fc2:   nn.NewLinear(ctx, hidden, dim, true),
		drop2: nn.NewDropout(ctx, dropout),
	}
}

func (f *FeedForward) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := f.fc1.Forward(x)
	if err != nil {
		return nil, err
	}
	h = tensor.Apply(h, tensor.GELU)
	if h, err = f.drop1.Forward(h); err != nil {
		return nil, err
	}
	if h, err = f.fc2.Forward(h); err != nil {
		return nil, err
	}
	return f.drop2.Forward(h)
}
