package encoder

import (
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-rat/internal/nn"
	"github.com/23skdu/longbow-rat/internal/tensor"
)

// BlockConfig sizes one cross-intra block.
type BlockConfig struct {
	Dim              int
	NumHeads         int
	HeadDim          int
	HiddenDim        int
	AttentionDropout float64
	FFNDropout       float64
}

// Block runs intra attention (within each instance, across its positions)
// and cross attention (within each position, across instances) on the same
// input, averages the two and refines the result with a feed-forward layer.
//
// Both attentions read queries from the same projection; keys and values are
// separate per role.
type Block struct {
	dim   int
	query *nn.Linear
	intra Layer
	cross Layer
	mlp   Layer
}

func NewBlock(ctx *nn.Context, cfg BlockConfig) (*Block, error) {
	inner := cfg.NumHeads * cfg.HeadDim
	if cfg.Dim <= 0 || inner <= 0 || cfg.HiddenDim <= 0 {
		return nil, errors.Wrapf(ErrShape, "block dim=%d inner=%d hidden=%d", cfg.Dim, inner, cfg.HiddenDim)
	}
	query := nn.NewLinear(ctx, cfg.Dim, inner, false)

	intraAttn, err := NewAttention(ctx, Projections{
		Query: query,
		Key:   nn.NewLinear(ctx, cfg.Dim, inner, false),
		Value: nn.NewLinear(ctx, cfg.Dim, inner, false),
	}, cfg.Dim, cfg.NumHeads, cfg.HeadDim, cfg.AttentionDropout)
	if err != nil {
		return nil, errors.Wrap(err, "intra attention")
	}
	crossAttn, err := NewAttention(ctx, Projections{
		Query: query,
		Key:   nn.NewLinear(ctx, cfg.Dim, inner, false),
		Value: nn.NewLinear(ctx, cfg.Dim, inner, false),
	}, cfg.Dim, cfg.NumHeads, cfg.HeadDim, cfg.AttentionDropout)
	if err != nil {
		return nil, errors.Wrap(err, "cross attention")
	}

	return &Block{
		dim:   cfg.Dim,
		query: query,
		intra: NewPreNorm(ctx, cfg.Dim, intraAttn),
		cross: NewPreNorm(ctx, cfg.Dim, crossAttn),
		mlp:   NewFeedForward(ctx, cfg.Dim, cfg.HiddenDim, cfg.FFNDropout),
	}, nil
}

// Forward maps (B, T, N, d) to (B, T, N, d).
func (blk *Block) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() != 4 || x.Dim(3) != blk.dim {
		return nil, errors.Wrapf(ErrShape, "block expects (B, T, N, %d), got %v", blk.dim, x.Shape())
	}
	b, t, n, d := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)

	instances, err := PerInstanceView(x)
	if err != nil {
		return nil, err
	}
	intraOut, err := blk.intra.Forward(instances)
	if err != nil {
		return nil, errors.Wrap(err, "intra attention")
	}
	intraOut, err = FromPerInstanceView(intraOut, b, t)
	if err != nil {
		return nil, err
	}

	positions, err := PerPositionView(x)
	if err != nil {
		return nil, err
	}
	crossOut, err := blk.cross.Forward(positions)
	if err != nil {
		return nil, errors.Wrap(err, "cross attention")
	}
	crossOut, err = FromPerPositionView(crossOut, b, n)
	if err != nil {
		return nil, err
	}

	fused, err := tensor.Mean(intraOut, crossOut)
	if err != nil {
		return nil, err
	}
	refined, err := blk.mlp.Forward(fused)
	if err != nil {
		return nil, errors.Wrap(err, "feed forward")
	}

	// The residual is added to the cross-attention input folded back to the
	// canonical layout, not to x itself.
	residual, err := FromPerPositionView(positions, b, n)
	if err != nil {
		return nil, err
	}
	out, err := tensor.Add(refined, residual)
	if err != nil {
		return nil, err
	}
	if err := tensor.Expect(out, b, t, n, d); err != nil {
		return nil, err
	}
	return out, nil
}

// Encoder applies a fixed sequence of independently parameterised blocks.
type Encoder struct {
	blocks []*Block
}

func NewEncoder(ctx *nn.Context, depth int, cfg BlockConfig) (*Encoder, error) {
	if depth <= 0 {
		return nil, errors.Errorf("encoder depth must be positive, got %d", depth)
	}
	e := &Encoder{blocks: make([]*Block, 0, depth)}
	for i := 0; i < depth; i++ {
		blk, err := NewBlock(ctx, cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "block %d", i)
		}
		e.blocks = append(e.blocks, blk)
	}
	return e, nil
}

func (e *Encoder) Depth() int {
	return len(e.blocks)
}

func (e *Encoder) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	shape := x.Shape()
	for i, blk := range e.blocks {
		var err error
		if x, err = blk.Forward(x); err != nil {
			return nil, errors.Wrapf(err, "block %d", i)
		}
	}
	if err := tensor.Expect(x, shape...); err != nil {
		return nil, err
	}
	return x, nil
}
