package model

import (
	"math"

	"github.com/pkg/errors"

	"github.com/23skdu/longbow-rat/internal/config"
	"github.com/23skdu/longbow-rat/internal/nn"
	"github.com/23skdu/longbow-rat/internal/tensor"
)

// fieldTable embeds one field. Categorical fields look up a row per id,
// numeric fields scale a single learned vector by the value.
type fieldTable struct {
	spec  config.FeatureSpec
	table *nn.Embedding
}

func (f *fieldTable) embed(v float64, dst []float64) error {
	if f.spec.Type == config.FeatureNumeric {
		row, _ := f.table.Row(0)
		for i, w := range row {
			dst[i] = w * v
		}
		return nil
	}
	id := int(v)
	if float64(id) != v || math.IsNaN(v) {
		return errors.Wrapf(ErrInvalidBatch, "field %q: id %v is not an integer", f.spec.Name, v)
	}
	row, err := f.table.Row(id)
	if err != nil {
		return errors.Wrapf(ErrInvalidBatch, "field %q: %v", f.spec.Name, err)
	}
	copy(dst, row)
	return nil
}

// EmbeddingLayer maps raw field values to (B, T, F, d) embeddings.
type EmbeddingLayer struct {
	dim    int
	fields []*fieldTable
}

func NewEmbeddingLayer(ctx *nn.Context, features []config.FeatureSpec, dim int, std float64) *EmbeddingLayer {
	return &EmbeddingLayer{dim: dim, fields: newFieldTables(ctx, features, dim, std)}
}

func newFieldTables(ctx *nn.Context, features []config.FeatureSpec, dim int, std float64) []*fieldTable {
	fields := make([]*fieldTable, len(features))
	for i, spec := range features {
		vocab := 1
		if spec.Type == config.FeatureCategorical {
			vocab = spec.VocabSize
		}
		fields[i] = &fieldTable{spec: spec, table: nn.NewEmbedding(ctx, vocab, dim, std)}
	}
	return fields
}

func (e *EmbeddingLayer) NumFields() int {
	return len(e.fields)
}

func (e *EmbeddingLayer) Dim() int {
	return e.dim
}

// Forward embeds x of shape (B, T, F). Every instance must have the same T.
func (e *EmbeddingLayer) Forward(x [][][]float64) (*tensor.Tensor, error) {
	if len(x) == 0 || len(x[0]) == 0 {
		return nil, errors.Wrap(ErrInvalidBatch, "nothing to embed")
	}
	b, t, f := len(x), len(x[0]), len(e.fields)
	out := tensor.New(b, t, f, e.dim)
	data := out.Data()
	off := 0
	for i, inst := range x {
		if len(inst) != t {
			return nil, errors.Wrapf(ErrNonUniformRetrieval, "instance %d has %d rows, want %d", i, len(inst), t)
		}
		for _, row := range inst {
			if len(row) != f {
				return nil, errors.Wrapf(ErrInvalidBatch, "instance %d has %d fields, want %d", i, len(row), f)
			}
			for k, v := range row {
				if err := e.fields[k].embed(v, data[off:off+e.dim]); err != nil {
					return nil, err
				}
				off += e.dim
			}
		}
	}
	return out, nil
}

// LabelEmbedding embeds neighbour labels 0 and 1 and the target MarkerToken.
type LabelEmbedding struct {
	table *nn.Embedding
}

func NewLabelEmbedding(ctx *nn.Context, dim int) *LabelEmbedding {
	return &LabelEmbedding{table: nn.NewEmbedding(ctx, MarkerToken+1, dim, 1)}
}

// Forward maps (B, T) tokens to (B, T, 1, d).
func (l *LabelEmbedding) Forward(tokens [][]int) (*tensor.Tensor, error) {
	if len(tokens) == 0 {
		return nil, errors.Wrap(ErrInvalidBatch, "no labels to embed")
	}
	b, t, d := len(tokens), len(tokens[0]), l.table.Dim
	out := tensor.New(b, t, 1, d)
	data := out.Data()
	for i, row := range tokens {
		if len(row) != t {
			return nil, errors.Wrapf(ErrNonUniformRetrieval, "instance %d has %d labels, want %d", i, len(row), t)
		}
		for j, tok := range row {
			emb, err := l.table.Row(tok)
			if err != nil {
				return nil, errors.Wrapf(ErrInvalidBatch, "label token: %v", err)
			}
			copy(data[(i*t+j)*d:], emb)
		}
	}
	return out, nil
}

// LRLayer is the wide branch: a learned scalar per categorical id or per
// numeric field, summed over fields, without bias.
type LRLayer struct {
	fields []*fieldTable
}

func NewLRLayer(ctx *nn.Context, features []config.FeatureSpec, std float64) *LRLayer {
	return &LRLayer{fields: newFieldTables(ctx, features, 1, std)}
}

// Forward maps (B, F) raw target values to (B, 1).
func (l *LRLayer) Forward(x [][]float64) (*tensor.Tensor, error) {
	out := tensor.New(len(x), 1)
	var w [1]float64
	for i, row := range x {
		if len(row) != len(l.fields) {
			return nil, errors.Wrapf(ErrInvalidBatch, "wide input %d has %d fields, want %d", i, len(row), len(l.fields))
		}
		sum := 0.0
		for k, v := range row {
			if err := l.fields[k].embed(v, w[:]); err != nil {
				return nil, err
			}
			sum += w[0]
		}
		out.Set(sum, i, 0)
	}
	return out, nil
}
