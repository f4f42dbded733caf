package model

import (
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrNonUniformRetrieval is returned when instances of one batch carry
	// different neighbour counts.
	ErrNonUniformRetrieval = errors.New("retrieved neighbour count is not uniform across the batch")
	ErrInvalidBatch        = errors.New("invalid batch")
)

// MarkerToken stands in for the unknown target label.
const MarkerToken = 2

// Batch holds B instances. Row 0 of every instance is the target, rows
// 1..K its retrieved neighbours.
type Batch struct {
	X             [][][]float64 // (B, K+1, F) raw values; categorical fields carry ids
	Y             [][]float64   // (B, K+1) labels; Y[b][0] is the target truth
	RetrievedLens []int         // optional, length B
}

type Result struct {
	YTrue []float64 `json:"y_true"`
	YPred []float64 `json:"y_pred"`
}

func (b *Batch) Size() int {
	return len(b.X)
}

// Validate checks the batch against numFields and returns the uniform
// neighbour count K.
func (b *Batch) Validate(numFields int) (int, error) {
	if len(b.X) == 0 {
		return 0, errors.Wrap(ErrInvalidBatch, "empty batch")
	}
	if len(b.Y) != len(b.X) {
		return 0, errors.Wrapf(ErrInvalidBatch, "%d label rows for %d instances", len(b.Y), len(b.X))
	}
	t := len(b.X[0])
	for i, inst := range b.X {
		if len(inst) != t || len(b.Y[i]) != len(inst) {
			return 0, errors.Wrapf(ErrNonUniformRetrieval, "instance %d has %d rows and %d labels, instance 0 has %d",
				i, len(inst), len(b.Y[i]), t)
		}
	}
	if t < 2 {
		return 0, errors.Wrap(ErrInvalidBatch, "each instance needs a target and at least one neighbour")
	}
	k := t - 1

	if b.RetrievedLens != nil {
		if len(b.RetrievedLens) != len(b.X) {
			return 0, errors.Wrapf(ErrInvalidBatch, "%d retrieved lengths for %d instances", len(b.RetrievedLens), len(b.X))
		}
		for i, n := range b.RetrievedLens {
			if n != k {
				return 0, errors.Wrapf(ErrNonUniformRetrieval, "instance %d retrieved %d neighbours, batch carries %d", i, n, k)
			}
		}
	}

	for i, inst := range b.X {
		for j, row := range inst {
			if len(row) != numFields {
				return 0, errors.Wrapf(ErrInvalidBatch, "instance %d row %d has %d fields, want %d", i, j, len(row), numFields)
			}
		}
		for j := 1; j < len(b.Y[i]); j++ {
			if y := b.Y[i][j]; y != 0 && y != 1 {
				return 0, errors.Wrapf(ErrInvalidBatch, "instance %d neighbour %d label %v not in {0, 1}", i, j, y)
			}
		}
	}
	return k, nil
}

// labelTokens maps the batch labels to embedding ids: the target always gets
// MarkerToken.
func (b *Batch) labelTokens() [][]int {
	tokens := make([][]int, len(b.Y))
	for i, ys := range b.Y {
		row := make([]int, len(ys))
		row[0] = MarkerToken
		for j := 1; j < len(ys); j++ {
			row[j] = int(math.Round(ys[j]))
		}
		tokens[i] = row
	}
	return tokens
}

// targets returns the (B, 1, F) target feature rows.
func (b *Batch) targets() [][][]float64 {
	out := make([][][]float64, len(b.X))
	for i, inst := range b.X {
		out[i] = inst[:1]
	}
	return out
}
