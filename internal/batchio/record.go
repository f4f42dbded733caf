// Package batchio moves retrieval-augmented batches as Arrow records: IPC
// streams on disk and Arrow Flight over the network.
package batchio

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-rat/internal/model"
)

var ErrSchema = errors.New("record does not match the batch schema")

const (
	ColX            = "x"
	ColY            = "y"
	ColRetrievedLen = "retrieved_len"
)

// Schema has one row per instance. x holds the (K+1)*F feature values with
// the target row first, y the K+1 labels.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: ColX, Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
	{Name: ColY, Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
	{Name: ColRetrievedLen, Type: arrow.PrimitiveTypes.Int64},
}, nil)

// EncodeBatch converts b to a record. The caller releases it.
func EncodeBatch(mem memory.Allocator, b *model.Batch) (arrow.Record, error) {
	if len(b.Y) != len(b.X) {
		return nil, errors.Wrapf(model.ErrInvalidBatch, "%d label rows for %d instances", len(b.Y), len(b.X))
	}
	if b.RetrievedLens != nil && len(b.RetrievedLens) != len(b.X) {
		return nil, errors.Wrapf(model.ErrInvalidBatch, "%d retrieved lengths for %d instances", len(b.RetrievedLens), len(b.X))
	}
	bld := array.NewRecordBuilder(mem, Schema)
	defer bld.Release()

	xb := bld.Field(0).(*array.ListBuilder)
	xv := xb.ValueBuilder().(*array.Float64Builder)
	yb := bld.Field(1).(*array.ListBuilder)
	yv := yb.ValueBuilder().(*array.Float64Builder)
	kb := bld.Field(2).(*array.Int64Builder)

	for i, inst := range b.X {
		xb.Append(true)
		for _, row := range inst {
			xv.AppendValues(row, nil)
		}
		yb.Append(true)
		yv.AppendValues(b.Y[i], nil)
		if b.RetrievedLens != nil {
			kb.Append(int64(b.RetrievedLens[i]))
		} else {
			kb.Append(int64(len(inst) - 1))
		}
	}
	return bld.NewRecord(), nil
}

// DecodeRecord rebuilds a batch from a record with numFields values per row.
// Neighbour count agreement is left to model.Batch.Validate.
func DecodeRecord(rec arrow.Record, numFields int) (*model.Batch, error) {
	if numFields <= 0 {
		return nil, errors.Errorf("decoding with %d fields", numFields)
	}
	if !rec.Schema().Equal(Schema) {
		return nil, errors.Wrapf(ErrSchema, "got %s", rec.Schema())
	}
	xs, ok := rec.Column(0).(*array.List)
	if !ok {
		return nil, errors.Wrap(ErrSchema, "x is not a list")
	}
	ys, ok := rec.Column(1).(*array.List)
	if !ok {
		return nil, errors.Wrap(ErrSchema, "y is not a list")
	}
	ks, ok := rec.Column(2).(*array.Int64)
	if !ok {
		return nil, errors.Wrap(ErrSchema, "retrieved_len is not int64")
	}
	xvals := xs.ListValues().(*array.Float64)
	yvals := ys.ListValues().(*array.Float64)

	n := int(rec.NumRows())
	b := &model.Batch{
		X:             make([][][]float64, n),
		Y:             make([][]float64, n),
		RetrievedLens: make([]int, n),
	}
	for i := 0; i < n; i++ {
		xs0, xs1 := xs.ValueOffsets(i)
		ys0, ys1 := ys.ValueOffsets(i)
		width := int(xs1 - xs0)
		if width%numFields != 0 {
			return nil, errors.Wrapf(model.ErrInvalidBatch, "row %d: %d values is not a multiple of %d fields", i, width, numFields)
		}
		t := width / numFields
		if int(ys1-ys0) != t {
			return nil, errors.Wrapf(model.ErrInvalidBatch, "row %d: %d labels for %d instances", i, ys1-ys0, t)
		}

		inst := make([][]float64, t)
		for r := range inst {
			row := make([]float64, numFields)
			for f := range row {
				row[f] = xvals.Value(int(xs0) + r*numFields + f)
			}
			inst[r] = row
		}
		labels := make([]float64, t)
		for r := range labels {
			labels[r] = yvals.Value(int(ys0) + r)
		}
		b.X[i], b.Y[i] = inst, labels
		b.RetrievedLens[i] = int(ks.Value(i))
	}
	return b, nil
}
