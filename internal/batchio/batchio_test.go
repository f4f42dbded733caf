package batchio

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-rat/internal/config"
	"github.com/23skdu/longbow-rat/internal/model"
)

func sampleBatch(offset float64) *model.Batch {
	return &model.Batch{
		X: [][][]float64{
			{{1 + offset, 2, 0.5}, {3, 4, 1.5}, {1, 5, 0.25}},
			{{7, 8, 2}, {2, 9, 0.75}, {0, 19, 1 + offset}},
		},
		Y:             [][]float64{{1, 0, 1}, {0, 1, 1}},
		RetrievedLens: []int{2, 2},
	}
}

func TestEncodeDecodeRecord(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	b := sampleBatch(0)
	rec, err := EncodeBatch(mem, b)
	require.NoError(t, err)
	defer rec.Release()
	assert.Equal(t, int64(2), rec.NumRows())

	got, err := DecodeRecord(rec, 3)
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestEncodeFillsRetrievedLens(t *testing.T) {
	b := sampleBatch(0)
	b.RetrievedLens = nil
	rec, err := EncodeBatch(memory.NewGoAllocator(), b)
	require.NoError(t, err)
	defer rec.Release()

	got, err := DecodeRecord(rec, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, got.RetrievedLens)
}

func TestDecodeRejectsBadWidth(t *testing.T) {
	rec, err := EncodeBatch(memory.NewGoAllocator(), sampleBatch(0))
	require.NoError(t, err)
	defer rec.Release()

	_, err = DecodeRecord(rec, 4)
	assert.True(t, errors.Is(err, model.ErrInvalidBatch))
	_, err = DecodeRecord(rec, 0)
	assert.Error(t, err)
}

func TestDecodeRejectsForeignSchema(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Float64}}, nil)
	bld := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer bld.Release()
	bld.Field(0).(*array.Float64Builder).Append(1)
	rec := bld.NewRecord()
	defer rec.Release()

	_, err := DecodeRecord(rec, 1)
	assert.True(t, errors.Is(err, ErrSchema))
}

func TestIPCRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBatches(&buf, sampleBatch(0), sampleBatch(10)))

	got, err := ReadBatches(&buf, 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, sampleBatch(0), got[0])
	assert.Equal(t, sampleBatch(10), got[1])
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batches.arrow")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteBatches(f, sampleBatch(1)))
	require.NoError(t, f.Close())

	src, err := OpenFile(path, 3)
	require.NoError(t, err)
	defer src.Close()

	b, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleBatch(1), b)
	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestMemorySource(t *testing.T) {
	src := NewMemorySource(sampleBatch(0), sampleBatch(1))
	got, err := Collect(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewMemorySource(sampleBatch(0)).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, src.Close())
	_, err = src.Next(context.Background())
	assert.Error(t, err)
}

func TestFlightRoundTrip(t *testing.T) {
	srv := NewBatchServer()
	srv.Publish("eval", sampleBatch(0), sampleBatch(5))
	require.NoError(t, srv.Listen("localhost:0"))
	go srv.Serve()
	defer srv.Shutdown()

	ctx := context.Background()
	src, err := DialFlight(ctx, srv.Addr(), "eval", 3)
	require.NoError(t, err)
	defer src.Close()

	got, err := Collect(ctx, src)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, sampleBatch(0), got[0])
	assert.Equal(t, sampleBatch(5), got[1])
	assert.Equal(t, []string{"eval"}, srv.Tickets())
}

func TestFlightUnknownTicket(t *testing.T) {
	srv := NewBatchServer()
	require.NoError(t, srv.Listen("localhost:0"))
	go srv.Serve()
	defer srv.Shutdown()

	src, err := DialFlight(context.Background(), srv.Addr(), "missing", 3)
	if err == nil {
		// Some transports only surface the server error on first read.
		defer src.Close()
		_, err = src.Next(context.Background())
	}
	assert.Error(t, err)
}

func TestSynthetic(t *testing.T) {
	features := []config.FeatureSpec{
		{Name: "user_id", Type: config.FeatureCategorical, VocabSize: 7},
		{Name: "price", Type: config.FeatureNumeric},
	}
	b := Synthetic(features, 16, 3, 42)
	k, err := b.Validate(2)
	require.NoError(t, err)
	assert.Equal(t, 3, k)
	for _, inst := range b.X {
		for _, row := range inst {
			assert.GreaterOrEqual(t, row[0], 0.0)
			assert.Less(t, row[0], 7.0)
		}
	}
	assert.Equal(t, b, Synthetic(features, 16, 3, 42))
}
