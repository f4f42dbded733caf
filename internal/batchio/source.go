package batchio

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-rat/internal/model"
)

// Source yields batches until io.EOF.
type Source interface {
	Next(ctx context.Context) (*model.Batch, error)
	Close() error
}

// WriteBatches writes one record per batch as an Arrow IPC stream.
func WriteBatches(w io.Writer, batches ...*model.Batch) error {
	mem := memory.NewGoAllocator()
	wr := ipc.NewWriter(w, ipc.WithSchema(Schema), ipc.WithAllocator(mem))
	for i, b := range batches {
		rec, err := EncodeBatch(mem, b)
		if err != nil {
			wr.Close()
			return errors.Wrapf(err, "encoding batch %d", i)
		}
		err = wr.Write(rec)
		rec.Release()
		if err != nil {
			wr.Close()
			return errors.Wrapf(err, "writing batch %d", i)
		}
	}
	return wr.Close()
}

// ReadBatches drains an IPC stream.
func ReadBatches(r io.Reader, numFields int) ([]*model.Batch, error) {
	src, err := NewStreamSource(r, numFields)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return Collect(context.Background(), src)
}

// Collect reads every remaining batch from src.
func Collect(ctx context.Context, src Source) ([]*model.Batch, error) {
	var out []*model.Batch
	for {
		b, err := src.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
}

// recordSource adapts any ipc style reader to Source.
type recordSource struct {
	rdr       *ipc.Reader
	numFields int
	closer    io.Closer
}

func (s *recordSource) Next(ctx context.Context) (*model.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.rdr.Next() {
		if err := s.rdr.Err(); err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "reading record")
		}
		return nil, io.EOF
	}
	return DecodeRecord(s.rdr.Record(), s.numFields)
}

func (s *recordSource) Close() error {
	s.rdr.Release()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func NewStreamSource(r io.Reader, numFields int) (Source, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, errors.Wrap(err, "opening IPC stream")
	}
	if !rdr.Schema().Equal(Schema) {
		rdr.Release()
		return nil, errors.Wrapf(ErrSchema, "stream schema %s", rdr.Schema())
	}
	return &recordSource{rdr: rdr, numFields: numFields}, nil
}

// OpenFile opens an IPC stream written by WriteBatches.
func OpenFile(path string, numFields int) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	src, err := NewStreamSource(f, numFields)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.(*recordSource).closer = f
	return src, nil
}

// MemorySource serves batches held in memory.
type MemorySource struct {
	mu      sync.Mutex
	batches []*model.Batch
	closed  bool
}

func NewMemorySource(batches ...*model.Batch) *MemorySource {
	return &MemorySource{batches: batches}
}

func (m *MemorySource) Next(ctx context.Context) (*model.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("source closed")
	}
	if len(m.batches) == 0 {
		return nil, io.EOF
	}
	b := m.batches[0]
	m.batches = m.batches[1:]
	return b, nil
}

func (m *MemorySource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
