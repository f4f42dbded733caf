package batchio

import (
	"context"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-rat/internal/logger"
	"github.com/23skdu/longbow-rat/internal/model"
)

// DefaultFlightAddr is where `rat publish` listens unless told otherwise.
const DefaultFlightAddr = "localhost:3000"

// FlightSource streams the batches behind one ticket from a Flight server.
type FlightSource struct {
	client flight.Client
	src    *recordSource
	cancel context.CancelFunc
}

// DialFlight connects to addr and issues DoGet for ticket.
func DialFlight(ctx context.Context, addr, ticket string, numFields int) (*FlightSource, error) {
	client, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Wrapf(err, "dialling flight server %s", addr)
	}
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := client.DoGet(streamCtx, &flight.Ticket{Ticket: []byte(ticket)})
	if err != nil {
		cancel()
		client.Close()
		return nil, errors.Wrapf(err, "DoGet %q", ticket)
	}
	rdr, err := flight.NewRecordReader(stream, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		cancel()
		client.Close()
		return nil, errors.Wrapf(err, "reading stream for %q", ticket)
	}
	if !rdr.Schema().Equal(Schema) {
		rdr.Release()
		cancel()
		client.Close()
		return nil, errors.Wrapf(ErrSchema, "ticket %q schema %s", ticket, rdr.Schema())
	}
	logger.Log.Debug("flight stream opened", "addr", addr, "ticket", ticket)
	return &FlightSource{
		client: client,
		src:    &recordSource{rdr: rdr.Reader, numFields: numFields},
		cancel: cancel,
	}, nil
}

func (f *FlightSource) Next(ctx context.Context) (*model.Batch, error) {
	return f.src.Next(ctx)
}

func (f *FlightSource) Close() error {
	f.src.Close()
	f.cancel()
	return f.client.Close()
}

// BatchServer publishes batch sets over Flight, one set per ticket.
type BatchServer struct {
	flight.BaseFlightServer

	mu      sync.RWMutex
	tickets map[string][]*model.Batch
	server  flight.Server
}

func NewBatchServer() *BatchServer {
	return &BatchServer{tickets: make(map[string][]*model.Batch)}
}

// Publish replaces the batches served under ticket.
func (s *BatchServer) Publish(ticket string, batches ...*model.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[ticket] = batches
}

func (s *BatchServer) Tickets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tickets))
	for t := range s.tickets {
		out = append(out, t)
	}
	return out
}

func (s *BatchServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	s.mu.RLock()
	batches, ok := s.tickets[string(tkt.GetTicket())]
	s.mu.RUnlock()
	if !ok {
		return errors.Errorf("unknown ticket %q", tkt.GetTicket())
	}

	mem := memory.NewGoAllocator()
	w := flight.NewRecordWriter(stream, ipc.WithSchema(Schema), ipc.WithAllocator(mem))
	defer w.Close()
	for i, b := range batches {
		rec, err := EncodeBatch(mem, b)
		if err != nil {
			return errors.Wrapf(err, "encoding batch %d", i)
		}
		err = w.Write(rec)
		rec.Release()
		if err != nil {
			return errors.Wrapf(err, "sending batch %d", i)
		}
	}
	logger.Log.Debug("flight batches sent", "ticket", string(tkt.GetTicket()), "batches", len(batches))
	return nil
}

// Listen binds addr ("host:0" picks a free port). Serve blocks afterwards.
func (s *BatchServer) Listen(addr string) error {
	srv := flight.NewServerWithMiddleware(nil)
	if err := srv.Init(addr); err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	srv.RegisterFlightService(s)
	s.server = srv
	return nil
}

func (s *BatchServer) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr().String()
}

func (s *BatchServer) Serve() error {
	if s.server == nil {
		return errors.New("flight server not listening")
	}
	return s.server.Serve()
}

func (s *BatchServer) Shutdown() {
	if s.server != nil {
		s.server.Shutdown()
	}
}
