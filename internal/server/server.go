// Package server exposes a model over HTTP.
package server

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-rat/internal/logger"
	"github.com/23skdu/longbow-rat/internal/model"
)

const latencyWindow = 1000

type PredictRequest struct {
	X             [][][]float64 `json:"x"`
	Y             [][]float64   `json:"y"`
	RetrievedLens []int         `json:"retrieved_lens,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

type ModelInfo struct {
	ModelID      string `json:"model_id"`
	Task         string `json:"task"`
	Parameters   int    `json:"parameters"`
	Fields       int    `json:"fields"`
	EmbeddingDim int    `json:"embedding_dim"`
	Depth        int    `json:"depth"`
	NumHeads     int    `json:"num_heads"`
	TopK         int    `json:"top_k"`
}

type PerformanceInfo struct {
	BatchesServed   int       `json:"batches_served"`
	InstancesServed int       `json:"instances_served"`
	Failures        int       `json:"failures"`
	AvgLatencyMs    float64   `json:"avg_latency_ms"`
	P95LatencyMs    float64   `json:"p95_latency_ms"`
	LastPrediction  time.Time `json:"last_prediction"`
}

type StatusResponse struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Uptime      string          `json:"uptime"`
	Model       ModelInfo       `json:"model"`
	System      SystemInfo      `json:"system"`
	Performance PerformanceInfo `json:"performance"`
}

// Server scores batches over HTTP. Forward passes are serialised because
// dropout state lives in the model.
type Server struct {
	model *model.RAT
	log   *logger.Logger

	forwardMu sync.Mutex

	mu        sync.RWMutex
	started   time.Time
	batches   int
	instances int
	failures  int
	last      time.Time
	latencies []float64

	http *http.Server
}

func New(m *model.RAT) *Server {
	return &Server{
		model:   m,
		log:     logger.Log.With("component", "server"),
		started: time.Now(),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/predict", s.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.log.Info("http server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrapf(err, "serving %s", addr)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNonUniformRetrieval):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInvalidBatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.recordFailure()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "decoding request: " + err.Error()})
		return
	}

	batch := &model.Batch{X: req.X, Y: req.Y, RetrievedLens: req.RetrievedLens}
	start := time.Now()
	s.forwardMu.Lock()
	res, err := s.model.Forward(batch)
	s.forwardMu.Unlock()
	if err != nil {
		s.recordFailure()
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			s.log.Error("predict failed", err)
		} else {
			s.log.Debug("predict rejected", "status", code, "error", err.Error())
		}
		writeJSON(w, code, errorResponse{Error: err.Error()})
		return
	}
	s.recordSuccess(batch.Size(), time.Since(start))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) recordFailure() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

func (s *Server) recordSuccess(instances int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	s.instances += instances
	s.last = time.Now()
	s.latencies = append(s.latencies, float64(d.Nanoseconds())/1e6)
	if len(s.latencies) > latencyWindow {
		s.latencies = s.latencies[1:]
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Server) Status() StatusResponse {
	cfg := s.model.Config()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s.mu.RLock()
	perf := PerformanceInfo{
		BatchesServed:   s.batches,
		InstancesServed: s.instances,
		Failures:        s.failures,
		LastPrediction:  s.last,
	}
	latencies := append([]float64(nil), s.latencies...)
	s.mu.RUnlock()

	if len(latencies) > 0 {
		perf.AvgLatencyMs, _ = stats.Mean(latencies)
		perf.P95LatencyMs, _ = stats.Percentile(latencies, 95)
	}

	return StatusResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Model: ModelInfo{
			ModelID:      cfg.ModelID,
			Task:         cfg.Task,
			Parameters:   s.model.NumParameters(),
			Fields:       cfg.NumFields(),
			EmbeddingDim: cfg.EmbeddingDim,
			Depth:        cfg.Depth,
			NumHeads:     cfg.NumHeads,
			TopK:         cfg.TopK,
		},
		System: SystemInfo{
			GoVersion:    runtime.Version(),
			OS:           runtime.GOOS,
			Arch:         runtime.GOARCH,
			NumCPU:       runtime.NumCPU(),
			MemoryUsedMB: int(mem.Alloc / 1024 / 1024),
		},
		Performance: perf,
	}
}
