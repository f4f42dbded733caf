package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-rat/internal/config"
	"github.com/23skdu/longbow-rat/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.EmbeddingDim = 4
	cfg.Depth = 1
	cfg.NumHeads = 2
	cfg.HeadDim = 2
	cfg.DNNHiddenUnits = []int{8}
	cfg.Features = []config.FeatureSpec{
		{Name: "user_id", Type: config.FeatureCategorical, VocabSize: 10},
		{Name: "price", Type: config.FeatureNumeric},
	}
	m, err := model.New(cfg)
	require.NoError(t, err)
	return New(m)
}

func post(t *testing.T, h http.Handler, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func validRequest() PredictRequest {
	return PredictRequest{
		X: [][][]float64{
			{{1, 0.5}, {2, 1.0}},
			{{3, 0.1}, {4, 2.0}},
		},
		Y:             [][]float64{{1, 0}, {0, 1}},
		RetrievedLens: []int{1, 1},
	}
}

func TestPredict(t *testing.T) {
	s := newTestServer(t)
	rec := post(t, s.Router(), validRequest())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res model.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, []float64{1, 0}, res.YTrue)
	require.Len(t, res.YPred, 2)
	for _, p := range res.YPred {
		assert.True(t, p > 0 && p < 1)
	}

	st := s.Status()
	assert.Equal(t, 1, st.Performance.BatchesServed)
	assert.Equal(t, 2, st.Performance.InstancesServed)
}

func TestPredictErrors(t *testing.T) {
	nonUniform := validRequest()
	nonUniform.RetrievedLens = []int{1, 2}

	badField := validRequest()
	badField.X[0][0] = []float64{1}

	tests := []struct {
		name string
		body interface{}
		code int
	}{
		{"non uniform retrieval", nonUniform, http.StatusUnprocessableEntity},
		{"wrong field count", badField, http.StatusBadRequest},
		{"empty batch", PredictRequest{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, newTestServer(t).Router(), tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestPredictRejectsMalformedJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/predict", strings.NewReader(`{"x": [`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, s.Status().Performance.Failures)
}

func TestPredictMethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/predict", nil)
	rec := httptest.NewRecorder()
	newTestServer(t).Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthAndStatus(t *testing.T) {
	s := newTestServer(t)
	h := s.Router()

	for _, path := range []string{"/healthz", "/health"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "healthy")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "RAT_m3", st.Model.ModelID)
	assert.Equal(t, 2, st.Model.Fields)
	assert.Equal(t, s.model.NumParameters(), st.Model.Parameters)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	h := s.Router()
	post(t, h, validRequest())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rat_batches_total")
}
