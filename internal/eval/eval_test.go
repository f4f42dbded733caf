package eval

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLoss(t *testing.T) {
	got, err := LogLoss([]float64{1, 0}, []float64{0.8, 0.4})
	require.NoError(t, err)
	assert.InDelta(t, -(math.Log(0.8)+math.Log(0.6))/2, got, 1e-12)

	got, err = LogLoss([]float64{1}, []float64{0})
	require.NoError(t, err)
	assert.InDelta(t, -math.Log(1e-7), got, 1e-9, "clipped")

	_, err = LogLoss([]float64{1}, []float64{0.5, 0.5})
	assert.True(t, errors.Is(err, ErrMismatch))
	_, err = LogLoss(nil, nil)
	assert.Error(t, err)
}

func TestAUC(t *testing.T) {
	tests := []struct {
		name  string
		yTrue []float64
		yPred []float64
		want  float64
	}{
		{"perfect", []float64{0, 0, 1, 1}, []float64{0.1, 0.2, 0.8, 0.9}, 1},
		{"inverted", []float64{1, 1, 0, 0}, []float64{0.1, 0.2, 0.8, 0.9}, 0},
		{"classic", []float64{0, 0, 1, 1}, []float64{0.1, 0.4, 0.35, 0.8}, 0.75},
		{"all tied", []float64{0, 1, 0, 1}, []float64{0.5, 0.5, 0.5, 0.5}, 0.5},
		{"partial tie", []float64{0, 1, 1}, []float64{0.3, 0.3, 0.9}, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AUC(tt.yTrue, tt.yPred)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestAUCNeedsBothClasses(t *testing.T) {
	_, err := AUC([]float64{1, 1}, []float64{0.2, 0.3})
	assert.Error(t, err)
}

func TestAUCDoesNotReorderInput(t *testing.T) {
	pred := []float64{0.9, 0.1, 0.5}
	_, err := AUC([]float64{1, 0, 0}, pred)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 0.1, 0.5}, pred)
}

func TestSummarize(t *testing.T) {
	s, err := Summarize([]float64{0.1, 0.2, 0.3, 0.4, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 5, s.Count)
	assert.InDelta(t, 0.3, s.Mean, 1e-12)
	assert.Equal(t, 0.1, s.Min)
	assert.Equal(t, 0.5, s.Max)
	assert.InDelta(t, 0.3, s.P50, 1e-12)
	assert.GreaterOrEqual(t, s.P95, s.P50)
	assert.LessOrEqual(t, s.P95, s.Max)

	_, err = Summarize(nil)
	assert.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	r, err := Evaluate([]float64{0, 1}, []float64{0.2, 0.7})
	require.NoError(t, err)
	assert.True(t, r.HasAUC)
	assert.Equal(t, 1.0, r.AUC)

	r, err = Evaluate([]float64{1, 1}, []float64{0.2, 0.7})
	require.NoError(t, err)
	assert.False(t, r.HasAUC)
	assert.Greater(t, r.LogLoss, 0.0)
}
