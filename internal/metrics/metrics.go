package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ForwardDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rat_forward_duration_seconds",
		Help:    "Duration of one model forward pass over a batch",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	BatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rat_batches_total",
		Help: "Total number of batches scored",
	})

	InstancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rat_instances_total",
		Help: "Total number of target instances scored",
	})

	RetrievalCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rat_retrieval_count",
		Help:    "Number of retrieved neighbours per batch",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	PredictionScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rat_prediction_score",
		Help:    "Distribution of model outputs",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	NumericalInstability = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rat_numerical_instability_total",
		Help: "Total number of NaN/Inf values detected",
	}, []string{"tensor", "type"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rat_validation_errors_total",
		Help: "Total number of rejected inputs",
	}, []string{"operation", "error_type"})

	ModelParameters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rat_model_parameters",
		Help: "Number of trainable scalars in the loaded model",
	})
)

func RecordForward(instances int, duration time.Duration) {
	BatchesTotal.Inc()
	InstancesTotal.Add(float64(instances))
	ForwardDuration.Observe(duration.Seconds())
}

func RecordRetrievalCount(k int) {
	RetrievalCount.Observe(float64(k))
}

func RecordPredictionScores(scores []float64) {
	for _, s := range scores {
		PredictionScore.Observe(s)
	}
}

func RecordNumericalInstability(name string, nanCount, infCount int) {
	if nanCount > 0 {
		NumericalInstability.WithLabelValues(name, "nan").Add(float64(nanCount))
	}
	if infCount > 0 {
		NumericalInstability.WithLabelValues(name, "inf").Add(float64(infCount))
	}
}

func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}

func SetModelParameters(n int) {
	ModelParameters.Set(float64(n))
}
