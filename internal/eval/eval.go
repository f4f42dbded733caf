// Package eval scores model outputs against ground truth.
package eval

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

const logLossEps = 1e-7

var ErrMismatch = errors.New("labels and predictions disagree in length")

func check(yTrue, yPred []float64) error {
	if len(yTrue) != len(yPred) {
		return errors.Wrapf(ErrMismatch, "%d labels, %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return errors.New("no predictions to evaluate")
	}
	return nil
}

// LogLoss is binary cross-entropy with predictions clipped to
// [1e-7, 1-1e-7].
func LogLoss(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	sum := 0.0
	for i, y := range yTrue {
		p := math.Min(math.Max(yPred[i], logLossEps), 1-logLossEps)
		sum -= y*math.Log(p) + (1-y)*math.Log(1-p)
	}
	return sum / float64(len(yTrue)), nil
}

// AUC is the area under the ROC curve computed from ranks, with tied scores
// sharing their average rank. Labels are positive when >= 0.5.
func AUC(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	n := len(yPred)
	scores := append([]float64(nil), yPred...)
	order := make([]int, n)
	floats.Argsort(scores, order)

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && scores[j+1] == scores[i] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for r := i; r <= j; r++ {
			ranks[order[r]] = avg
		}
		i = j + 1
	}

	var pos, neg int
	rankSum := 0.0
	for i, y := range yTrue {
		if y >= 0.5 {
			pos++
			rankSum += ranks[i]
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0, errors.Errorf("AUC needs both classes, got %d positive and %d negative", pos, neg)
	}
	return (rankSum - float64(pos*(pos+1))/2) / float64(pos*neg), nil
}

// Summary describes a score distribution.
type Summary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
}

func Summarize(scores []float64) (Summary, error) {
	data := stats.Float64Data(scores)
	s := Summary{Count: len(scores)}
	var err error
	if s.Mean, err = stats.Mean(data); err != nil {
		return s, errors.Wrap(err, "mean")
	}
	if s.Min, err = stats.Min(data); err != nil {
		return s, errors.Wrap(err, "min")
	}
	if s.Max, err = stats.Max(data); err != nil {
		return s, errors.Wrap(err, "max")
	}
	if s.P50, err = stats.Median(data); err != nil {
		return s, errors.Wrap(err, "median")
	}
	if s.P95, err = stats.Percentile(data, 95); err != nil {
		return s, errors.Wrap(err, "p95")
	}
	return s, nil
}

// Report is what cmd/rat prints after scoring a stream of batches.
type Report struct {
	LogLoss float64 `json:"logloss"`
	AUC     float64 `json:"auc,omitempty"`
	HasAUC  bool    `json:"-"`
	Scores  Summary `json:"scores"`
}

// Evaluate computes every metric that applies. AUC is skipped when only one
// class is present.
func Evaluate(yTrue, yPred []float64) (Report, error) {
	var r Report
	var err error
	if r.LogLoss, err = LogLoss(yTrue, yPred); err != nil {
		return r, err
	}
	if auc, err := AUC(yTrue, yPred); err == nil {
		r.AUC, r.HasAUC = auc, true
	}
	if r.Scores, err = Summarize(yPred); err != nil {
		return r, err
	}
	return r, nil
}
