package batchio

import (
	"math/rand/v2"

	"github.com/23skdu/longbow-rat/internal/config"
	"github.com/23skdu/longbow-rat/internal/model"
)

// Synthetic draws a batch of size instances with k neighbours each. Field
// values follow the feature specs; neighbour labels are biased towards the
// label of their target so retrieval carries signal.
func Synthetic(features []config.FeatureSpec, size, k int, seed uint64) *model.Batch {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	b := &model.Batch{
		X:             make([][][]float64, size),
		Y:             make([][]float64, size),
		RetrievedLens: make([]int, size),
	}
	for i := 0; i < size; i++ {
		inst := make([][]float64, k+1)
		labels := make([]float64, k+1)
		target := float64(rng.IntN(2))
		for r := range inst {
			row := make([]float64, len(features))
			for f, spec := range features {
				if spec.Type == config.FeatureCategorical {
					row[f] = float64(rng.IntN(spec.VocabSize))
				} else {
					row[f] = rng.NormFloat64()
				}
			}
			inst[r] = row
			switch {
			case r == 0:
				labels[r] = target
			case rng.Float64() < 0.8:
				labels[r] = target
			default:
				labels[r] = 1 - target
			}
		}
		b.X[i], b.Y[i], b.RetrievedLens[i] = inst, labels, k
	}
	return b
}
