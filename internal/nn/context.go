package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Context carries the state shared by every layer of one model: the random
// source used for initialisation and dropout, and the train/eval switch.
// It is not safe for concurrent use while training mode is on.
type Context struct {
	rng      *rand.Rand
	training bool
	params   int
}

func NewContext(seed uint64) *Context {
	return &Context{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (c *Context) Train() { c.training = true }
func (c *Context) Eval()  { c.training = false }

func (c *Context) Training() bool {
	return c.training
}

// NumParameters is the number of learned scalars registered through this context.
func (c *Context) NumParameters() int {
	return c.params
}

func (c *Context) register(n int) {
	c.params += n
}

// XavierNormal fills w with N(0, 2/(fanIn+fanOut)).
func (c *Context) XavierNormal(w *mat.Dense) {
	r, cols := w.Dims()
	std := math.Sqrt(2.0 / float64(r+cols))
	raw := w.RawMatrix()
	for i := 0; i < r; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+cols]
		for j := range row {
			row[j] = c.rng.NormFloat64() * std
		}
	}
}

// Normal fills w with N(0, std^2).
func (c *Context) Normal(std float64, w []float64) {
	for i := range w {
		w[i] = c.rng.NormFloat64() * std
	}
}

func (c *Context) uniform() float64 {
	return c.rng.Float64()
}
