package nn

import (
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// ReLU applies max(0, x) element-wise. NaN inputs pass through unchanged.
type ReLU struct{}

// Forward implements Layer.
func (ReLU) Forward(x *mat.Dense, _ bool) (*mat.Dense, any) {
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 {
		if v > 0 || math.IsNaN(v) {
			return v
		}
		return 0
	}, x)
	return &y, x
}

// Backward implements Layer.
func (ReLU) Backward(cache any, dy *mat.Dense) *mat.Dense {
	x := cache.(*mat.Dense)
	var dx mat.Dense
	dx.Apply(func(i, j int, g float64) float64 {
		if x.At(i, j) > 0 {
			return g
		}
		return 0
	}, dy)
	return &dx
}

// Params implements Layer.
func (ReLU) Params() []*Param { return nil }

// Dropout zeroes each element with probability P during training and scales
// the survivors by 1/(1-P). It is the identity in evaluation mode.
type Dropout struct {
	P float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDropout creates a Dropout layer drawing masks from rng.
func NewDropout(p float64, rng *rand.Rand) *Dropout {
	return &Dropout{P: p, rng: rng}
}

// Forward implements Layer.
func (d *Dropout) Forward(x *mat.Dense, train bool) (*mat.Dense, any) {
	if !train || d.P <= 0 {
		return x, nil
	}

	n, f := x.Dims()
	mask := mat.NewDense(n, f, nil)
	keep := 1 - d.P
	scale := 0.0
	if keep > 0 {
		scale = 1 / keep
	}

	d.mu.Lock()
	m := mask.RawMatrix().Data
	for i := range m {
		if d.rng.Float64() < keep {
			m[i] = scale
		}
	}
	d.mu.Unlock()

	y := mat.NewDense(n, f, nil)
	y.MulElem(x, mask)
	return y, mask
}

// Backward implements Layer.
func (d *Dropout) Backward(cache any, dy *mat.Dense) *mat.Dense {
	if cache == nil {
		return dy
	}
	mask := cache.(*mat.Dense)
	n, f := dy.Dims()
	dx := mat.NewDense(n, f, nil)
	dx.MulElem(dy, mask)
	return dx
}

// Params implements Layer.
func (d *Dropout) Params() []*Param { return nil }

// L2NormalizeEps bounds the row norm from below.
const L2NormalizeEps = 1e-12

// L2Normalize scales each row to unit L2 norm.
type L2Normalize struct{}

type l2Cache struct {
	y     *mat.Dense
	norms []float64
}

// Forward implements Layer.
func (L2Normalize) Forward(x *mat.Dense, _ bool) (*mat.Dense, any) {
	n, f := x.Dims()
	y := mat.NewDense(n, f, nil)
	norms := make([]float64, n)
	for i := 0; i < n; i++ {
		row := x.RawRowView(i)
		norm := math.Max(mat.Norm(x.RowView(i), 2), L2NormalizeEps)
		norms[i] = norm
		out := y.RawRowView(i)
		for j, v := range row {
			out[j] = v / norm
		}
	}
	return y, &l2Cache{y: y, norms: norms}
}

// Backward implements Layer.
func (L2Normalize) Backward(cache any, dy *mat.Dense) *mat.Dense {
	c := cache.(*l2Cache)
	n, f := dy.Dims()
	dx := mat.NewDense(n, f, nil)
	for i := 0; i < n; i++ {
		g := dy.RawRowView(i)
		out := dx.RawRowView(i)
		if c.norms[i] <= L2NormalizeEps {
			for j := range g {
				out[j] = g[j] / L2NormalizeEps
			}
			continue
		}
		y := c.y.RawRowView(i)
		var dot float64
		for j := range g {
			dot += y[j] * g[j]
		}
		for j := range g {
			out[j] = (g[j] - y[j]*dot) / c.norms[i]
		}
	}
	return dx
}

// Params implements Layer.
func (L2Normalize) Params() []*Param { return nil }
