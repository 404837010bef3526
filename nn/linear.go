package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Linear is a fully connected layer y = xW + b with W of shape (in, out).
type Linear struct {
	In, Out int
	Weight  *Param
	Bias    *Param
}

// NewLinear creates a Linear layer initialized from U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: newParam(name+".weight", in, out),
		Bias:   newParam(name+".bias", 1, out),
	}

	bound := 1 / math.Sqrt(float64(in))
	uniform := func(dst []float64) {
		for i := range dst {
			dst[i] = (rng.Float64()*2 - 1) * bound
		}
	}
	uniform(l.Weight.Value.RawMatrix().Data)
	uniform(l.Bias.Value.RawMatrix().Data)

	return l
}

// Forward implements Layer.
func (l *Linear) Forward(x *mat.Dense, _ bool) (*mat.Dense, any) {
	n, _ := x.Dims()
	y := mat.NewDense(n, l.Out, nil)
	y.Mul(x, l.Weight.Value)

	b := l.Bias.Value.RawRowView(0)
	for i := 0; i < n; i++ {
		floats.Add(y.RawRowView(i), b)
	}
	return y, x
}

// Backward implements Layer.
func (l *Linear) Backward(cache any, dy *mat.Dense) *mat.Dense {
	x := cache.(*mat.Dense)
	n, _ := dy.Dims()

	var dw mat.Dense
	dw.Mul(x.T(), dy)
	l.Weight.Grad.Add(l.Weight.Grad, &dw)

	db := l.Bias.Grad.RawRowView(0)
	for i := 0; i < n; i++ {
		floats.Add(db, dy.RawRowView(i))
	}

	dx := mat.NewDense(n, l.In, nil)
	dx.Mul(dy, l.Weight.Value.T())
	return dx
}

// Params implements Layer.
func (l *Linear) Params() []*Param {
	return []*Param{l.Weight, l.Bias}
}
