package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultBatchNormMomentum weights the newest batch in the running statistics.
	DefaultBatchNormMomentum = 0.1
	// DefaultBatchNormEps is added to the variance before taking the square root.
	DefaultBatchNormEps = 1e-5
)

// BatchNorm normalizes each feature over the mini-batch and applies a learned
// affine transform. In evaluation mode, or for a batch of a single row, the
// running statistics are used instead of batch statistics.
type BatchNorm struct {
	Features int
	Momentum float64
	Eps      float64

	Gamma *Param
	Beta  *Param

	RunningMean *Param
	RunningVar  *Param
}

type batchNormCache struct {
	xhat   *mat.Dense
	invStd []float64
	batch  bool // batch statistics were used
}

// NewBatchNorm creates a BatchNorm layer with gamma=1, beta=0, running
// mean 0 and running variance 1.
func NewBatchNorm(name string, features int) *BatchNorm {
	bn := &BatchNorm{
		Features:    features,
		Momentum:    DefaultBatchNormMomentum,
		Eps:         DefaultBatchNormEps,
		Gamma:       newParam(name+".weight", 1, features),
		Beta:        newParam(name+".bias", 1, features),
		RunningMean: newParam(name+".running_mean", 1, features),
		RunningVar:  newParam(name+".running_var", 1, features),
	}
	for j := 0; j < features; j++ {
		bn.Gamma.Value.Set(0, j, 1)
		bn.RunningVar.Value.Set(0, j, 1)
	}
	return bn
}

// Forward implements Layer.
func (bn *BatchNorm) Forward(x *mat.Dense, train bool) (*mat.Dense, any) {
	n, f := x.Dims()
	c := &batchNormCache{
		xhat:   mat.NewDense(n, f, nil),
		invStd: make([]float64, f),
		batch:  train && n > 1,
	}

	rm := bn.RunningMean.Value.RawRowView(0)
	rv := bn.RunningVar.Value.RawRowView(0)

	for j := 0; j < f; j++ {
		var mean, variance float64
		if c.batch {
			for i := 0; i < n; i++ {
				mean += x.At(i, j)
			}
			mean /= float64(n)
			for i := 0; i < n; i++ {
				d := x.At(i, j) - mean
				variance += d * d
			}
			variance /= float64(n)

			// Running variance tracks the unbiased estimate.
			unbiased := variance * float64(n) / float64(n-1)
			rm[j] = (1-bn.Momentum)*rm[j] + bn.Momentum*mean
			rv[j] = (1-bn.Momentum)*rv[j] + bn.Momentum*unbiased
		} else {
			mean, variance = rm[j], rv[j]
		}

		c.invStd[j] = 1 / math.Sqrt(variance+bn.Eps)
		for i := 0; i < n; i++ {
			c.xhat.Set(i, j, (x.At(i, j)-mean)*c.invStd[j])
		}
	}

	gamma := bn.Gamma.Value.RawRowView(0)
	beta := bn.Beta.Value.RawRowView(0)
	y := mat.NewDense(n, f, nil)
	for i := 0; i < n; i++ {
		row := y.RawRowView(i)
		xh := c.xhat.RawRowView(i)
		for j := range row {
			row[j] = gamma[j]*xh[j] + beta[j]
		}
	}
	return y, c
}

// Backward implements Layer.
func (bn *BatchNorm) Backward(cache any, dy *mat.Dense) *mat.Dense {
	c := cache.(*batchNormCache)
	n, f := dy.Dims()

	gamma := bn.Gamma.Value.RawRowView(0)
	dgamma := bn.Gamma.Grad.RawRowView(0)
	dbeta := bn.Beta.Grad.RawRowView(0)

	dx := mat.NewDense(n, f, nil)
	for j := 0; j < f; j++ {
		var sumDy, sumDyXhat float64
		for i := 0; i < n; i++ {
			g := dy.At(i, j)
			sumDy += g
			sumDyXhat += g * c.xhat.At(i, j)
		}
		dgamma[j] += sumDyXhat
		dbeta[j] += sumDy

		scale := gamma[j] * c.invStd[j]
		if !c.batch {
			// Statistics are constants.
			for i := 0; i < n; i++ {
				dx.Set(i, j, dy.At(i, j)*scale)
			}
			continue
		}

		nf := float64(n)
		for i := 0; i < n; i++ {
			v := nf*dy.At(i, j) - sumDy - c.xhat.At(i, j)*sumDyXhat
			dx.Set(i, j, scale*v/nf)
		}
	}
	return dx
}

// Params implements Layer.
func (bn *BatchNorm) Params() []*Param {
	return []*Param{bn.Gamma, bn.Beta}
}

// Buffers implements Stateful.
func (bn *BatchNorm) Buffers() []*Param {
	return []*Param{bn.RunningMean, bn.RunningVar}
}
