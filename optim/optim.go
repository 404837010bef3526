// Package optim provides parameter optimizers and learning-rate schedules.
package optim

import (
	"math"

	"github.com/hupe1980/reid/nn"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	// Step applies one update at learning rate lr.
	Step(params []*nn.Param, lr float64)
	// Name identifies the optimizer in logged hyperparameters.
	Name() string
}

// AdamW is Adam with decoupled weight decay.
type AdamW struct {
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	t     int
	state map[*nn.Param]*moments
}

type moments struct {
	m, v []float64
}

// NewAdamW returns AdamW with betas (0.9, 0.999) and eps 1e-8.
func NewAdamW(weightDecay float64) *AdamW {
	return &AdamW{
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		state:       make(map[*nn.Param]*moments),
	}
}

// Name implements Optimizer.
func (o *AdamW) Name() string { return "adamw" }

// Steps returns the number of updates applied so far.
func (o *AdamW) Steps() int { return o.t }

// Step implements Optimizer.
func (o *AdamW) Step(params []*nn.Param, lr float64) {
	o.t++
	bc1 := 1 - math.Pow(o.Beta1, float64(o.t))
	bc2 := 1 - math.Pow(o.Beta2, float64(o.t))

	for _, p := range params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data

		st, ok := o.state[p]
		if !ok {
			st = &moments{m: make([]float64, len(w)), v: make([]float64, len(w))}
			o.state[p] = st
		}

		decay := 1 - lr*o.WeightDecay
		for i := range w {
			w[i] *= decay

			st.m[i] = o.Beta1*st.m[i] + (1-o.Beta1)*g[i]
			st.v[i] = o.Beta2*st.v[i] + (1-o.Beta2)*g[i]*g[i]

			mHat := st.m[i] / bc1
			vHat := st.v[i] / bc2
			w[i] -= lr * mHat / (math.Sqrt(vHat) + o.Eps)
		}
	}
}

// SGD is stochastic gradient descent with optional momentum and L2 weight
// decay.
type SGD struct {
	Momentum    float64
	WeightDecay float64

	velocity map[*nn.Param][]float64
}

// NewSGD returns an SGD optimizer.
func NewSGD(momentum, weightDecay float64) *SGD {
	return &SGD{
		Momentum:    momentum,
		WeightDecay: weightDecay,
		velocity:    make(map[*nn.Param][]float64),
	}
}

// Name implements Optimizer.
func (o *SGD) Name() string { return "sgd" }

// Step implements Optimizer.
func (o *SGD) Step(params []*nn.Param, lr float64) {
	for _, p := range params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data

		vel := o.velocity[p]
		if vel == nil && o.Momentum != 0 {
			vel = make([]float64, len(w))
			o.velocity[p] = vel
		}

		for i := range w {
			d := g[i] + o.WeightDecay*w[i]
			if vel != nil {
				vel[i] = o.Momentum*vel[i] + d
				d = vel[i]
			}
			w[i] -= lr * d
		}
	}
}

// ClipGradNorm scales all gradients so their global L2 norm is at most
// maxNorm. It returns the norm before clipping.
func ClipGradNorm(params []*nn.Param, maxNorm float64) float64 {
	var ss float64
	for _, p := range params {
		for _, v := range p.Grad.RawMatrix().Data {
			ss += v * v
		}
	}
	norm := math.Sqrt(ss)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}

	scale := maxNorm / norm
	for _, p := range params {
		g := p.Grad.RawMatrix().Data
		for i := range g {
			g[i] *= scale
		}
	}
	return norm
}
