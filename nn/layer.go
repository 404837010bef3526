package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Param is a trainable tensor and its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// ZeroGrad resets the accumulated gradient.
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// Layer is a differentiable operation over a mini-batch.
type Layer interface {
	// Forward computes the layer output. The returned cache must be passed
	// back unchanged to Backward.
	Forward(x *mat.Dense, train bool) (*mat.Dense, any)

	// Backward accumulates parameter gradients and returns dL/dx.
	Backward(cache any, dy *mat.Dense) *mat.Dense

	// Params returns the trainable parameters, or nil.
	Params() []*Param
}

// Stateful is implemented by layers that carry non-trainable buffers
// (for example BatchNorm running statistics) that must be checkpointed.
type Stateful interface {
	Buffers() []*Param
}

// Sequential chains layers in order.
type Sequential struct {
	Layers []Layer
}

// NewSequential creates a Sequential from layers.
func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

// Forward runs every layer in order.
func (s *Sequential) Forward(x *mat.Dense, train bool) (*mat.Dense, any) {
	caches := make([]any, len(s.Layers))
	for i, l := range s.Layers {
		x, caches[i] = l.Forward(x, train)
	}
	return x, caches
}

// Backward runs every layer in reverse order.
func (s *Sequential) Backward(cache any, dy *mat.Dense) *mat.Dense {
	caches := cache.([]any)
	for i := len(s.Layers) - 1; i >= 0; i-- {
		dy = s.Layers[i].Backward(caches[i], dy)
	}
	return dy
}

// Params returns the parameters of all layers.
func (s *Sequential) Params() []*Param {
	var out []*Param
	for _, l := range s.Layers {
		out = append(out, l.Params()...)
	}
	return out
}

// Buffers returns the buffers of all stateful layers.
func (s *Sequential) Buffers() []*Param {
	var out []*Param
	for _, l := range s.Layers {
		if st, ok := l.(Stateful); ok {
			out = append(out, st.Buffers()...)
		}
	}
	return out
}

// IsFinite reports whether every element of m is finite.
func IsFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
