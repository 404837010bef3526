package nn

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a named, serializable snapshot of a Param.
type Tensor struct {
	Name string    `json:"name" msgpack:"name"`
	Rows int       `json:"rows" msgpack:"rows"`
	Cols int       `json:"cols" msgpack:"cols"`
	Data []float64 `json:"data" msgpack:"data"`
}

// Snapshot copies p into a Tensor.
func Snapshot(p *Param) Tensor {
	r, c := p.Value.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, p.Value.RawRowView(i)...)
	}
	return Tensor{Name: p.Name, Rows: r, Cols: c, Data: data}
}

// Restore copies t into p. The shapes must match.
func Restore(p *Param, t Tensor) error {
	r, c := p.Value.Dims()
	if t.Rows != r || t.Cols != c || len(t.Data) != r*c {
		return fmt.Errorf("tensor %q: shape %dx%d (len %d) does not match %dx%d",
			t.Name, t.Rows, t.Cols, len(t.Data), r, c)
	}
	p.Value.Copy(mat.NewDense(r, c, slices.Clone(t.Data)))
	return nil
}

// State is an ordered collection of tensors keyed by name.
type State []Tensor

// Lookup returns the tensor with the given name.
func (s State) Lookup(name string) (Tensor, bool) {
	for _, t := range s {
		if t.Name == name {
			return t, true
		}
	}
	return Tensor{}, false
}

// Capture snapshots params in order.
func Capture(params ...[]*Param) State {
	var s State
	for _, group := range params {
		for _, p := range group {
			s = append(s, Snapshot(p))
		}
	}
	return s
}

// Apply restores every param from s. Every param must be present.
func (s State) Apply(params ...[]*Param) error {
	for _, group := range params {
		for _, p := range group {
			t, ok := s.Lookup(p.Name)
			if !ok {
				return fmt.Errorf("tensor %q missing from state", p.Name)
			}
			if err := Restore(p, t); err != nil {
				return err
			}
		}
	}
	return nil
}
