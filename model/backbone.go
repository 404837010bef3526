package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/hupe1980/reid/nn"
	"gonum.org/v1/gonum/mat"
)

// Backbone kinds.
const (
	KindPooled = "pooled"
	KindDense  = "dense"
)

// Backbone extracts a fixed-width feature vector from a raw input.
type Backbone interface {
	nn.Layer

	// InputDim is the expected input width.
	InputDim() int
	// OutputDim is the feature width F fed to the projection head.
	OutputDim() int
	// Trainable reports whether the backbone receives gradient updates.
	Trainable() bool
	// Spec describes the backbone so it can be rebuilt from a checkpoint.
	Spec() BackboneSpec
}

// BackboneSpec is the serializable description of a Backbone.
type BackboneSpec struct {
	Kind string `json:"kind" msgpack:"kind"`

	// Pooled backbone.
	Channels int `json:"channels,omitempty" msgpack:"channels,omitempty"`
	Size     int `json:"size,omitempty" msgpack:"size,omitempty"`
	Grid     int `json:"grid,omitempty" msgpack:"grid,omitempty"`

	// Dense backbone.
	In     int   `json:"in,omitempty" msgpack:"in,omitempty"`
	Layers []int `json:"layers,omitempty" msgpack:"layers,omitempty"`
	Frozen bool  `json:"frozen,omitempty" msgpack:"frozen,omitempty"`
}

// NewBackbone builds the backbone described by spec.
func NewBackbone(spec BackboneSpec, rng *rand.Rand) (Backbone, error) {
	switch spec.Kind {
	case KindPooled:
		return NewPooledBackbone(spec.Channels, spec.Size, spec.Grid)
	case KindDense:
		return NewDenseBackbone(spec.In, spec.Layers, spec.Frozen, rng)
	default:
		return nil, fmt.Errorf("%w: unknown backbone kind %q", ErrInvalidArchitecture, spec.Kind)
	}
}

// PooledBackbone summarizes a CHW image with per-channel grid means and
// per-channel standard deviation. It has no parameters and is always frozen.
type PooledBackbone struct {
	channels, size, grid int
}

// NewPooledBackbone creates a PooledBackbone for channels×size×size inputs
// pooled on a grid×grid lattice.
func NewPooledBackbone(channels, size, grid int) (*PooledBackbone, error) {
	if channels <= 0 || size <= 0 || grid <= 0 || grid > size {
		return nil, fmt.Errorf("%w: pooled backbone channels=%d size=%d grid=%d",
			ErrInvalidArchitecture, channels, size, grid)
	}
	return &PooledBackbone{channels: channels, size: size, grid: grid}, nil
}

// InputDim implements Backbone.
func (b *PooledBackbone) InputDim() int { return b.channels * b.size * b.size }

// OutputDim implements Backbone.
func (b *PooledBackbone) OutputDim() int { return b.channels*b.grid*b.grid + b.channels }

// Trainable implements Backbone.
func (b *PooledBackbone) Trainable() bool { return false }

// Spec implements Backbone.
func (b *PooledBackbone) Spec() BackboneSpec {
	return BackboneSpec{Kind: KindPooled, Channels: b.channels, Size: b.size, Grid: b.grid}
}

// cell returns the half-open pixel range of grid cell g along one axis.
func (b *PooledBackbone) cell(g int) (int, int) {
	return g * b.size / b.grid, (g + 1) * b.size / b.grid
}

// Forward implements nn.Layer.
func (b *PooledBackbone) Forward(x *mat.Dense, _ bool) (*mat.Dense, any) {
	n, _ := x.Dims()
	plane := b.size * b.size
	y := mat.NewDense(n, b.OutputDim(), nil)

	for r := 0; r < n; r++ {
		in := x.RawRowView(r)
		out := y.RawRowView(r)
		k := 0
		for c := 0; c < b.channels; c++ {
			ch := in[c*plane : (c+1)*plane]
			for gy := 0; gy < b.grid; gy++ {
				y0, y1 := b.cell(gy)
				for gx := 0; gx < b.grid; gx++ {
					x0, x1 := b.cell(gx)
					var sum float64
					for py := y0; py < y1; py++ {
						for px := x0; px < x1; px++ {
							sum += ch[py*b.size+px]
						}
					}
					out[k] = sum / float64((y1-y0)*(x1-x0))
					k++
				}
			}
		}
		for c := 0; c < b.channels; c++ {
			out[k] = stddev(in[c*plane : (c+1)*plane])
			k++
		}
	}
	return y, x
}

// Backward implements nn.Layer.
func (b *PooledBackbone) Backward(cache any, dy *mat.Dense) *mat.Dense {
	x := cache.(*mat.Dense)
	n, _ := x.Dims()
	plane := b.size * b.size
	dx := mat.NewDense(n, b.InputDim(), nil)

	for r := 0; r < n; r++ {
		in := x.RawRowView(r)
		g := dy.RawRowView(r)
		out := dx.RawRowView(r)
		k := 0
		for c := 0; c < b.channels; c++ {
			dch := out[c*plane : (c+1)*plane]
			for gy := 0; gy < b.grid; gy++ {
				y0, y1 := b.cell(gy)
				for gx := 0; gx < b.grid; gx++ {
					x0, x1 := b.cell(gx)
					share := g[k] / float64((y1-y0)*(x1-x0))
					for py := y0; py < y1; py++ {
						for px := x0; px < x1; px++ {
							dch[py*b.size+px] += share
						}
					}
					k++
				}
			}
		}
		for c := 0; c < b.channels; c++ {
			ch := in[c*plane : (c+1)*plane]
			dch := out[c*plane : (c+1)*plane]
			mean, sd := meanStd(ch)
			if sd > 0 {
				scale := g[k] / (float64(len(ch)) * sd)
				for i, v := range ch {
					dch[i] += scale * (v - mean)
				}
			}
			k++
		}
	}
	return dx
}

// Params implements nn.Layer.
func (b *PooledBackbone) Params() []*nn.Param { return nil }

func stddev(v []float64) float64 {
	_, sd := meanStd(v)
	return sd
}

// meanStd returns the mean and population standard deviation of v.
func meanStd(v []float64) (float64, float64) {
	var mean float64
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))
	var ss float64
	for _, x := range v {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(v)))
}

// DenseBackbone is a trainable stack of Linear+ReLU layers.
type DenseBackbone struct {
	in     int
	layers []int
	frozen bool
	seq    *nn.Sequential
}

// NewDenseBackbone creates a DenseBackbone mapping in features through the
// given hidden layer widths. A frozen backbone receives no updates.
func NewDenseBackbone(in int, layers []int, frozen bool, rng *rand.Rand) (*DenseBackbone, error) {
	if in <= 0 || len(layers) == 0 {
		return nil, fmt.Errorf("%w: dense backbone in=%d layers=%v", ErrInvalidArchitecture, in, layers)
	}

	var stack []nn.Layer
	prev := in
	for i, w := range layers {
		if w <= 0 {
			return nil, fmt.Errorf("%w: dense backbone layer %d has width %d", ErrInvalidArchitecture, i, w)
		}
		stack = append(stack, nn.NewLinear(fmt.Sprintf("backbone.%d", i), prev, w, rng), nn.ReLU{})
		prev = w
	}

	return &DenseBackbone{
		in:     in,
		layers: append([]int(nil), layers...),
		frozen: frozen,
		seq:    nn.NewSequential(stack...),
	}, nil
}

// InputDim implements Backbone.
func (b *DenseBackbone) InputDim() int { return b.in }

// OutputDim implements Backbone.
func (b *DenseBackbone) OutputDim() int { return b.layers[len(b.layers)-1] }

// Trainable implements Backbone.
func (b *DenseBackbone) Trainable() bool { return !b.frozen }

// Spec implements Backbone.
func (b *DenseBackbone) Spec() BackboneSpec {
	return BackboneSpec{Kind: KindDense, In: b.in, Layers: append([]int(nil), b.layers...), Frozen: b.frozen}
}

// Forward implements nn.Layer.
func (b *DenseBackbone) Forward(x *mat.Dense, train bool) (*mat.Dense, any) {
	return b.seq.Forward(x, train)
}

// Backward implements nn.Layer.
func (b *DenseBackbone) Backward(cache any, dy *mat.Dense) *mat.Dense {
	return b.seq.Backward(cache, dy)
}

// Params implements nn.Layer.
func (b *DenseBackbone) Params() []*nn.Param { return b.seq.Params() }
