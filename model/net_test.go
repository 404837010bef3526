package model

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func pooledArch() Architecture {
	return Architecture{
		Backbone:     BackboneSpec{Kind: KindPooled, Channels: 3, Size: 8, Grid: 2},
		HiddenDim:    16,
		EmbeddingDim: 8,
		NumClasses:   3,
		Dropout:      0.5,
	}
}

func denseArch(frozen bool) Architecture {
	return Architecture{
		Backbone:     BackboneSpec{Kind: KindDense, In: 6, Layers: []int{10, 7}, Frozen: frozen},
		HiddenDim:    12,
		EmbeddingDim: 4,
	}
}

func randomInput(rng *rand.Rand, rows, cols int, scale float64) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * scale
	}
	return mat.NewDense(rows, cols, data)
}

func TestNew(t *testing.T) {
	t.Run("Pooled", func(t *testing.T) {
		n, err := New(pooledArch(), WithSeed(7))
		require.NoError(t, err)
		assert.Equal(t, 3*8*8, n.InputDim())
		assert.Equal(t, 8, n.EmbeddingDim())
		assert.True(t, n.HasClassifier())
		// head: 2 linear + 2 batchnorm (2 params each) + classifier
		assert.Len(t, n.Params(), 10)
	})

	t.Run("FrozenBackboneExcluded", func(t *testing.T) {
		trainable, err := New(denseArch(false))
		require.NoError(t, err)
		frozen, err := New(denseArch(true))
		require.NoError(t, err)
		assert.Len(t, trainable.Params(), len(frozen.Params())+4)
		// State always includes the backbone.
		assert.Len(t, frozen.State(), len(trainable.State()))
	})

	tests := []struct {
		name string
		mod  func(*Architecture)
	}{
		{"ZeroHidden", func(a *Architecture) { a.HiddenDim = 0 }},
		{"NegativeEmbedding", func(a *Architecture) { a.EmbeddingDim = -1 }},
		{"BadDropout", func(a *Architecture) { a.Dropout = 1 }},
		{"UnknownBackbone", func(a *Architecture) { a.Backbone.Kind = "resnet" }},
		{"GridLargerThanImage", func(a *Architecture) { a.Backbone.Grid = 9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arch := pooledArch()
			tt.mod(&arch)
			_, err := New(arch)
			assert.ErrorIs(t, err, ErrInvalidArchitecture)
		})
	}
}

func TestEmbedUnitNorm(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, arch := range []Architecture{pooledArch(), denseArch(false)} {
		n, err := New(arch, WithSeed(3))
		require.NoError(t, err)

		for _, scale := range []float64{1e-3, 1, 1e3} {
			x := randomInput(rng, 1, n.InputDim(), scale)
			e, err := n.Embed(x.RawRowView(0))
			require.NoError(t, err)
			require.Len(t, e, arch.EmbeddingDim)
			assert.InDelta(t, 1.0, mat.Norm(mat.NewVecDense(len(e), e), 2), 1e-5)
		}

		batch := randomInput(rng, 5, n.InputDim(), 1)
		e, _, err := n.Forward(batch, true)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			assert.InDelta(t, 1.0, mat.Norm(e.RowView(i), 2), 1e-5)
		}
	}
}

func TestForwardErrors(t *testing.T) {
	n, err := New(denseArch(false))
	require.NoError(t, err)

	t.Run("DimensionMismatch", func(t *testing.T) {
		_, err := n.Embed(make([]float64, 5))
		var dm *DimensionMismatchError
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 6, dm.Expected)
		assert.Equal(t, 5, dm.Actual)
	})

	t.Run("NonFiniteInput", func(t *testing.T) {
		x := []float64{1, 2, math.NaN(), 0, 0, 0}
		_, err := n.Embed(x)
		assert.ErrorIs(t, err, ErrNonFiniteInput)
	})

	t.Run("NumericInstability", func(t *testing.T) {
		broken, err := New(denseArch(false))
		require.NoError(t, err)
		for _, p := range broken.Params() {
			if p.Name == "head.5.bias" {
				p.Value.Set(0, 0, math.Inf(1))
			}
		}
		_, err = broken.Embed([]float64{1, 1, 1, 1, 1, 1})
		assert.ErrorIs(t, err, ErrNumericInstability)
	})

	t.Run("NoClassifier", func(t *testing.T) {
		_, _, _, err := n.ForwardClassifier(mat.NewDense(1, 6, nil), false)
		assert.ErrorIs(t, err, ErrNoClassifier)
	})
}

func TestBackwardMatchesNumericGradient(t *testing.T) {
	arch := denseArch(false)
	arch.NumClasses = 3
	n, err := New(arch, WithSeed(11))
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(5, 5))
	x := randomInput(rng, 3, 6, 1)
	we := randomInput(rng, 3, arch.EmbeddingDim, 1)
	wl := randomInput(rng, 3, 3, 1)

	// Evaluation mode keeps the function deterministic.
	objective := func() float64 {
		e, logits, _, err := n.ForwardClassifier(x, false)
		require.NoError(t, err)
		var a, b mat.Dense
		a.MulElem(e, we)
		b.MulElem(logits, wl)
		return mat.Sum(&a) + mat.Sum(&b)
	}

	_, _, tape, err := n.ForwardClassifier(x, false)
	require.NoError(t, err)
	n.ZeroGrad()
	require.NoError(t, n.Backward(tape, Grad{Embedding: we, Logits: wl}))

	const h = 1e-6
	for _, p := range n.Params() {
		// Probe one entry per parameter.
		orig := p.Value.At(0, 0)
		p.Value.Set(0, 0, orig+h)
		fp := objective()
		p.Value.Set(0, 0, orig-h)
		fm := objective()
		p.Value.Set(0, 0, orig)

		numeric := (fp - fm) / (2 * h)
		assert.InDelta(t, numeric, p.Grad.At(0, 0), 1e-4, p.Name)
	}
	assert.Greater(t, n.GradNorm(), 0.0)

	n.ZeroGrad()
	assert.Equal(t, 0.0, n.GradNorm())
}

func TestBackwardErrors(t *testing.T) {
	n, err := New(denseArch(false))
	require.NoError(t, err)

	_, tape, err := n.Forward(mat.NewDense(2, 6, nil), true)
	require.NoError(t, err)

	assert.Error(t, n.Backward(nil, Grad{}))
	assert.Error(t, n.Backward(tape, Grad{Embedding: mat.NewDense(2, 3, nil)}))
	assert.ErrorIs(t, n.Backward(tape, Grad{
		Embedding: mat.NewDense(2, 4, nil),
		Logits:    mat.NewDense(2, 2, nil),
	}), ErrNoClassifier)
}

func TestStateRoundTrip(t *testing.T) {
	arch := pooledArch()
	src, err := New(arch, WithSeed(1))
	require.NoError(t, err)
	dst, err := New(arch, WithSeed(2))
	require.NoError(t, err)

	// Move the running statistics away from their initial values.
	rng := rand.New(rand.NewPCG(9, 9))
	_, _, err = src.Forward(randomInput(rng, 4, src.InputDim(), 1), true)
	require.NoError(t, err)

	x := randomInput(rng, 1, src.InputDim(), 1).RawRowView(0)
	want, err := src.Embed(x)
	require.NoError(t, err)
	before, err := dst.Embed(x)
	require.NoError(t, err)
	assert.NotEqual(t, want, before)

	require.NoError(t, dst.LoadState(src.State()))
	got, err := dst.Embed(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-12)

	t.Run("ArchitectureMismatch", func(t *testing.T) {
		other := pooledArch()
		other.HiddenDim = 32
		n, err := New(other)
		require.NoError(t, err)
		assert.Error(t, n.LoadState(src.State()))
	})
}

func TestPooledBackbone(t *testing.T) {
	b, err := NewPooledBackbone(1, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 16, b.InputDim())
	assert.Equal(t, 5, b.OutputDim())
	assert.False(t, b.Trainable())
	assert.Nil(t, b.Params())

	// Quadrants hold 0, 1, 2, 3.
	img := []float64{
		0, 0, 1, 1,
		0, 0, 1, 1,
		2, 2, 3, 3,
		2, 2, 3, 3,
	}
	y, cache := b.Forward(mat.NewDense(1, 16, img), false)
	out := y.RawRowView(0)
	assert.Equal(t, []float64{0, 1, 2, 3}, out[:4])
	assert.InDelta(t, math.Sqrt(1.25), out[4], 1e-12)

	// Gradient of the first cell mean spreads evenly over its four pixels.
	dy := mat.NewDense(1, 5, []float64{1, 0, 0, 0, 0})
	dx := b.Backward(cache, dy)
	assert.InDelta(t, 0.25, dx.At(0, 0), 1e-12)
	assert.InDelta(t, 0.25, dx.At(0, 5), 1e-12)
	assert.Equal(t, 0.0, dx.At(0, 2))

	spec := b.Spec()
	rebuilt, err := NewBackbone(spec, nil)
	require.NoError(t, err)
	assert.Equal(t, spec, rebuilt.Spec())
}
