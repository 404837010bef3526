package loss

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func row(v ...float64) *mat.Dense {
	return mat.NewDense(1, len(v), v)
}

func TestTripletScenario(t *testing.T) {
	l := NewTriplet(DefaultMargin)
	a := row(0, 0)
	near := row(math.Sqrt(0.1), 0) // ‖a−near‖² = 0.1
	far := row(0, math.Sqrt(0.5))  // ‖a−far‖² = 0.5

	t.Run("Satisfied", func(t *testing.T) {
		got, err := l.Forward(a, near, far)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, got, 1e-12)
	})

	t.Run("Violated", func(t *testing.T) {
		got, err := l.Forward(a, far, near)
		require.NoError(t, err)
		assert.InDelta(t, 0.7, got, 1e-12)
	})
}

func TestTripletHinge(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	l := NewTriplet(0.3)

	for i := 0; i < 200; i++ {
		a := row(rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64())
		p := row(rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64())
		n := row(rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64())

		var dap, dan float64
		for j := 0; j < 3; j++ {
			dap += math.Pow(a.At(0, j)-p.At(0, j), 2)
			dan += math.Pow(a.At(0, j)-n.At(0, j), 2)
		}

		got, err := l.Forward(a, p, n)
		require.NoError(t, err)
		gap := dan - dap
		if gap >= 0.3 {
			assert.Equal(t, 0.0, got)
		} else {
			assert.Greater(t, got, 0.0)
			assert.InDelta(t, 0.3-gap, got, 1e-9)
		}
	}
}

func TestTripletMean(t *testing.T) {
	l := NewTriplet(0.3)
	a := mat.NewDense(2, 1, []float64{0, 0})
	p := mat.NewDense(2, 1, []float64{1, 0})
	n := mat.NewDense(2, 1, []float64{0, 2})

	// Row 0: 1 - 0 + 0.3 = 1.3; row 1: 0 - 4 + 0.3 < 0.
	per, err := l.PerSample(a, p, n)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.3, 0}, per, 1e-12)

	got, err := l.Forward(a, p, n)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, got, 1e-12)

	active, err := l.Active(a, p, n)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestTripletBackward(t *testing.T) {
	rng := rand.New(rand.NewPCG(8, 8))
	l := NewTriplet(1.0)

	rand3 := func() *mat.Dense {
		data := make([]float64, 4*3)
		for i := range data {
			data[i] = rng.NormFloat64()
		}
		return mat.NewDense(4, 3, data)
	}
	a, p, n := rand3(), rand3(), rand3()

	da, dp, dn, err := l.Backward(a, p, n)
	require.NoError(t, err)

	const h = 1e-6
	for _, c := range []struct {
		name string
		m    *mat.Dense
		grad *mat.Dense
	}{{"anchor", a, da}, {"positive", p, dp}, {"negative", n, dn}} {
		for i := 0; i < 4; i++ {
			for j := 0; j < 3; j++ {
				orig := c.m.At(i, j)
				c.m.Set(i, j, orig+h)
				fp, _ := l.Forward(a, p, n)
				c.m.Set(i, j, orig-h)
				fm, _ := l.Forward(a, p, n)
				c.m.Set(i, j, orig)
				assert.InDelta(t, (fp-fm)/(2*h), c.grad.At(i, j), 1e-5, "%s[%d,%d]", c.name, i, j)
			}
		}
	}

	t.Run("InactiveRowsHaveZeroGradient", func(t *testing.T) {
		da, dp, dn, err := NewTriplet(0.3).Backward(row(0, 0), row(0.1, 0), row(5, 5))
		require.NoError(t, err)
		assert.Equal(t, 0.0, mat.Sum(da)+mat.Sum(dp)+mat.Sum(dn))
	})
}

func TestTripletErrors(t *testing.T) {
	l := NewTriplet(0.3)

	_, err := l.Forward(row(1, 2), row(1, 2), row(1))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	empty := &mat.Dense{}
	_, err = l.Forward(empty, empty, empty)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestCrossEntropy(t *testing.T) {
	ce := CrossEntropy{}

	t.Run("Uniform", func(t *testing.T) {
		got, grad, err := ce.Forward(mat.NewDense(1, 4, nil), []int{2})
		require.NoError(t, err)
		assert.InDelta(t, math.Log(4), got, 1e-12)
		assert.InDeltaSlice(t, []float64{0.25, 0.25, -0.75, 0.25}, grad.RawRowView(0), 1e-12)
	})

	t.Run("Stable", func(t *testing.T) {
		got, _, err := ce.Forward(row(1000, 0), []int{0})
		require.NoError(t, err)
		assert.InDelta(t, 0.0, got, 1e-12)
	})

	t.Run("Gradient", func(t *testing.T) {
		logits := mat.NewDense(2, 3, []float64{0.1, -0.4, 2, 1, 0.5, -1})
		labels := []int{0, 2}
		_, grad, err := ce.Forward(logits, labels)
		require.NoError(t, err)

		const h = 1e-6
		for i := 0; i < 2; i++ {
			for j := 0; j < 3; j++ {
				orig := logits.At(i, j)
				logits.Set(i, j, orig+h)
				fp, _, _ := ce.Forward(logits, labels)
				logits.Set(i, j, orig-h)
				fm, _, _ := ce.Forward(logits, labels)
				logits.Set(i, j, orig)
				assert.InDelta(t, (fp-fm)/(2*h), grad.At(i, j), 1e-6)
			}
		}
	})

	t.Run("Errors", func(t *testing.T) {
		_, _, err := ce.Forward(row(1, 2), []int{0, 1})
		assert.ErrorIs(t, err, ErrShapeMismatch)
		_, _, err = ce.Forward(row(1, 2), []int{5})
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})
}
