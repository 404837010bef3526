package optim

import (
	"math"
	"testing"

	"github.com/hupe1980/reid/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func param(values ...float64) *nn.Param {
	return &nn.Param{
		Name:  "p",
		Value: mat.NewDense(1, len(values), values),
		Grad:  mat.NewDense(1, len(values), nil),
	}
}

func TestAdamW(t *testing.T) {
	t.Run("FirstStepMovesByLR", func(t *testing.T) {
		p := param(1, -1)
		p.Grad.Set(0, 0, 0.5)
		p.Grad.Set(0, 1, -2)

		opt := NewAdamW(0)
		opt.Step([]*nn.Param{p}, 0.1)

		// Bias-corrected first step is lr·sign(g).
		assert.InDelta(t, 0.9, p.Value.At(0, 0), 1e-6)
		assert.InDelta(t, -0.9, p.Value.At(0, 1), 1e-6)
		assert.Equal(t, 1, opt.Steps())
	})

	t.Run("DecoupledWeightDecay", func(t *testing.T) {
		p := param(2)
		opt := NewAdamW(0.5)
		opt.Step([]*nn.Param{p}, 0.1)
		// Zero gradient: only the decay applies.
		assert.InDelta(t, 2*(1-0.1*0.5), p.Value.At(0, 0), 1e-12)
	})

	t.Run("MinimizesQuadratic", func(t *testing.T) {
		p := param(3, -4)
		opt := NewAdamW(0)
		for i := 0; i < 2000; i++ {
			// f = ‖w‖², ∇f = 2w
			p.Grad.Scale(2, p.Value)
			opt.Step([]*nn.Param{p}, 0.05)
		}
		assert.InDelta(t, 0, p.Value.At(0, 0), 0.1)
		assert.InDelta(t, 0, p.Value.At(0, 1), 0.1)
	})
}

func TestSGD(t *testing.T) {
	p := param(1)
	p.Grad.Set(0, 0, 1)

	NewSGD(0, 0).Step([]*nn.Param{p}, 0.1)
	assert.InDelta(t, 0.9, p.Value.At(0, 0), 1e-12)

	q := param(1)
	q.Grad.Set(0, 0, 1)
	opt := NewSGD(0.9, 0)
	opt.Step([]*nn.Param{q}, 0.1)
	opt.Step([]*nn.Param{q}, 0.1)
	// velocity: 1, then 1.9
	assert.InDelta(t, 1-0.1-0.19, q.Value.At(0, 0), 1e-12)
}

func TestClipGradNorm(t *testing.T) {
	p := param(0, 0)
	p.Grad.Set(0, 0, 3)
	p.Grad.Set(0, 1, 4)

	norm := ClipGradNorm([]*nn.Param{p}, 1)
	assert.InDelta(t, 5.0, norm, 1e-12)
	assert.InDelta(t, 0.6, p.Grad.At(0, 0), 1e-12)
	assert.InDelta(t, 0.8, p.Grad.At(0, 1), 1e-12)

	// Disabled.
	ClipGradNorm([]*nn.Param{p}, 0)
	assert.InDelta(t, 0.6, p.Grad.At(0, 0), 1e-12)
}

func TestCosineAnnealing(t *testing.T) {
	c := CosineAnnealing{Base: 1e-4, TMax: 10}

	tests := []struct {
		epoch    int
		expected float64
	}{
		{0, 1e-4},
		{5, 0.5e-4},
		{10, 0},
		{20, 1e-4}, // periodic
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.expected, c.LR(tt.epoch), 1e-15, "epoch %d", tt.epoch)
	}

	// Monotone non-increasing over the first half period.
	prev := math.Inf(1)
	for e := 0; e <= 10; e++ {
		lr := c.LR(e)
		assert.LessOrEqual(t, lr, prev)
		prev = lr
	}

	assert.Equal(t, 1e-4, CosineAnnealing{Base: 1e-4}.LR(3))
}

func TestScheduler(t *testing.T) {
	s := NewScheduler(CosineAnnealing{Base: 1, TMax: 2})
	assert.Equal(t, 1.0, s.LR())
	assert.InDelta(t, 0.5, s.Step(), 1e-12)
	assert.InDelta(t, 0.0, s.Step(), 1e-12)
	assert.Equal(t, 2, s.Epoch())
}

func TestStepSchedule(t *testing.T) {
	s := Step{Base: 1, Gamma: 0.1, StepSize: 2}
	assert.Equal(t, 1.0, s.LR(1))
	assert.InDelta(t, 0.1, s.LR(2), 1e-12)
	assert.InDelta(t, 0.01, s.LR(5), 1e-12)
	assert.Equal(t, 3.0, Constant{Rate: 3}.LR(100))
}

func TestFactories(t *testing.T) {
	for _, name := range []string{"", "cosine", "constant", "step"} {
		s, err := NewSchedule(name, 0.1, 9)
		require.NoError(t, err)
		assert.InDelta(t, 0.1, s.LR(0), 1e-12, name)
	}
	_, err := NewSchedule("warmup", 0.1, 9)
	assert.Error(t, err)

	opt, err := NewOptimizer("", 1e-4)
	require.NoError(t, err)
	assert.Equal(t, "adamw", opt.Name())
	opt, err = NewOptimizer("sgd", 0)
	require.NoError(t, err)
	assert.Equal(t, "sgd", opt.Name())
	_, err = NewOptimizer("lion", 0)
	assert.Error(t, err)
}
