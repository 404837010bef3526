package optim

import (
	"fmt"
	"math"
)

// Schedule maps an epoch index to a learning rate.
type Schedule interface {
	LR(epoch int) float64
	Name() string
}

// Constant keeps the learning rate fixed.
type Constant struct {
	Rate float64
}

// LR implements Schedule.
func (c Constant) LR(int) float64 { return c.Rate }

// Name implements Schedule.
func (c Constant) Name() string { return "constant" }

// CosineAnnealing decays from Base to Min over TMax epochs along a half
// cosine:
//
//	LR(e) = Min + (Base−Min)·(1+cos(π·e/TMax))/2
//
// The curve continues periodically past TMax.
type CosineAnnealing struct {
	Base float64
	Min  float64
	TMax int
}

// LR implements Schedule.
func (c CosineAnnealing) LR(epoch int) float64 {
	if c.TMax <= 0 {
		return c.Base
	}
	return c.Min + (c.Base-c.Min)*(1+math.Cos(math.Pi*float64(epoch)/float64(c.TMax)))/2
}

// Name implements Schedule.
func (c CosineAnnealing) Name() string { return "cosine" }

// Step multiplies the rate by Gamma every StepSize epochs.
type Step struct {
	Base     float64
	Gamma    float64
	StepSize int
}

// LR implements Schedule.
func (s Step) LR(epoch int) float64 {
	if s.StepSize <= 0 {
		return s.Base
	}
	return s.Base * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

// Name implements Schedule.
func (s Step) Name() string { return "step" }

// Scheduler tracks the schedule phase. Step advances one epoch.
type Scheduler struct {
	schedule Schedule
	epoch    int
}

// NewScheduler returns a Scheduler positioned at epoch 0.
func NewScheduler(s Schedule) *Scheduler {
	return &Scheduler{schedule: s}
}

// LR returns the current learning rate.
func (s *Scheduler) LR() float64 { return s.schedule.LR(s.epoch) }

// Step advances the schedule and returns the new learning rate.
func (s *Scheduler) Step() float64 {
	s.epoch++
	return s.LR()
}

// Epoch returns the number of Step calls so far.
func (s *Scheduler) Epoch() int { return s.epoch }

// NewSchedule builds a named schedule: "cosine", "constant" or "step".
func NewSchedule(name string, base float64, epochs int) (Schedule, error) {
	switch name {
	case "", "cosine":
		return CosineAnnealing{Base: base, TMax: epochs}, nil
	case "constant":
		return Constant{Rate: base}, nil
	case "step":
		size := max(epochs/3, 1)
		return Step{Base: base, Gamma: 0.1, StepSize: size}, nil
	default:
		return nil, fmt.Errorf("unknown schedule %q", name)
	}
}

// NewOptimizer builds a named optimizer: "adamw" or "sgd".
func NewOptimizer(name string, weightDecay float64) (Optimizer, error) {
	switch name {
	case "", "adamw":
		return NewAdamW(weightDecay), nil
	case "sgd":
		return NewSGD(0.9, weightDecay), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
}
