package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNumericInstability is returned when a finite input produces a
	// non-finite embedding. Training must abort on it.
	ErrNumericInstability = errors.New("numeric instability: non-finite embedding for finite input")

	// ErrNonFiniteInput is returned when the input itself contains NaN or Inf.
	ErrNonFiniteInput = errors.New("non-finite input")

	// ErrInvalidArchitecture is returned for non-positive layer sizes or an
	// unknown backbone kind.
	ErrInvalidArchitecture = errors.New("invalid architecture")

	// ErrNoClassifier is returned when logits are requested from a Net built
	// without a classifier head.
	ErrNoClassifier = errors.New("model has no classifier head")
)

// DimensionMismatchError indicates an input width that does not match the
// backbone.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
