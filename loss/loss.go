// Package loss implements the metric-learning and classification objectives.
package loss

import (
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/reid/distance"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultMargin is the triplet margin policy value.
const DefaultMargin = 0.3

var (
	// ErrEmptyBatch is returned for a batch with no rows.
	ErrEmptyBatch = errors.New("loss: empty batch")
	// ErrShapeMismatch is returned when inputs disagree in shape.
	ErrShapeMismatch = errors.New("loss: shape mismatch")
)

// Triplet is the squared-distance triplet loss
//
//	mean_i max(0, ‖a_i−p_i‖² − ‖a_i−n_i‖² + margin)
type Triplet struct {
	Margin float64
}

// NewTriplet returns a Triplet loss with the given margin.
func NewTriplet(margin float64) Triplet {
	return Triplet{Margin: margin}
}

func checkTriplet(a, p, n *mat.Dense) (int, int, error) {
	ar, ac := a.Dims()
	pr, pc := p.Dims()
	nr, nc := n.Dims()
	if ar != pr || ar != nr || ac != pc || ac != nc {
		return 0, 0, fmt.Errorf("%w: anchor %dx%d, positive %dx%d, negative %dx%d",
			ErrShapeMismatch, ar, ac, pr, pc, nr, nc)
	}
	if ar == 0 {
		return 0, 0, ErrEmptyBatch
	}
	return ar, ac, nil
}

// PerSample returns the un-averaged loss of every row.
func (t Triplet) PerSample(a, p, n *mat.Dense) ([]float64, error) {
	rows, _, err := checkTriplet(a, p, n)
	if err != nil {
		return nil, err
	}
	out := make([]float64, rows)
	for i := range out {
		dap := distance.SquaredL2(a.RawRowView(i), p.RawRowView(i))
		dan := distance.SquaredL2(a.RawRowView(i), n.RawRowView(i))
		out[i] = math.Max(0, dap-dan+t.Margin)
	}
	return out, nil
}

// Forward returns the mean triplet loss over the batch.
func (t Triplet) Forward(a, p, n *mat.Dense) (float64, error) {
	per, err := t.PerSample(a, p, n)
	if err != nil {
		return 0, err
	}
	return floats.Sum(per) / float64(len(per)), nil
}

// Backward returns the gradients of Forward with respect to a, p and n.
// Rows whose hinge is inactive contribute zero.
func (t Triplet) Backward(a, p, n *mat.Dense) (da, dp, dn *mat.Dense, err error) {
	per, err := t.PerSample(a, p, n)
	if err != nil {
		return nil, nil, nil, err
	}
	rows, cols := a.Dims()
	da = mat.NewDense(rows, cols, nil)
	dp = mat.NewDense(rows, cols, nil)
	dn = mat.NewDense(rows, cols, nil)

	scale := 2 / float64(rows)
	for i := 0; i < rows; i++ {
		if per[i] <= 0 {
			continue
		}
		ar, pr, nr := a.RawRowView(i), p.RawRowView(i), n.RawRowView(i)
		gA, gP, gN := da.RawRowView(i), dp.RawRowView(i), dn.RawRowView(i)
		for j := range ar {
			gA[j] = scale * (nr[j] - pr[j])
			gP[j] = -scale * (ar[j] - pr[j])
			gN[j] = scale * (ar[j] - nr[j])
		}
	}
	return da, dp, dn, nil
}

// Active returns the number of rows with a positive hinge.
func (t Triplet) Active(a, p, n *mat.Dense) (int, error) {
	per, err := t.PerSample(a, p, n)
	if err != nil {
		return 0, err
	}
	active := 0
	for _, v := range per {
		if v > 0 {
			active++
		}
	}
	return active, nil
}

// CrossEntropy is softmax cross-entropy averaged over the batch.
type CrossEntropy struct{}

// Forward returns the mean loss and its gradient with respect to logits.
func (CrossEntropy) Forward(logits *mat.Dense, labels []int) (float64, *mat.Dense, error) {
	rows, cols := logits.Dims()
	if rows == 0 {
		return 0, nil, ErrEmptyBatch
	}
	if len(labels) != rows {
		return 0, nil, fmt.Errorf("%w: %d logits rows, %d labels", ErrShapeMismatch, rows, len(labels))
	}

	grad := mat.NewDense(rows, cols, nil)
	var total float64
	for i := 0; i < rows; i++ {
		y := labels[i]
		if y < 0 || y >= cols {
			return 0, nil, fmt.Errorf("%w: label %d outside [0,%d)", ErrShapeMismatch, y, cols)
		}

		row := logits.RawRowView(i)
		g := grad.RawRowView(i)
		// Log-sum-exp with the row maximum subtracted for stability.
		lse := floats.LogSumExp(row)
		for j, z := range row {
			g[j] = math.Exp(z-lse) / float64(rows)
		}
		g[y] -= 1 / float64(rows)
		total += lse - row[y]
	}
	return total / float64(rows), grad, nil
}
