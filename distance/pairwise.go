package distance

import "errors"

// ErrEmptySet is returned when a pairwise statistic is requested for no vectors.
var ErrEmptySet = errors.New("distance: empty vector set")

// PairwiseMean returns the mean of the full n×n distance matrix over vectors,
// diagonal included. For MetricL2 this matches cdist(E, E).mean().
func PairwiseMean(vectors [][]float64, m Metric) (float64, error) {
	n := len(vectors)
	if n == 0 {
		return 0, ErrEmptySet
	}
	fn, err := Provider(m)
	if err != nil {
		return 0, err
	}

	// The matrix is symmetric; sum the upper triangle twice plus the diagonal.
	var sum float64
	for i := 0; i < n; i++ {
		sum += fn(vectors[i], vectors[i])
		for j := i + 1; j < n; j++ {
			sum += 2 * fn(vectors[i], vectors[j])
		}
	}
	return sum / float64(n*n), nil
}

// Separation summarizes how well labeled vectors are grouped.
type Separation struct {
	// Intra is the mean distance between distinct vectors sharing a label.
	Intra float64
	// Inter is the mean distance between vectors with different labels.
	Inter float64
	// IntraPairs and InterPairs count the unordered pairs behind each mean.
	IntraPairs int
	InterPairs int
}

// Margin returns Inter - Intra. Larger is better.
func (s Separation) Margin() float64 {
	return s.Inter - s.Intra
}

// GroupSeparation computes mean intra-label and inter-label distances.
// labels[i] is the label of vectors[i]. A mean with no contributing pairs is 0.
func GroupSeparation(vectors [][]float64, labels []int, m Metric) (Separation, error) {
	if len(vectors) == 0 {
		return Separation{}, ErrEmptySet
	}
	if len(labels) != len(vectors) {
		return Separation{}, errors.New("distance: labels and vectors differ in length")
	}
	fn, err := Provider(m)
	if err != nil {
		return Separation{}, err
	}

	var (
		s                  Separation
		intraSum, interSum float64
	)
	for i := range vectors {
		for j := i + 1; j < len(vectors); j++ {
			d := fn(vectors[i], vectors[j])
			if labels[i] == labels[j] {
				intraSum += d
				s.IntraPairs++
			} else {
				interSum += d
				s.InterPairs++
			}
		}
	}
	if s.IntraPairs > 0 {
		s.Intra = intraSum / float64(s.IntraPairs)
	}
	if s.InterPairs > 0 {
		s.Inter = interSum / float64(s.InterPairs)
	}
	return s, nil
}
