package dataset

import (
	"cmp"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/hupe1980/reid/internal/conv"
)

// Index is the immutable sample set and identity mapping. It is safe for
// concurrent reads.
type Index struct {
	root       string
	samples    []Sample
	identities []string
	byIdentity map[string][]int
	labels     map[string]int
	sampleIDs  []int
}

// NewIndex builds an Index from samples. Samples are sorted by identity and
// then by file name; the input slice is not modified.
func NewIndex(samples []Sample) (*Index, error) {
	if len(samples) == 0 {
		return nil, ErrDatasetEmpty
	}
	// Sample indices are tracked in 32-bit sets.
	if _, err := conv.IntToUint32(len(samples)); err != nil {
		return nil, fmt.Errorf("too many samples: %w", err)
	}

	sorted := slices.Clone(samples)
	slices.SortStableFunc(sorted, func(a, b Sample) int {
		if c := cmp.Compare(a.Identity, b.Identity); c != 0 {
			return c
		}
		if c := cmp.Compare(filepath.Base(a.Path), filepath.Base(b.Path)); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})

	idx := &Index{
		samples:    sorted,
		byIdentity: make(map[string][]int),
		labels:     make(map[string]int),
		sampleIDs:  make([]int, len(sorted)),
	}
	for i, s := range sorted {
		if s.Identity == "" {
			return nil, fmt.Errorf("sample %q has no identity", s.Path)
		}
		if _, ok := idx.labels[s.Identity]; !ok {
			idx.labels[s.Identity] = len(idx.identities)
			idx.identities = append(idx.identities, s.Identity)
		}
		idx.byIdentity[s.Identity] = append(idx.byIdentity[s.Identity], i)
		idx.sampleIDs[i] = idx.labels[s.Identity]
	}
	return idx, nil
}

// Root returns the directory the index was built from, if any.
func (x *Index) Root() string { return x.root }

// Len returns the number of samples.
func (x *Index) Len() int { return len(x.samples) }

// Sample returns sample i.
func (x *Index) Sample(i int) Sample { return x.samples[i] }

// Samples returns a copy of all samples in index order.
func (x *Index) Samples() []Sample { return slices.Clone(x.samples) }

// Identities returns the sorted identity labels.
func (x *Index) Identities() []string { return slices.Clone(x.identities) }

// NumIdentities returns the number of distinct identities.
func (x *Index) NumIdentities() int { return len(x.identities) }

// IndicesOf returns the ordered sample indices of identity, or nil.
func (x *Index) IndicesOf(identity string) []int {
	return slices.Clone(x.byIdentity[identity])
}

// indicesOf returns the shared slice. Callers must not modify it.
func (x *Index) indicesOf(identity string) []int {
	return x.byIdentity[identity]
}

// IdentityOf returns the identity of sample i.
func (x *Index) IdentityOf(i int) string { return x.samples[i].Identity }

// Label returns the dense class id of identity, in [0, NumIdentities).
func (x *Index) Label(identity string) (int, bool) {
	l, ok := x.labels[identity]
	return l, ok
}

// LabelOf returns the dense class id of sample i.
func (x *Index) LabelOf(i int) int { return x.sampleIDs[i] }

// Group is a read-only view of one identity used by samplers.
type Group struct {
	Identity string
	Indices  []int
}

// Group returns the identity and shared index slice for label l. The slice
// must not be modified.
func (x *Index) Group(l int) Group {
	id := x.identities[l]
	return Group{Identity: id, Indices: x.indicesOf(id)}
}

// IdentityCount is the number of samples of one identity.
type IdentityCount struct {
	Identity string `json:"identity"`
	Count    int    `json:"count"`
}

// Stats summarizes the index.
type Stats struct {
	Samples    int             `json:"samples"`
	Identities int             `json:"identities"`
	Min        int             `json:"min_per_identity"`
	Max        int             `json:"max_per_identity"`
	Counts     []IdentityCount `json:"counts"`
	// Singletons lists identities with a single sample; their triplets use a
	// degenerate positive.
	Singletons []string `json:"singletons,omitempty"`
}

// Stats returns per-identity counts.
func (x *Index) Stats() Stats {
	s := Stats{
		Samples:    len(x.samples),
		Identities: len(x.identities),
		Counts:     make([]IdentityCount, 0, len(x.identities)),
	}
	for i, id := range x.identities {
		n := len(x.byIdentity[id])
		s.Counts = append(s.Counts, IdentityCount{Identity: id, Count: n})
		if i == 0 || n < s.Min {
			s.Min = n
		}
		if n > s.Max {
			s.Max = n
		}
		if n == 1 {
			s.Singletons = append(s.Singletons, id)
		}
	}
	return s
}
