// Package sampler draws anchor/positive/negative triplets from a sample index.
package sampler

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/reid/dataset"
)

var (
	// ErrInsufficientIdentities is returned when fewer than two identities
	// exist, so no valid negative can be drawn.
	ErrInsufficientIdentities = errors.New("insufficient identities: need at least 2 for a negative")

	// ErrAnchorOutOfRange is returned for an anchor outside [0, Len).
	ErrAnchorOutOfRange = errors.New("anchor index out of range")
)

// Source is the random source consumed by the sampler.
// *rand.Rand satisfies it.
type Source interface {
	// IntN returns a uniform value in [0, n). n > 0.
	IntN(n int) int
}

// Triplet holds sample indices into the index.
type Triplet struct {
	Anchor   int `json:"anchor"`
	Positive int `json:"positive"`
	Negative int `json:"negative"`
}

// Degenerate reports whether the positive is the anchor itself.
func (t Triplet) Degenerate() bool { return t.Anchor == t.Positive }

type options struct {
	src    Source
	logger *slog.Logger
}

// Option configures a Sampler.
type Option func(*options)

// WithSource sets the default random source. It must be safe for concurrent
// use if Sample is called from several goroutines.
func WithSource(src Source) Option {
	return func(o *options) {
		o.src = src
	}
}

// WithLogger sets the logger used for degenerate-positive warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Sampler implements the triplet selection policy over a read-only index.
type Sampler struct {
	idx    *dataset.Index
	src    Source
	logger *slog.Logger

	degenerate atomic.Int64
	warned     sync.Map // identity -> struct{}
}

// New creates a Sampler. The default source is a locked PCG seeded with 1.
func New(idx *dataset.Index, optFns ...Option) *Sampler {
	opts := options{
		logger: slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.src == nil {
		opts.src = NewLockedSource(1)
	}

	return &Sampler{
		idx:    idx,
		src:    opts.src,
		logger: opts.logger,
	}
}

// Index returns the underlying index.
func (s *Sampler) Index() *dataset.Index { return s.idx }

// Sample draws a triplet for anchor using the default source.
func (s *Sampler) Sample(anchor int) (Triplet, error) {
	return s.SampleFrom(s.src, anchor)
}

// SampleFrom draws a triplet for anchor using src:
//
//  1. the anchor identity is looked up;
//  2. the positive is uniform over the identity's other samples, or the
//     anchor itself when it is the only sample (degenerate);
//  3. the negative identity is uniform over all other identities;
//  4. the negative is uniform within that identity.
func (s *Sampler) SampleFrom(src Source, anchor int) (Triplet, error) {
	if anchor < 0 || anchor >= s.idx.Len() {
		return Triplet{}, fmt.Errorf("%w: %d not in [0,%d)", ErrAnchorOutOfRange, anchor, s.idx.Len())
	}
	numIDs := s.idx.NumIdentities()
	if numIDs < 2 {
		return Triplet{}, fmt.Errorf("%w: dataset has %d", ErrInsufficientIdentities, numIDs)
	}

	label := s.idx.LabelOf(anchor)
	group := s.idx.Group(label)

	t := Triplet{Anchor: anchor}
	if len(group.Indices) < 2 {
		t.Positive = anchor
		s.recordDegenerate(group.Identity, anchor)
	} else {
		// Draw from the identity minus the anchor without allocating.
		k := src.IntN(len(group.Indices) - 1)
		if group.Indices[k] == anchor {
			k = len(group.Indices) - 1
		}
		t.Positive = group.Indices[k]
	}

	neg := src.IntN(numIDs - 1)
	if neg >= label {
		neg++
	}
	negGroup := s.idx.Group(neg)
	t.Negative = negGroup.Indices[src.IntN(len(negGroup.Indices))]

	return t, nil
}

func (s *Sampler) recordDegenerate(identity string, anchor int) {
	s.degenerate.Add(1)
	// Warn once per identity; the counter tracks every occurrence.
	if _, loaded := s.warned.LoadOrStore(identity, struct{}{}); !loaded {
		s.logger.Warn("degenerate positive: identity has a single sample",
			"identity", identity,
			"anchor", anchor,
		)
	}
}

// Degenerate returns the number of triplets drawn with positive == anchor.
func (s *Sampler) Degenerate() int64 {
	return s.degenerate.Load()
}

// LockedSource is a goroutine-safe seeded source.
type LockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedSource returns a LockedSource seeded with seed.
func NewLockedSource(seed uint64) *LockedSource {
	return &LockedSource{r: rand.New(rand.NewPCG(seed, seed^0xda942042e4dd58b5))}
}

// IntN implements Source.
func (l *LockedSource) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// BatchSource derives an independent source for one batch so sampling is
// reproducible regardless of which worker assembles the batch.
func BatchSource(seed uint64, epoch, batch int) *rand.Rand {
	return rand.New(rand.NewPCG(seed^uint64(epoch)*0x9e3779b97f4a7c15, uint64(batch)+1))
}
