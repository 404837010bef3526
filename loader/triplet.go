package loader

import (
	"context"
	"iter"
	"math/rand/v2"

	"github.com/hupe1980/reid/dataset"
	"github.com/hupe1980/reid/sampler"
	"gonum.org/v1/gonum/mat"
)

// TripletBatch is one training mini-batch. Row i of Anchor, Positive and
// Negative holds the decoded samples of Triplets[i].
type TripletBatch struct {
	Epoch    int
	Index    int
	Triplets []sampler.Triplet
	Anchor   *mat.Dense
	Positive *mat.Dense
	Negative *mat.Dense
	// Labels are the dense class ids of the anchors.
	Labels []int
	// Degenerate counts triplets whose positive is the anchor.
	Degenerate int

	err error
}

// Len returns the number of triplets.
func (b *TripletBatch) Len() int { return len(b.Triplets) }

// TripletLoader feeds triplet batches for training.
type TripletLoader struct {
	*base
	sampler *sampler.Sampler
}

// NewTriplet creates a TripletLoader over the sampler's index.
func NewTriplet(s *sampler.Sampler, dec Decoder, optFns ...Option) *TripletLoader {
	opts := newOptions(optFns)
	return &TripletLoader{
		base:    newBase(s.Index(), dec, opts),
		sampler: s,
	}
}

// NumBatches returns the number of batches per epoch.
func (l *TripletLoader) NumBatches() int {
	return len(plan(make([]int, l.idx.Len()), l.opts.batchSize, l.opts.dropLast))
}

// order returns the anchor order for epoch.
func (l *TripletLoader) order(epoch int) []int {
	order := make([]int, l.idx.Len())
	for i := range order {
		order[i] = i
	}
	if l.opts.shuffle {
		rng := rand.New(rand.NewPCG(l.opts.seed, uint64(epoch)))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

// Epoch yields the batches of one epoch in order. A batch that cannot be
// assembled is reported as a *BatchError and the iteration continues. A
// canceled context is reported once and ends the iteration.
func (l *TripletLoader) Epoch(ctx context.Context, epoch int) iter.Seq2[*TripletBatch, error] {
	return func(yield func(*TripletBatch, error) bool) {
		batches := plan(l.order(epoch), l.opts.batchSize, l.opts.dropLast)
		d := l.dec.InputDim()
		p := pipeline[*TripletBatch]{
			n:        len(batches),
			prefetch: l.opts.prefetch,
			rc:       l.opts.controller,
			cost:     func(i int) int64 { return int64(3 * len(batches[i]) * d * 8) },
			build: func(ctx context.Context, i int) *TripletBatch {
				return l.build(ctx, epoch, i, batches[i])
			},
		}

		for b := range p.run(ctx) {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if b.err != nil {
				l.failedBatches.Add(1)
				if !yield(nil, b.err) {
					return
				}
				continue
			}

			l.batches.Add(1)
			if !yield(b, nil) {
				return
			}
		}

		if err := ctx.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func (l *TripletLoader) build(ctx context.Context, epoch, num int, anchors []int) *TripletBatch {
	b := &TripletBatch{Epoch: epoch, Index: num}
	fail := func(sample int, err error) *TripletBatch {
		be := &BatchError{Epoch: epoch, Batch: num, Sample: sample, Err: err}
		if sample >= 0 {
			be.Path = l.idx.Sample(sample).Path
			if !isContextErr(err) {
				l.markFailed(sample)
			}
		}
		if isContextErr(err) {
			b.err = err
		} else {
			b.err = be
		}
		return b
	}

	if err := l.acquireWorker(ctx); err != nil {
		return fail(-1, err)
	}
	defer l.releaseWorker()

	src := sampler.BatchSource(l.opts.seed, epoch, num)
	n, d := len(anchors), l.dec.InputDim()
	b.Triplets = make([]sampler.Triplet, n)
	b.Labels = make([]int, n)
	b.Anchor = mat.NewDense(n, d, nil)
	b.Positive = mat.NewDense(n, d, nil)
	b.Negative = mat.NewDense(n, d, nil)

	for r, anchor := range anchors {
		if err := ctx.Err(); err != nil {
			return fail(-1, err)
		}

		tr, err := l.sampler.SampleFrom(src, anchor)
		if err != nil {
			return fail(-1, err)
		}
		b.Triplets[r] = tr
		b.Labels[r] = l.idx.LabelOf(anchor)
		if tr.Degenerate() {
			b.Degenerate++
		}

		for _, slot := range []struct {
			sample int
			dst    *mat.Dense
		}{{tr.Anchor, b.Anchor}, {tr.Positive, b.Positive}, {tr.Negative, b.Negative}} {
			x, err := l.load(ctx, slot.sample)
			if err != nil {
				return fail(slot.sample, err)
			}
			copy(slot.dst.RawRowView(r), x)
		}
	}

	return b
}

// Index returns the dataset index.
func (l *TripletLoader) Index() *dataset.Index { return l.idx }
