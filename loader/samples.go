package loader

import (
	"context"
	"errors"
	"iter"

	"github.com/hupe1980/reid/dataset"
	"gonum.org/v1/gonum/mat"
)

// ErrEmptyBatch is returned when no sample of a batch could be loaded.
var ErrEmptyBatch = errors.New("no sample in batch could be loaded")

// SampleBatch is one validation batch. Row i of X is sample Indices[i].
// Samples that failed to load are left out.
type SampleBatch struct {
	Index   int
	Indices []int
	X       *mat.Dense
	Labels  []int
	// Failed lists the samples of this batch that could not be loaded.
	Failed []int

	err error
}

// SampleLoader yields every sample once, in index order, for validation.
type SampleLoader struct {
	*base
}

// NewSamples creates a SampleLoader. Shuffling is never applied.
func NewSamples(idx *dataset.Index, dec Decoder, optFns ...Option) *SampleLoader {
	opts := newOptions(optFns)
	opts.shuffle = false
	opts.dropLast = false
	return &SampleLoader{base: newBase(idx, dec, opts)}
}

// Index returns the dataset index.
func (l *SampleLoader) Index() *dataset.Index { return l.idx }

// All yields the validation batches in order.
func (l *SampleLoader) All(ctx context.Context) iter.Seq2[*SampleBatch, error] {
	return func(yield func(*SampleBatch, error) bool) {
		order := make([]int, l.idx.Len())
		for i := range order {
			order[i] = i
		}
		batches := plan(order, l.opts.batchSize, false)
		d := l.dec.InputDim()
		p := pipeline[*SampleBatch]{
			n:        len(batches),
			prefetch: l.opts.prefetch,
			rc:       l.opts.controller,
			cost:     func(i int) int64 { return int64(len(batches[i]) * d * 8) },
			build: func(ctx context.Context, i int) *SampleBatch {
				return l.build(ctx, i, batches[i])
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

func (l *SampleLoader) build(ctx context.Context, num int, indices []int) *SampleBatch {
	b := &SampleBatch{Index: num}
	if err := l.acquireWorker(ctx); err != nil {
		b.err = err
		return b
	}
	defer l.releaseWorker()

	d := l.dec.InputDim()
	rows := make([][]float64, 0, len(indices))
	for _, i := range indices {
		if err := ctx.Err(); err != nil {
			b.err = err
			return b
		}
		x, err := l.load(ctx, i)
		if err != nil {
			if isContextErr(err) {
				b.err = err
				return b
			}
			l.markFailed(i)
			b.Failed = append(b.Failed, i)
			l.opts.logger.Warn("skipping unreadable sample",
				"sample", i,
				"path", l.idx.Sample(i).Path,
				"error", err,
			)
			continue
		}
		rows = append(rows, x)
		b.Indices = append(b.Indices, i)
		b.Labels = append(b.Labels, l.idx.LabelOf(i))
	}

	if len(rows) == 0 {
		b.err = &BatchError{Batch: num, Sample: -1, Err: ErrEmptyBatch}
		return b
	}

	b.X = mat.NewDense(len(rows), d, nil)
	for r, x := range rows {
		copy(b.X.RawRowView(r), x)
	}
	return b
}
