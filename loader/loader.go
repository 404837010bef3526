// Package loader assembles training and validation batches on a bounded pool
// of workers.
//
// Batches are built concurrently but delivered in batch order through a
// bounded queue of futures. Every batch draws its random choices from a
// source derived from (seed, epoch, batch), so the sequence of batches is
// reproducible regardless of worker scheduling.
//
//	for batch, err := range tl.Epoch(ctx, epoch) {
//	    var be *loader.BatchError
//	    if errors.As(err, &be) {
//	        skipped++
//	        continue
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    // use batch.Anchor, batch.Positive, batch.Negative
//	}
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/reid/dataset"
	"github.com/hupe1980/reid/internal/fs"
	"github.com/hupe1980/reid/resource"
)

// Decoder converts an encoded sample into a fixed-width input vector.
// *dataset.ImageDecoder implements it.
type Decoder interface {
	Decode(r io.Reader) ([]float64, error)
	InputDim() int
}

// BatchError reports a batch that could not be assembled. The batch is
// skipped; training continues.
type BatchError struct {
	Epoch  int
	Batch  int
	Sample int // -1 if no single sample is at fault
	Path   string
	Err    error
}

func (e *BatchError) Error() string {
	if e.Sample < 0 {
		return fmt.Sprintf("batch %d (epoch %d): %v", e.Batch, e.Epoch, e.Err)
	}
	return fmt.Sprintf("batch %d (epoch %d): sample %d (%s): %v", e.Batch, e.Epoch, e.Sample, e.Path, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// ErrWidthMismatch is returned when a decoded sample has the wrong length.
var ErrWidthMismatch = errors.New("decoded sample width mismatch")

type options struct {
	batchSize  int
	prefetch   int
	seed       uint64
	shuffle    bool
	dropLast   bool
	controller *resource.Controller
	fs         fs.FileSystem
	logger     *slog.Logger
}

// Option configures a loader.
type Option func(*options)

// WithBatchSize sets the number of samples per batch. Default 32.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithPrefetch sets the capacity of the batch queue. Default 2.
func WithPrefetch(n int) Option {
	return func(o *options) { o.prefetch = n }
}

// WithSeed sets the seed for shuffling and per-batch sampling.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = seed }
}

// WithShuffle enables per-epoch shuffling of anchors.
func WithShuffle(shuffle bool) Option {
	return func(o *options) { o.shuffle = shuffle }
}

// WithDropLast drops a trailing partial batch.
func WithDropLast(drop bool) Option {
	return func(o *options) { o.dropLast = drop }
}

// WithController bounds workers, prefetched memory and read throughput.
func WithController(rc *resource.Controller) Option {
	return func(o *options) { o.controller = rc }
}

// WithFileSystem sets the filesystem samples are read from.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys == nil {
			fsys = fs.Default
		}
		o.fs = fsys
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(optFns []Option) options {
	opts := options{
		batchSize: 32,
		prefetch:  2,
		seed:      1,
		fs:        fs.Default,
		logger:    slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.batchSize <= 0 {
		opts.batchSize = 1
	}
	if opts.controller == nil {
		opts.controller = resource.NewController(resource.Config{})
	}
	return opts
}

// Stats counts loader outcomes.
type Stats struct {
	Batches       int64
	FailedBatches int64
	// FailedSamples is the number of distinct samples that failed to load.
	FailedSamples uint64
}

// base holds what triplet and sample loaders share.
type base struct {
	idx  *dataset.Index
	dec  Decoder
	opts options

	batches       atomic.Int64
	failedBatches atomic.Int64

	mu     sync.Mutex
	failed *roaring.Bitmap
}

func newBase(idx *dataset.Index, dec Decoder, opts options) *base {
	return &base{idx: idx, dec: dec, opts: opts, failed: roaring.New()}
}

// load reads and decodes sample i.
func (b *base) load(ctx context.Context, i int) ([]float64, error) {
	path := b.idx.Sample(i).Path
	f, err := b.opts.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(resource.NewRateLimitedReader(ctx, f, b.opts.controller))
	if err != nil {
		return nil, err
	}

	x, err := b.dec.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(x) != b.dec.InputDim() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWidthMismatch, len(x), b.dec.InputDim())
	}
	return x, nil
}

func (b *base) markFailed(i int) {
	b.mu.Lock()
	b.failed.Add(uint32(i))
	b.mu.Unlock()
}

// FailedSamples returns a copy of the set of sample indices that failed to
// load.
func (b *base) FailedSamples() *roaring.Bitmap {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failed.Clone()
}

// Stats returns a snapshot of loader counters.
func (b *base) Stats() Stats {
	b.mu.Lock()
	failed := b.failed.GetCardinality()
	b.mu.Unlock()
	return Stats{
		Batches:       b.batches.Load(),
		FailedBatches: b.failedBatches.Load(),
		FailedSamples: failed,
	}
}

// BatchSize returns the configured batch size.
func (b *base) BatchSize() int { return b.opts.batchSize }

// acquireWorker and the matching release bound concurrent batch assembly.
func (b *base) acquireWorker(ctx context.Context) error {
	return b.opts.controller.AcquireWorker(ctx)
}

func (b *base) releaseWorker() {
	b.opts.controller.ReleaseWorker()
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
