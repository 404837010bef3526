package loader

import (
	"context"
	"iter"

	"github.com/hupe1980/reid/resource"
	"golang.org/x/sync/errgroup"
)

// pipeline runs build for batch numbers [0, n) on worker goroutines and
// yields the results in batch order. At most prefetch futures are queued
// ahead of the consumer; the consumer blocks on the next future without a
// timeout.
//
// Memory for batch i is reserved from rc in batch order before the batch is
// started and released once the consumer is done with it, so the batch the
// consumer waits on is never starved by a later one. A reservation larger
// than the limit is clamped to the limit.
type pipeline[B any] struct {
	n        int
	prefetch int
	rc       *resource.Controller
	cost     func(i int) int64
	build    func(ctx context.Context, i int) B
}

func (p pipeline[B]) reservation(i int) int64 {
	bytes := p.cost(i)
	if limit := p.rc.Config().MemoryLimitBytes; limit > 0 && bytes > limit {
		bytes = limit
	}
	return bytes
}

// run returns the ordered sequence. When the consumer stops early or ctx is
// canceled, in-flight results are drained and their memory released.
func (p pipeline[B]) run(ctx context.Context) iter.Seq[B] {
	return func(yield func(B) bool) {
		ctx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(ctx)
		futures := make(chan chan B, max(p.prefetch, 1))

		go func() {
			defer close(futures)
			for i := 0; i < p.n; i++ {
				bytes := p.reservation(i)
				if err := p.rc.AcquireMemory(gctx, bytes); err != nil {
					return
				}
				f := make(chan B, 1)
				select {
				case futures <- f:
				case <-gctx.Done():
					p.rc.ReleaseMemory(bytes)
					return
				}
				g.Go(func() error {
					f <- p.build(gctx, i)
					return nil
				})
			}
		}()

		next := 0
		defer func() {
			cancel()
			for f := range futures {
				<-f
				p.rc.ReleaseMemory(p.reservation(next))
				next++
			}
			_ = g.Wait()
		}()

		for f := range futures {
			b := <-f
			ok := yield(b)
			p.rc.ReleaseMemory(p.reservation(next))
			next++
			if !ok {
				return
			}
		}
	}
}

// plan splits order into consecutive batches of size.
func plan(order []int, size int, dropLast bool) [][]int {
	var batches [][]int
	for start := 0; start < len(order); start += size {
		end := min(start+size, len(order))
		if dropLast && end-start < size {
			break
		}
		batches = append(batches, order[start:end])
	}
	return batches
}
