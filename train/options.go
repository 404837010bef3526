package train

import (
	"context"
	"log/slog"

	"github.com/hupe1980/reid/checkpoint"
	"github.com/hupe1980/reid/internal/fs"
	"github.com/hupe1980/reid/loader"
	"github.com/hupe1980/reid/metric"
	"github.com/hupe1980/reid/model"
	"github.com/hupe1980/reid/resource"
	"github.com/hupe1980/reid/tracking"
)

// Checkpointer persists model snapshots. *checkpoint.Store implements it.
type Checkpointer interface {
	Save(ctx context.Context, name string, c *checkpoint.Checkpoint) error
}

// StopPredicate is consulted after every epoch with the history so far.
// Returning true ends the run early.
type StopPredicate func(history []EpochResult) bool

// Patience stops once the best validation score is n epochs old.
func Patience(n int) StopPredicate {
	return func(history []EpochResult) bool {
		best := -1
		for i, e := range history {
			if e.Improved {
				best = i
			}
		}
		return best >= 0 && len(history)-1-best >= n
	}
}

type options struct {
	checkpointer Checkpointer
	sink         tracking.Sink
	metrics      metric.Collector
	logger       *slog.Logger
	stop         StopPredicate
	decoder      loader.Decoder
	controller   *resource.Controller
	fs           fs.FileSystem
	net          *model.Net
}

// Option configures a Trainer.
type Option func(*options)

// WithCheckpointer sets where improving models are persisted. Without one,
// nothing is persisted.
func WithCheckpointer(c Checkpointer) Option {
	return func(o *options) { o.checkpointer = c }
}

// WithSink sets the experiment-tracking sink.
func WithSink(s tracking.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithMetrics sets the operational metrics collector.
func WithMetrics(m metric.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStopPredicate installs an early-stopping rule.
func WithStopPredicate(p StopPredicate) Option {
	return func(o *options) { o.stop = p }
}

// WithDecoder replaces the image decoder built from the configuration.
func WithDecoder(d loader.Decoder) Option {
	return func(o *options) { o.decoder = d }
}

// WithController replaces the resource controller built from the
// configuration.
func WithController(rc *resource.Controller) Option {
	return func(o *options) { o.controller = rc }
}

// WithFileSystem sets the filesystem samples are read from.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) { o.fs = fsys }
}

// WithNet starts from an existing model instead of a freshly initialized
// one. Its architecture must accept the decoder's input width.
func WithNet(net *model.Net) Option {
	return func(o *options) { o.net = net }
}
