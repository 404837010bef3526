package reid

import (
	"github.com/hupe1980/reid/blobstore"
	"github.com/hupe1980/reid/internal/fs"
	"github.com/hupe1980/reid/tracking"
	"github.com/hupe1980/reid/train"
	"github.com/prometheus/client_golang/prometheus"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	sinks            []tracking.Sink
	store            blobstore.BlobStore
	stop             train.StopPredicate
	fs               fs.FileSystem
	registerer       prometheus.Registerer
	dynamo           tracking.DynamoClient
}

// Option configures Train, LoadModel and EmbedDir.
type Option func(*options)

// WithLogger sets the logger. Defaults to a text logger built from the
// configuration.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetricsCollector sets the operational metrics collector.
//
// If nil is passed, metrics are discarded.
func WithMetricsCollector(c MetricsCollector) Option {
	return func(o *options) {
		if c == nil {
			c = NoopMetricsCollector{}
		}
		o.metricsCollector = c
	}
}

// WithSink adds experiment-tracking sinks next to the ones named in the
// configuration. Train closes them when it returns.
func WithSink(sinks ...tracking.Sink) Option {
	return func(o *options) {
		o.sinks = append(o.sinks, sinks...)
	}
}

// WithBlobStore overrides the checkpoint store named by the storage URI.
func WithBlobStore(s blobstore.BlobStore) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithStopPredicate installs an early-stopping rule, for example
// train.Patience(10).
func WithStopPredicate(p train.StopPredicate) Option {
	return func(o *options) {
		o.stop = p
	}
}

// WithPrometheus registers per-run gauges with reg.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithDynamoClient sets the client used when the configuration names a
// DynamoDB tracking table. By default a client is built from the AWS
// default credential chain.
func WithDynamoClient(c tracking.DynamoClient) Option {
	return func(o *options) {
		o.dynamo = c
	}
}

func withFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

func newOptions(optFns []Option) options {
	opts := options{
		metricsCollector: NoopMetricsCollector{},
		fs:               fs.Default,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}
