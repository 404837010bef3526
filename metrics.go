package reid

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/hupe1980/reid/metric"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems;
// metric.PrometheusCollector is a ready-made Prometheus implementation.
type MetricsCollector = metric.Collector

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector = metric.NoopCollector

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	BatchCount        atomic.Int64
	BatchErrors       atomic.Int64
	BatchSamples      atomic.Int64
	BatchTotalNanos   atomic.Int64
	EpochCount        atomic.Int64
	EpochTotalNanos   atomic.Int64
	CheckpointCount   atomic.Int64
	CheckpointErrors  atomic.Int64
	lastTrainLossBits atomic.Uint64
	lastValBits       atomic.Uint64
}

var _ MetricsCollector = (*BasicMetricsCollector)(nil)

// RecordBatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatch(size int, _ float64, duration time.Duration, err error) {
	b.BatchCount.Add(1)
	if err != nil {
		b.BatchErrors.Add(1)
		return
	}
	b.BatchSamples.Add(int64(size))
	b.BatchTotalNanos.Add(duration.Nanoseconds())
}

// RecordEpoch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEpoch(_ int, trainLoss, valDistance, _ float64, duration time.Duration) {
	b.EpochCount.Add(1)
	b.EpochTotalNanos.Add(duration.Nanoseconds())
	b.lastTrainLossBits.Store(math.Float64bits(trainLoss))
	b.lastValBits.Store(math.Float64bits(valDistance))
}

// RecordCheckpoint implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCheckpoint(_ time.Duration, err error) {
	b.CheckpointCount.Add(1)
	if err != nil {
		b.CheckpointErrors.Add(1)
	}
}

// LastTrainLoss returns the training loss of the most recent epoch.
func (b *BasicMetricsCollector) LastTrainLoss() float64 {
	return math.Float64frombits(b.lastTrainLossBits.Load())
}

// LastValDistance returns the validation distance of the most recent epoch.
func (b *BasicMetricsCollector) LastValDistance() float64 {
	return math.Float64frombits(b.lastValBits.Load())
}
