// Package metric records training telemetry.
//
// [Collector] is the hook the trainer calls after each batch, epoch and
// checkpoint write. [PrometheusCollector] exports the measurements through
// github.com/prometheus/client_golang.
package metric

import "time"

// Collector receives operational measurements from a training run.
// Implementations must be safe for concurrent use.
type Collector interface {
	// RecordBatch is called after each training batch. err is non-nil for a
	// skipped batch, in which case loss is meaningless.
	RecordBatch(size int, loss float64, duration time.Duration, err error)

	// RecordEpoch is called once per completed epoch.
	RecordEpoch(epoch int, trainLoss, valDistance, learningRate float64, duration time.Duration)

	// RecordCheckpoint is called after each checkpoint write attempt.
	RecordCheckpoint(duration time.Duration, err error)
}

// NoopCollector discards all measurements.
type NoopCollector struct{}

func (NoopCollector) RecordBatch(int, float64, time.Duration, error)            {}
func (NoopCollector) RecordEpoch(int, float64, float64, float64, time.Duration) {}
func (NoopCollector) RecordCheckpoint(time.Duration, error)                     {}
