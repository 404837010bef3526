package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports training measurements as Prometheus metrics.
type PrometheusCollector struct {
	batches           *prometheus.CounterVec
	batchLatency      prometheus.Histogram
	batchLoss         prometheus.Gauge
	epoch             prometheus.Gauge
	trainLoss         prometheus.Gauge
	valDistance       prometheus.Gauge
	learningRate      prometheus.Gauge
	epochDuration     prometheus.Histogram
	checkpoints       *prometheus.CounterVec
	checkpointLatency prometheus.Histogram
}

// NewPrometheusCollector creates the metrics and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(namespace string, reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "reid"
	}

	c := &PrometheusCollector{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "train_batches_total",
			Help:      "Training batches by outcome.",
		}, []string{"status"}),
		batchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "train_batch_duration_seconds",
			Help:      "Wall time of one optimizer step including forward and backward passes.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		batchLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "train_batch_loss",
			Help:      "Loss of the most recent training batch.",
		}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch",
			Help:      "Most recently completed epoch.",
		}),
		trainLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "train_loss",
			Help:      "Mean training loss of the last epoch.",
		}),
		valDistance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "val_distance",
			Help:      "Mean pairwise validation embedding distance of the last epoch.",
		}),
		learningRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "learning_rate",
			Help:      "Learning rate after the last scheduler step.",
		}),
		epochDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "epoch_duration_seconds",
			Help:      "Wall time of one training and validation epoch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Checkpoint write attempts by outcome.",
		}, []string{"status"}),
		checkpointLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_duration_seconds",
			Help:      "Wall time of a checkpoint write.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.batches,
		c.batchLatency,
		c.batchLoss,
		c.epoch,
		c.trainLoss,
		c.valDistance,
		c.learningRate,
		c.epochDuration,
		c.checkpoints,
		c.checkpointLatency,
	)
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordBatch implements Collector.
func (c *PrometheusCollector) RecordBatch(_ int, loss float64, duration time.Duration, err error) {
	c.batches.WithLabelValues(status(err)).Inc()
	if err != nil {
		return
	}
	c.batchLatency.Observe(duration.Seconds())
	c.batchLoss.Set(loss)
}

// RecordEpoch implements Collector.
func (c *PrometheusCollector) RecordEpoch(epoch int, trainLoss, valDistance, learningRate float64, duration time.Duration) {
	c.epoch.Set(float64(epoch))
	c.trainLoss.Set(trainLoss)
	c.valDistance.Set(valDistance)
	c.learningRate.Set(learningRate)
	c.epochDuration.Observe(duration.Seconds())
}

// RecordCheckpoint implements Collector.
func (c *PrometheusCollector) RecordCheckpoint(duration time.Duration, err error) {
	c.checkpoints.WithLabelValues(status(err)).Inc()
	c.checkpointLatency.Observe(duration.Seconds())
}
