package metric

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector("test", reg)

	var _ Collector = c

	c.RecordBatch(32, 0.4, 10*time.Millisecond, nil)
	c.RecordBatch(32, 0, 0, errors.New("decode"))
	c.RecordBatch(32, 0.2, 12*time.Millisecond, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.batches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batches.WithLabelValues("error")))
	assert.Equal(t, 0.2, testutil.ToFloat64(c.batchLoss))

	c.RecordEpoch(3, 0.25, 1.1, 5e-5, time.Minute)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.epoch))
	assert.Equal(t, 1.1, testutil.ToFloat64(c.valDistance))
	assert.Equal(t, 5e-5, testutil.ToFloat64(c.learningRate))

	c.RecordCheckpoint(time.Second, nil)
	c.RecordCheckpoint(time.Second, errors.New("disk full"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.checkpoints.WithLabelValues("error")))

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestNoopCollector(t *testing.T) {
	var c Collector = NoopCollector{}
	c.RecordBatch(1, 1, time.Second, nil)
	c.RecordEpoch(0, 1, 1, 1, time.Second)
	c.RecordCheckpoint(time.Second, nil)
}
