// Package tracking records experiment parameters, per-epoch results and
// run artifacts such as the final model.
//
// The trainer emits to a [Sink] and never fails because of it: emission
// errors are logged and training continues. Several sinks can be combined
// with [Multi].
package tracking

import (
	"context"
	"errors"
	"time"
)

// Params are the hyperparameters of a run, logged once at start.
type Params map[string]any

// Epoch is the per-epoch record.
type Epoch struct {
	Run          string    `json:"run" msgpack:"run"`
	Epoch        int       `json:"epoch" msgpack:"epoch"`
	TrainLoss    float64   `json:"train_loss" msgpack:"train_loss"`
	ValDistance  float64   `json:"val_distance" msgpack:"val_distance"`
	LearningRate float64   `json:"learning_rate" msgpack:"learning_rate"`
	Time         time.Time `json:"time" msgpack:"time"`

	// Diagnostics. They never influence checkpoint selection.
	IntraDistance  float64 `json:"intra_distance,omitempty" msgpack:"intra_distance,omitempty"`
	InterDistance  float64 `json:"inter_distance,omitempty" msgpack:"inter_distance,omitempty"`
	SkippedBatches int64   `json:"skipped_batches" msgpack:"skipped_batches"`
	Degenerate     int64   `json:"degenerate_positives" msgpack:"degenerate_positives"`
	Checkpointed   bool    `json:"checkpointed" msgpack:"checkpointed"`
}

// Sink receives experiment records.
type Sink interface {
	LogParams(ctx context.Context, run string, p Params) error
	LogEpoch(ctx context.Context, e Epoch) error
	// LogArtifact attaches an opaque blob, such as an encoded model, to run.
	LogArtifact(ctx context.Context, run, name string, data []byte) error
	Close() error
}

// Discard is a Sink that drops every record.
var Discard Sink = discard{}

type discard struct{}

func (discard) LogParams(context.Context, string, Params) error { return nil }
func (discard) LogEpoch(context.Context, Epoch) error           { return nil }
func (discard) Close() error                                    { return nil }

func (discard) LogArtifact(context.Context, string, string, []byte) error { return nil }

// multi fans out to several sinks.
type multi []Sink

// Multi returns a Sink that forwards every record to all sinks. Every sink
// receives every record even if an earlier one fails; the errors are joined.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if inner, ok := s.(multi); ok {
			m = append(m, inner...)
			continue
		}
		m = append(m, s)
	}
	if len(m) == 0 {
		return Discard
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

func (m multi) LogParams(ctx context.Context, run string, p Params) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.LogParams(ctx, run, p))
	}
	return errors.Join(errs...)
}

func (m multi) LogEpoch(ctx context.Context, e Epoch) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.LogEpoch(ctx, e))
	}
	return errors.Join(errs...)
}

func (m multi) LogArtifact(ctx context.Context, run, name string, data []byte) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.LogArtifact(ctx, run, name, data))
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
