// Package detection defines the interface to the animal-detection trainer.
//
// Detection training runs outside this module. A [Trainer] takes a dataset
// descriptor and hyperparameters and returns accuracy metrics and the path
// of the trained model artifact.
package detection

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoResult is returned when the external trainer exits cleanly without
// reporting a result.
var ErrNoResult = errors.New("detection trainer reported no result")

// Dataset describes the detection dataset.
type Dataset struct {
	// Descriptor is the path of the dataset description file (class names,
	// image and label directories) understood by the trainer.
	Descriptor string
}

// Params are the detection hyperparameters.
type Params struct {
	Model     string
	Epochs    int
	BatchSize int
	ImageSize int
	Workers   int
	Patience  int
	Device    string
	OutputDir string
}

// DefaultParams mirrors the usual detection setup.
func DefaultParams() Params {
	return Params{
		Model:     "yolov8x.pt",
		Epochs:    100,
		BatchSize: 16,
		ImageSize: 640,
		Workers:   8,
		Patience:  50,
		Device:    "cpu",
		OutputDir: "runs",
	}
}

// Metrics are the validation accuracy figures of a detection model.
type Metrics struct {
	MAP50     float64 `json:"map50"`
	MAP50_95  float64 `json:"map50_95"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

// Result is the outcome of one detection training run.
type Result struct {
	Metrics  Metrics `json:"metrics"`
	Artifact string  `json:"artifact"`
}

// Trainer trains a detection model.
type Trainer interface {
	Train(ctx context.Context, ds Dataset, p Params) (*Result, error)
}

// CommandError reports a failed trainer process.
type CommandError struct {
	Name   string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("detection trainer `%s %s`: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += "\nstderr:\n" + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }
