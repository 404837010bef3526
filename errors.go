package reid

import (
	"errors"
	"fmt"

	"github.com/hupe1980/reid/blobstore"
	"github.com/hupe1980/reid/config"
	"github.com/hupe1980/reid/dataset"
	"github.com/hupe1980/reid/loader"
	"github.com/hupe1980/reid/model"
	"github.com/hupe1980/reid/sampler"
	"github.com/hupe1980/reid/train"
)

var (
	// ErrDatasetEmpty is returned when a dataset root holds no samples.
	ErrDatasetEmpty = dataset.ErrDatasetEmpty

	// ErrMissingIdentityDirectory is returned when a dataset root is absent or
	// has no identity subdirectories.
	ErrMissingIdentityDirectory = dataset.ErrMissingIdentityDirectory

	// ErrInsufficientIdentities is returned before training when fewer than
	// two identities exist.
	ErrInsufficientIdentities = sampler.ErrInsufficientIdentities

	// ErrNumericInstability aborts training when the model produces a
	// non-finite embedding for finite input.
	ErrNumericInstability = model.ErrNumericInstability

	// ErrInvalidConfiguration is returned for out-of-range hyperparameters.
	ErrInvalidConfiguration = config.ErrInvalidConfiguration

	// ErrTooManySkippedBatches is returned when an epoch skips more batches
	// than allowed.
	ErrTooManySkippedBatches = train.ErrTooManySkippedBatches

	// ErrNotFound is returned when a model checkpoint does not exist.
	ErrNotFound = errors.New("not found")
)

type (
	// MissingIdentityDirectoryError carries the dataset root.
	MissingIdentityDirectoryError = dataset.MissingIdentityDirectoryError
	// ConfigError names the offending configuration field.
	ConfigError = config.ConfigError
	// DimensionMismatchError reports an input of the wrong width.
	DimensionMismatchError = model.DimensionMismatchError
	// BatchError reports a batch that was skipped.
	BatchError = loader.BatchError
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Missing checkpoints surface as ErrNotFound whatever the store.
	if errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
