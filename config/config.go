// Package config holds the immutable run configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables with the REID_ prefix (for example
// REID_TRAIN_EPOCHS=50). A .env file in the working directory is read into
// the environment first; variables that are already set win.
package config

import (
	"errors"
	"fmt"

	"github.com/hupe1980/reid/checkpoint"
	"github.com/hupe1980/reid/codec"
	"github.com/hupe1980/reid/model"
	"github.com/hupe1980/reid/optim"
	"github.com/hupe1980/reid/resource"
)

// ErrInvalidConfiguration is returned when a hyperparameter is out of range.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ConfigError names the offending field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrInvalidConfiguration, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfiguration }

// Config is the full run configuration.
type Config struct {
	Dataset    Dataset    `yaml:"dataset" envconfig:"DATASET"`
	Model      Model      `yaml:"model" envconfig:"MODEL"`
	Train      Train      `yaml:"train" envconfig:"TRAIN"`
	Loader     Loader     `yaml:"loader" envconfig:"LOADER"`
	Checkpoint Checkpoint `yaml:"checkpoint" envconfig:"CHECKPOINT"`
	Storage    Storage    `yaml:"storage" envconfig:"STORAGE"`
	Tracking   Tracking   `yaml:"tracking" envconfig:"TRACKING"`
	Log        Log        `yaml:"log" envconfig:"LOG"`
}

// Dataset locates the training and validation splits.
type Dataset struct {
	TrainDir  string `yaml:"train_dir" envconfig:"TRAIN_DIR"`
	ValDir    string `yaml:"val_dir" envconfig:"VAL_DIR"`
	ImageSize int    `yaml:"image_size" envconfig:"IMAGE_SIZE"`
}

// Model describes the embedding network.
type Model struct {
	// Backbone is "pooled" or "dense".
	Backbone       string  `yaml:"backbone" envconfig:"BACKBONE"`
	Grid           int     `yaml:"grid" envconfig:"GRID"`
	BackboneLayers []int   `yaml:"backbone_layers,omitempty" envconfig:"BACKBONE_LAYERS"`
	FreezeBackbone bool    `yaml:"freeze_backbone" envconfig:"FREEZE_BACKBONE"`
	HiddenDim      int     `yaml:"hidden_dim" envconfig:"HIDDEN_DIM"`
	EmbeddingDim   int     `yaml:"embedding_dim" envconfig:"EMBEDDING_DIM"`
	Dropout        float64 `yaml:"dropout" envconfig:"DROPOUT"`
	Classifier     bool    `yaml:"classifier" envconfig:"CLASSIFIER"`
}

// Train holds the optimization hyperparameters.
type Train struct {
	Epochs       int     `yaml:"epochs" envconfig:"EPOCHS"`
	BatchSize    int     `yaml:"batch_size" envconfig:"BATCH_SIZE"`
	LearningRate float64 `yaml:"learning_rate" envconfig:"LEARNING_RATE"`
	WeightDecay  float64 `yaml:"weight_decay" envconfig:"WEIGHT_DECAY"`
	Margin       float64 `yaml:"margin" envconfig:"MARGIN"`
	Optimizer    string  `yaml:"optimizer" envconfig:"OPTIMIZER"`
	Schedule     string  `yaml:"schedule" envconfig:"SCHEDULE"`
	// ClassifierWeight scales the auxiliary cross-entropy loss. 0 disables it.
	ClassifierWeight float64 `yaml:"classifier_weight" envconfig:"CLASSIFIER_WEIGHT"`
	// MaxSkippedRatio aborts an epoch whose share of failed batches exceeds
	// it. 0 never aborts.
	MaxSkippedRatio float64 `yaml:"max_skipped_ratio" envconfig:"MAX_SKIPPED_RATIO"`
	GradClip        float64 `yaml:"grad_clip" envconfig:"GRAD_CLIP"`
	Shuffle         bool    `yaml:"shuffle" envconfig:"SHUFFLE"`
	Seed            uint64  `yaml:"seed" envconfig:"SEED"`
}

// Loader bounds the data-loading workers.
type Loader struct {
	Workers          int   `yaml:"workers" envconfig:"WORKERS"`
	Prefetch         int   `yaml:"prefetch" envconfig:"PREFETCH"`
	MemoryLimitBytes int64 `yaml:"memory_limit_bytes" envconfig:"MEMORY_LIMIT_BYTES"`
	IOBytesPerSec    int64 `yaml:"io_bytes_per_sec" envconfig:"IO_BYTES_PER_SEC"`
}

// Checkpoint controls the persisted artifacts.
type Checkpoint struct {
	// Name is the model base name. The checkpoint is <name>-best; the final
	// model is logged to tracking as <name>-final.ridc.
	Name        string `yaml:"name" envconfig:"NAME"`
	Codec       string `yaml:"codec" envconfig:"CODEC"`
	Compression string `yaml:"compression" envconfig:"COMPRESSION"`
}

// Storage selects the blob store for checkpoints by URI:
//
//	file:///var/lib/reid   local directory
//	mem://                 in-process memory
//	s3://bucket/prefix     Amazon S3 (default AWS credential chain)
//	minio://host:port/bucket/prefix
type Storage struct {
	URI       string `yaml:"uri" envconfig:"URI"`
	Region    string `yaml:"region" envconfig:"REGION"`
	AccessKey string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	// Insecure disables TLS for minio:// endpoints.
	Insecure bool `yaml:"insecure" envconfig:"INSECURE"`
}

// Tracking selects experiment sinks. Logging to the run logger is always on.
type Tracking struct {
	Run         string `yaml:"run" envconfig:"RUN"`
	JSONLPath   string `yaml:"jsonl_path" envconfig:"JSONL_PATH"`
	BadgerDir   string `yaml:"badger_dir" envconfig:"BADGER_DIR"`
	DynamoTable string `yaml:"dynamo_table" envconfig:"DYNAMO_TABLE"`
	MetricsAddr string `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
}

// Log configures the run logger.
type Log struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Dataset: Dataset{
			ImageSize: 64,
		},
		Model: Model{
			Backbone:       model.KindPooled,
			Grid:           4,
			FreezeBackbone: true,
			HiddenDim:      1024,
			EmbeddingDim:   512,
			Dropout:        0.5,
			Classifier:     true,
		},
		Train: Train{
			Epochs:       100,
			BatchSize:    32,
			LearningRate: 1e-4,
			WeightDecay:  1e-4,
			Margin:       0.3,
			Optimizer:    "adamw",
			Schedule:     "cosine",
			Shuffle:      true,
			Seed:         42,
		},
		Loader: Loader{
			Workers:  8,
			Prefetch: 2,
		},
		Checkpoint: Checkpoint{
			Name:        "reid",
			Codec:       codec.Default.Name(),
			Compression: checkpoint.CompressionZstd.String(),
		},
		Storage: Storage{
			URI: "file://checkpoints",
		},
		Tracking: Tracking{
			Run: "reid",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks every field once. The first violation is returned as a
// *ConfigError.
func (c Config) Validate() error {
	invalid := func(field, reason string) error {
		return &ConfigError{Field: field, Reason: reason}
	}

	switch {
	case c.Dataset.ImageSize <= 0:
		return invalid("dataset.image_size", "must be positive")
	case c.Model.HiddenDim <= 0:
		return invalid("model.hidden_dim", "must be positive")
	case c.Model.EmbeddingDim <= 0:
		return invalid("model.embedding_dim", "must be positive")
	case c.Model.Dropout < 0 || c.Model.Dropout >= 1:
		return invalid("model.dropout", "must be in [0,1)")
	case c.Model.Backbone != model.KindPooled && c.Model.Backbone != model.KindDense:
		return invalid("model.backbone", fmt.Sprintf("unknown kind %q", c.Model.Backbone))
	case c.Model.Backbone == model.KindPooled && (c.Model.Grid <= 0 || c.Model.Grid > c.Dataset.ImageSize):
		return invalid("model.grid", "must be in [1,image_size]")
	case c.Model.Backbone == model.KindDense && len(c.Model.BackboneLayers) == 0:
		return invalid("model.backbone_layers", "must not be empty for a dense backbone")
	case c.Train.Epochs <= 0:
		return invalid("train.epochs", "must be positive")
	case c.Train.BatchSize <= 0:
		return invalid("train.batch_size", "must be positive")
	case c.Train.Margin <= 0:
		return invalid("train.margin", "must be positive")
	case c.Train.LearningRate <= 0:
		return invalid("train.learning_rate", "must be positive")
	case c.Train.WeightDecay < 0:
		return invalid("train.weight_decay", "must not be negative")
	case c.Train.ClassifierWeight < 0:
		return invalid("train.classifier_weight", "must not be negative")
	case c.Train.ClassifierWeight > 0 && !c.Model.Classifier:
		return invalid("train.classifier_weight", "requires model.classifier")
	case c.Train.MaxSkippedRatio < 0 || c.Train.MaxSkippedRatio > 1:
		return invalid("train.max_skipped_ratio", "must be in [0,1]")
	case c.Train.GradClip < 0:
		return invalid("train.grad_clip", "must not be negative")
	case c.Loader.Workers < 0:
		return invalid("loader.workers", "must not be negative")
	case c.Loader.Prefetch < 0:
		return invalid("loader.prefetch", "must not be negative")
	case c.Loader.MemoryLimitBytes < 0:
		return invalid("loader.memory_limit_bytes", "must not be negative")
	case c.Loader.IOBytesPerSec < 0:
		return invalid("loader.io_bytes_per_sec", "must not be negative")
	case c.Checkpoint.Name == "":
		return invalid("checkpoint.name", "must not be empty")
	case c.Storage.URI == "":
		return invalid("storage.uri", "must not be empty")
	}

	if _, err := optim.NewOptimizer(c.Train.Optimizer, c.Train.WeightDecay); err != nil {
		return invalid("train.optimizer", err.Error())
	}
	if _, err := optim.NewSchedule(c.Train.Schedule, c.Train.LearningRate, c.Train.Epochs); err != nil {
		return invalid("train.schedule", err.Error())
	}
	if _, ok := codec.ByName(c.Checkpoint.Codec); !ok {
		return invalid("checkpoint.codec", fmt.Sprintf("unknown codec %q", c.Checkpoint.Codec))
	}
	if _, err := checkpoint.ParseCompression(c.Checkpoint.Compression); err != nil {
		return invalid("checkpoint.compression", err.Error())
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", "must be json or text")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", "must be debug, info, warn or error")
	}
	return nil
}

// Architecture returns the network layout for a dataset with numClasses
// identities. The classifier head is sized to numClasses when enabled.
func (c Config) Architecture(numClasses int) model.Architecture {
	arch := model.Architecture{
		HiddenDim:    c.Model.HiddenDim,
		EmbeddingDim: c.Model.EmbeddingDim,
		Dropout:      c.Model.Dropout,
	}
	if c.Model.Classifier {
		arch.NumClasses = numClasses
	}

	switch c.Model.Backbone {
	case model.KindDense:
		arch.Backbone = model.BackboneSpec{
			Kind:   model.KindDense,
			In:     3 * c.Dataset.ImageSize * c.Dataset.ImageSize,
			Layers: c.Model.BackboneLayers,
			Frozen: c.Model.FreezeBackbone,
		}
	default:
		arch.Backbone = model.BackboneSpec{
			Kind:     model.KindPooled,
			Channels: 3,
			Size:     c.Dataset.ImageSize,
			Grid:     c.Model.Grid,
		}
	}
	return arch
}

// Resource returns the loader resource limits.
func (c Config) Resource() resource.Config {
	return resource.Config{
		MemoryLimitBytes:   c.Loader.MemoryLimitBytes,
		MaxWorkers:         int64(c.Loader.Workers),
		IOLimitBytesPerSec: c.Loader.IOBytesPerSec,
	}
}
