package reid

import (
	"context"
	"errors"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/hupe1980/reid/checkpoint"
	"github.com/hupe1980/reid/codec"
	"github.com/hupe1980/reid/config"
	"github.com/hupe1980/reid/dataset"
	"github.com/hupe1980/reid/loader"
	"github.com/hupe1980/reid/model"
	"github.com/hupe1980/reid/resource"
	"github.com/hupe1980/reid/tracking"
	"github.com/hupe1980/reid/train"
)

// Train indexes the configured dataset and trains the embedding model. Only
// improving epochs write the <name>-best checkpoint; the final model is
// logged to the tracking sinks as the <name>-final.ridc artifact.
func Train(ctx context.Context, cfg config.Config, optFns ...Option) (*train.Result, error) {
	opts := newOptions(optFns)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.logger
	if logger == nil {
		logger = LoggerFromConfig(cfg.Log, os.Stderr)
	}
	logger = logger.WithRun(cfg.Tracking.Run)

	trainIdx, err := dataset.Build(cfg.Dataset.TrainDir, dataset.WithFileSystem(opts.fs))
	if err != nil {
		return nil, err
	}
	logger.LogDataset(ctx, "train", trainIdx.Stats())

	var valIdx *dataset.Index
	if cfg.Dataset.ValDir != "" {
		valIdx, err = dataset.Build(cfg.Dataset.ValDir, dataset.WithFileSystem(opts.fs))
		if err != nil {
			return nil, fmt.Errorf("validation split: %w", err)
		}
		logger.LogDataset(ctx, "val", valIdx.Stats())
	}

	ckpts, err := openCheckpoints(ctx, cfg, opts, logger)
	if err != nil {
		return nil, err
	}

	sink, err := openSinks(ctx, cfg, opts, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			logger.WarnContext(ctx, "closing tracking sinks", "error", cerr)
		}
	}()

	tr := train.New(cfg, trainIdx, valIdx,
		train.WithCheckpointer(ckpts),
		train.WithSink(sink),
		train.WithMetrics(opts.metricsCollector),
		train.WithLogger(logger.Logger),
		train.WithStopPredicate(opts.stop),
		train.WithFileSystem(opts.fs),
	)
	res, err := tr.Run(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	return res, nil
}

func openCheckpoints(ctx context.Context, cfg config.Config, opts options, logger *Logger) (*checkpoint.Store, error) {
	blobs := opts.store
	if blobs == nil {
		var err error
		blobs, err = config.OpenStore(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
	}

	c, ok := codec.ByName(cfg.Checkpoint.Codec)
	if !ok {
		return nil, &ConfigError{Field: "checkpoint.codec", Reason: "unknown codec " + cfg.Checkpoint.Codec}
	}
	comp, err := checkpoint.ParseCompression(cfg.Checkpoint.Compression)
	if err != nil {
		return nil, &ConfigError{Field: "checkpoint.compression", Reason: err.Error()}
	}
	return checkpoint.NewStore(blobs, logger.Logger, checkpoint.WithCodec(c), checkpoint.WithCompression(comp)), nil
}

// openSinks builds the tracking fan-out: the run logger, every sink named in
// the configuration and every sink passed through WithSink.
// OpenTracking opens the tracking sinks configured in cfg, the same set Train
// uses. The caller closes the returned sink.
func OpenTracking(ctx context.Context, cfg config.Config, optFns ...Option) (tracking.Sink, error) {
	opts := newOptions(optFns)
	logger := opts.logger
	if logger == nil {
		logger = LoggerFromConfig(cfg.Log, os.Stderr)
	}
	return openSinks(ctx, cfg, opts, logger.WithRun(cfg.Tracking.Run))
}

func openSinks(ctx context.Context, cfg config.Config, opts options, logger *Logger) (tracking.Sink, error) {
	sinks := []tracking.Sink{tracking.NewLogSink(logger.Logger)}
	fail := func(err error) (tracking.Sink, error) {
		_ = tracking.Multi(sinks...).Close()
		return nil, err
	}

	t := cfg.Tracking
	if t.JSONLPath != "" {
		s, err := tracking.OpenJSONLFile(opts.fs, t.JSONLPath)
		if err != nil {
			return fail(fmt.Errorf("open tracking file: %w", err))
		}
		sinks = append(sinks, s)
	}
	if t.BadgerDir != "" {
		s, err := tracking.OpenBadger(tracking.BadgerOptions{Dir: t.BadgerDir, Logger: logger.Logger})
		if err != nil {
			return fail(fmt.Errorf("open run store: %w", err))
		}
		sinks = append(sinks, s)
	}
	if t.DynamoTable != "" {
		client := opts.dynamo
		if client == nil {
			var loadOpts []func(*awsconfig.LoadOptions) error
			if cfg.Storage.Region != "" {
				loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Storage.Region))
			}
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
			if err != nil {
				return fail(fmt.Errorf("load aws config: %w", err))
			}
			client = dynamodb.NewFromConfig(awsCfg)
		}
		sinks = append(sinks, tracking.NewDynamoSink(client, t.DynamoTable))
	}
	if opts.registerer != nil {
		sinks = append(sinks, tracking.NewPrometheusSink("reid", opts.registerer))
	}
	sinks = append(sinks, opts.sinks...)
	return tracking.Multi(sinks...), nil
}

// LoadModel reads the checkpoint name (for example "reid-best") from the
// configured store and rebuilds the model.
func LoadModel(ctx context.Context, cfg config.Config, name string, optFns ...Option) (*model.Net, *checkpoint.Checkpoint, error) {
	opts := newOptions(optFns)
	logger := opts.logger
	if logger == nil {
		logger = LoggerFromConfig(cfg.Log, os.Stderr)
	}

	ckpts, err := openCheckpoints(ctx, cfg, opts, logger)
	if err != nil {
		return nil, nil, err
	}
	c, err := ckpts.Load(ctx, name)
	if err != nil {
		logger.LogCheckpoint(ctx, name, -1, err)
		return nil, nil, translateError(err)
	}
	net, err := c.Net()
	if err != nil {
		logger.LogCheckpoint(ctx, name, c.Epoch, err)
		return nil, nil, translateError(err)
	}
	logger.LogCheckpoint(ctx, name, c.Epoch, nil)
	return net, c, nil
}

// Embedding is the embedding of one sample.
type Embedding struct {
	Path     string    `json:"path"`
	Identity string    `json:"identity"`
	Vector   []float64 `json:"embedding"`
}

// EmbedDir embeds every sample below dir, laid out as dir/<identity>/<image>,
// in index order. Unreadable samples are skipped and logged.
func EmbedDir(ctx context.Context, net *model.Net, dir string, imageSize int, optFns ...Option) ([]Embedding, error) {
	opts := newOptions(optFns)
	logger := opts.logger
	if logger == nil {
		logger = NewTextLogger(0)
	}

	idx, err := dataset.Build(dir, dataset.WithFileSystem(opts.fs))
	if err != nil {
		return nil, err
	}
	dec := dataset.NewImageDecoder(imageSize)
	if dec.InputDim() != net.InputDim() {
		return nil, &DimensionMismatchError{Expected: net.InputDim(), Actual: dec.InputDim()}
	}

	samples := loader.NewSamples(idx, dec,
		loader.WithFileSystem(opts.fs),
		loader.WithLogger(logger.Logger),
		loader.WithController(resource.NewController(resource.Config{})),
	)

	out := make([]Embedding, 0, idx.Len())
	for b, err := range samples.All(ctx) {
		if err != nil {
			var be *BatchError
			if errors.As(err, &be) {
				continue
			}
			return nil, err
		}
		e, err := net.EmbedBatch(b.X)
		if err != nil {
			return nil, translateError(err)
		}
		for r, i := range b.Indices {
			s := idx.Sample(i)
			out = append(out, Embedding{
				Path:     s.Path,
				Identity: s.Identity,
				Vector:   append([]float64(nil), e.RawRowView(r)...),
			})
		}
	}
	return out, nil
}
