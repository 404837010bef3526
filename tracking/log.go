package tracking

import (
	"context"
	"log/slog"
	"sort"
)

// LogSink writes records to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) LogParams(ctx context.Context, run string, p Params) error {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, p[k]))
	}
	s.logger.InfoContext(ctx, "run parameters", slog.String("run", run), slog.Group("params", attrs...))
	return nil
}

func (s *LogSink) LogEpoch(ctx context.Context, e Epoch) error {
	s.logger.InfoContext(ctx, "epoch complete",
		"run", e.Run,
		"epoch", e.Epoch,
		"train_loss", e.TrainLoss,
		"val_distance", e.ValDistance,
		"learning_rate", e.LearningRate,
		"intra_distance", e.IntraDistance,
		"inter_distance", e.InterDistance,
		"skipped_batches", e.SkippedBatches,
		"degenerate_positives", e.Degenerate,
		"checkpointed", e.Checkpointed,
	)
	return nil
}

func (s *LogSink) LogArtifact(ctx context.Context, run, name string, data []byte) error {
	s.logger.InfoContext(ctx, "artifact logged", "run", run, "name", name, "bytes", len(data))
	return nil
}

func (s *LogSink) Close() error { return nil }
