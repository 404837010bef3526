package detection

import (
	"context"
	"errors"

	"github.com/hupe1980/reid/codec"
	"github.com/hupe1980/reid/tracking"
)

// ResultArtifact is the artifact name under which Track stores the raw
// result.
const ResultArtifact = "detection-result.json"

// Track records a finished detection run in sink. Hyperparameters and final
// metrics form one parameter record; the result document is logged as
// [ResultArtifact]. Every record is attempted and the errors are joined.
func Track(ctx context.Context, sink tracking.Sink, run string, ds Dataset, p Params, res *Result) error {
	params := tracking.Params{
		"task":       "detection",
		"descriptor": ds.Descriptor,
		"model":      p.Model,
		"epochs":     p.Epochs,
		"batch_size": p.BatchSize,
		"image_size": p.ImageSize,
		"workers":    p.Workers,
		"patience":   p.Patience,
		"device":     p.Device,
		"output_dir": p.OutputDir,
		"map50":      res.Metrics.MAP50,
		"map50_95":   res.Metrics.MAP50_95,
		"precision":  res.Metrics.Precision,
		"recall":     res.Metrics.Recall,
		"artifact":   res.Artifact,
	}

	doc, err := codec.GoJSON{}.Marshal(res)
	if err != nil {
		return err
	}
	return errors.Join(
		sink.LogParams(ctx, run, params),
		sink.LogArtifact(ctx, run, ResultArtifact, doc),
	)
}
