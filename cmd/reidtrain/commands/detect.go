package commands

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/reid"
	"github.com/hupe1980/reid/detection"
)

var (
	detectBin    string
	detectParams = detection.DefaultParams()
)

var detectCmd = &cobra.Command{
	Use:   "detect DESCRIPTOR [-- TRAINER_ARGS...]",
	Short: "Train the detection model",
	Long: `Train the animal detector that produces the crops used for
re-identification. Training runs in an external program; DESCRIPTOR is
the dataset description file it understands. Arguments after -- are
passed to the program before the generated flags.

Parameters and metrics are logged to the configured tracking sinks under
the run <tracking.run>-detect.

The program must print its result as the last JSON line on stdout:
  {"metrics":{"map50":0.91,"map50_95":0.66,"precision":0.9,"recall":0.87},"artifact":"runs/best.pt"}

Examples:
  reidtrain detect data.yaml
  reidtrain detect data.yaml --epochs 50 --device cuda:0 --bin ./yolo-train.sh`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		logger := newLogger(cfg)
		sink, err := reid.OpenTracking(ctx, cfg, reid.WithLogger(logger))
		if err != nil {
			return err
		}
		defer sink.Close()

		trainer := &detection.CommandTrainer{
			Path:   detectBin,
			Args:   args[1:],
			Logger: logger.Logger,
		}
		ds := detection.Dataset{Descriptor: args[0]}
		res, err := trainer.Train(ctx, ds, detectParams)
		if err != nil {
			return err
		}

		run := cfg.Tracking.Run + "-detect"
		if err := detection.Track(ctx, sink, run, ds, detectParams, res); err != nil {
			logger.WarnContext(ctx, "tracking sink failed", "run", run, "error", err)
		}
		return outputJSON(res)
	},
}

func init() {
	f := detectCmd.Flags()
	f.StringVar(&detectBin, "bin", "yolo-train", "detection trainer executable")
	f.StringVar(&detectParams.Model, "model", detectParams.Model, "initial detection weights")
	f.IntVar(&detectParams.Epochs, "epochs", detectParams.Epochs, "training epochs")
	f.IntVar(&detectParams.BatchSize, "batch", detectParams.BatchSize, "batch size")
	f.IntVar(&detectParams.ImageSize, "imgsz", detectParams.ImageSize, "input image size")
	f.IntVar(&detectParams.Workers, "workers", detectParams.Workers, "data loader workers")
	f.IntVar(&detectParams.Patience, "patience", detectParams.Patience, "early-stopping patience")
	f.StringVar(&detectParams.Device, "device", detectParams.Device, "training device")
	f.StringVar(&detectParams.OutputDir, "project", detectParams.OutputDir, "output directory")
}
