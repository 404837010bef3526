package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/reid"
	"github.com/hupe1980/reid/metric"
	"github.com/hupe1980/reid/train"
)

var (
	trainDir    string
	valDir      string
	epochs      int
	patience    int
	metricsAddr string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train an embedding model",
	Long: `Train the embedding model with a triplet loss.

Every epoch that lowers the validation distance rewrites <name>-best in
the configured storage. The last state is logged to the tracking sinks as
the <name>-final.ridc artifact (kept by the badger run store).

Examples:
  reidtrain -c reid.yaml train
  reidtrain train --train-dir ./data/train --val-dir ./data/val --epochs 20
  reidtrain -c reid.yaml train --metrics-addr :9090 --patience 10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if trainDir != "" {
			cfg.Dataset.TrainDir = trainDir
		}
		if valDir != "" {
			cfg.Dataset.ValDir = valDir
		}
		if epochs > 0 {
			cfg.Train.Epochs = epochs
		}
		if metricsAddr != "" {
			cfg.Tracking.MetricsAddr = metricsAddr
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		logger := newLogger(cfg)
		opts := []reid.Option{reid.WithLogger(logger)}
		if patience > 0 {
			opts = append(opts, reid.WithStopPredicate(train.Patience(patience)))
		}

		if addr := cfg.Tracking.MetricsAddr; addr != "" {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			opts = append(opts,
				reid.WithMetricsCollector(metric.NewPrometheusCollector("reid", reg)),
				reid.WithPrometheus(reg),
			)

			srv := &http.Server{
				Addr:              addr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", "addr", addr, "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving metrics", "addr", addr)
		}

		res, err := reid.Train(ctx, cfg, opts...)
		if err != nil {
			return err
		}
		return outputJSON(summarize(res))
	},
}

func init() {
	trainCmd.Flags().StringVar(&trainDir, "train-dir", "", "training dataset root (overrides dataset.train_dir)")
	trainCmd.Flags().StringVar(&valDir, "val-dir", "", "validation dataset root (overrides dataset.val_dir)")
	trainCmd.Flags().IntVar(&epochs, "epochs", 0, "number of epochs (overrides train.epochs)")
	trainCmd.Flags().IntVar(&patience, "patience", 0, "stop after this many epochs without improvement (0 disables)")
	trainCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

type epochSummary struct {
	Epoch          int     `json:"epoch"`
	TrainLoss      float64 `json:"train_loss"`
	ValDistance    float64 `json:"val_distance"`
	LearningRate   float64 `json:"learning_rate"`
	SkippedBatches int     `json:"skipped_batches"`
	Improved       bool    `json:"improved"`
}

type trainSummary struct {
	BestEpoch          int            `json:"best_epoch"`
	BestScore          float64        `json:"best_score"`
	Persisted          bool           `json:"persisted"`
	CheckpointFailures int            `json:"checkpoint_failures"`
	StoppedEarly       bool           `json:"stopped_early"`
	Epochs             []epochSummary `json:"epochs"`
}

func summarize(res *train.Result) trainSummary {
	s := trainSummary{
		BestEpoch:          res.BestEpoch,
		BestScore:          res.BestScore,
		Persisted:          res.Persisted,
		CheckpointFailures: res.CheckpointFailures,
		StoppedEarly:       res.StoppedEarly,
		Epochs:             make([]epochSummary, len(res.Epochs)),
	}
	for i, e := range res.Epochs {
		s.Epochs[i] = epochSummary{
			Epoch:          e.Epoch,
			TrainLoss:      e.TrainLoss,
			ValDistance:    e.ValDistance,
			LearningRate:   e.LearningRate,
			SkippedBatches: e.SkippedBatches,
			Improved:       e.Improved,
		}
	}
	return s
}
