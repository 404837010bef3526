package commands

import (
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hupe1980/reid"
)

var checkpointName string

var embedCmd = &cobra.Command{
	Use:   "embed DIR",
	Short: "Embed a dataset with a trained checkpoint",
	Long: `Load a checkpoint from the configured storage and embed every image
below DIR (laid out as DIR/<identity>/<image>).

One JSON object per line is written:
  {"path":"herd/cow_017/001.jpg","identity":"cow_017","embedding":[...]}

Examples:
  reidtrain -c reid.yaml embed ./herd
  reidtrain -c reid.yaml embed ./herd --checkpoint runs/reid-best -o out.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		name := checkpointName
		if name == "" {
			name = cfg.Checkpoint.Name + "-best"
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		logger := newLogger(cfg)
		net, _, err := reid.LoadModel(ctx, cfg, name, reid.WithLogger(logger))
		if err != nil {
			return err
		}
		embeddings, err := reid.EmbedDir(ctx, net, args[0], cfg.Dataset.ImageSize, reid.WithLogger(logger))
		if err != nil {
			return err
		}

		w, err := openOutput()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		for _, e := range embeddings {
			if err := enc.Encode(e); err != nil {
				_ = w.Close()
				return err
			}
		}
		return w.Close()
	},
}

func init() {
	embedCmd.Flags().StringVar(&checkpointName, "checkpoint", "", "checkpoint name (default <checkpoint.name>-best)")
}
