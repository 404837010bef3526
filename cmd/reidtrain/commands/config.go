package commands

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/reid/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration that results from the defaults, the file
given with -c and the REID_* environment, as YAML.

Examples:
  reidtrain config > reid.yaml
  REID_TRAIN_EPOCHS=20 reidtrain -c reid.yaml config`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		w, err := openOutput()
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	},
}
