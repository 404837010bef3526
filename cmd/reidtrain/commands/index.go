package commands

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/reid/dataset"
)

var indexCmd = &cobra.Command{
	Use:   "index DIR",
	Short: "Print the composition of a dataset",
	Long: `Index DIR and print the number of samples per identity as JSON.

Identities with a single image are listed under "singletons"; their
triplets reuse the anchor as positive.

Examples:
  reidtrain index ./data/train
  reidtrain index ./data/val -o val-stats.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := dataset.Build(args[0])
		if err != nil {
			return err
		}
		return outputJSON(idx.Stats())
	},
}
