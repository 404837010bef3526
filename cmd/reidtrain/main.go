// Package main provides the reidtrain CLI.
//
// Usage:
//
//	reidtrain [flags] <command> [args]
//
// Commands:
//
//	train   - Train an embedding model on an identity-grouped image dataset
//	index   - Print the composition of a dataset
//	embed   - Embed every image of a dataset with a trained checkpoint
//	detect  - Train the upstream detection model with the external trainer
//	config  - Print the effective configuration
//
// Configuration:
//
//	Settings are read from the file given with -c, then from REID_*
//	environment variables (a .env file in the working directory is loaded
//	first). Flags override both.
package main

import (
	"fmt"
	"os"

	"github.com/hupe1980/reid/cmd/reidtrain/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
