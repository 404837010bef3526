package commands

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hupe1980/reid"
	"github.com/hupe1980/reid/config"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	outputFile string
)

var rootCmd = &cobra.Command{
	Use:   "reidtrain",
	Short: "Livestock re-identification training",
	Long: `Train and apply embedding models that tell individual animals apart.

A dataset is a directory with one subdirectory per animal:

  train/
    cow_017/  001.jpg 002.jpg ...
    cow_042/  001.jpg ...

Examples:
  reidtrain -c reid.yaml train
  reidtrain index ./data/train
  reidtrain -c reid.yaml embed ./herd -o embeddings.jsonl`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "write results to file instead of stdout")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration and applies the global flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) *reid.Logger {
	return reid.LoggerFromConfig(cfg.Log, os.Stderr)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// openOutput returns stdout or the file named by -o.
func openOutput() (io.WriteCloser, error) {
	if outputFile == "" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(outputFile)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// outputJSON writes v as indented JSON.
func outputJSON(v any) error {
	w, err := openOutput()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
