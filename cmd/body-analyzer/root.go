package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	configPath string
	verbose    bool
}

// NewRootCmd builds the body-analyzer command tree
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "body-analyzer",
		Short: "Body proportion measurement and shape classification",
		Long: `body-analyzer measures shoulder, waist and hip widths from pose keypoints
and person segmentation masks and classifies the body shape.

Keypoints come from a landmark JSON file stored next to each frame or from a
vision model (ollama, llama.cpp or Gemini).`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			logLevel := slog.LevelInfo
			if opts.verbose {
				logLevel = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
			slog.SetDefault(logger)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (JSON or YAML; default ~/.config/body-analyzer/config.json when present)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newAnalyzeCmd(opts))
	cmd.AddCommand(newClassifyCmd(opts))
	cmd.AddCommand(newSessionCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))

	return cmd
}
