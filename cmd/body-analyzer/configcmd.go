package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/menta2k/body-analyzer/internal/config"
	"github.com/menta2k/body-analyzer/internal/utils"
	"github.com/menta2k/body-analyzer/pkg/processing"
	"github.com/menta2k/body-analyzer/pkg/types"
)

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(opts))
	cmd.AddCommand(newConfigShowCmd(opts))
	cmd.AddCommand(newConfigCheckCmd(opts))
	return cmd
}

func newConfigInitCmd(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Long: `Write the default configuration to path, to --config, or to
~/.config/body-analyzer/config.json. A .yaml or .yml extension writes YAML.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = config.GetConfigPath()
			}
			if utils.FileExists(path) && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := config.Default().SaveToFile(path); err != nil {
				return err
			}
			slog.Info("Wrote default config", "path", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  `Print the configuration after applying the config file and BODY_ANALYZER_* environment overrides.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			data, err := cfg.Marshal(format == "yaml" || format == "yml")
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: json|yaml")
	return cmd
}

func newConfigCheckCmd(opts *globalOptions) *cobra.Command {
	var (
		imagePath string
		backend   backendFlags
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the configured vision backend can see images",
		Long: `Connect to the configured pose backend and, with --image, ask the model to
describe the image. Useful before running analyze or session with a vision
model.`,
		Example: `  body-analyzer config check --image front.jpg --backend ollama --model qwen2.5vl:7b`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			backend.apply(cfg)

			ctx := cmd.Context()
			detector, err := newVisionDetector(ctx, cfg)
			if err != nil {
				return err
			}
			if imagePath == "" {
				return nil
			}

			img, err := processing.NewProcessor().LoadImageSmart(ctx, imagePath)
			if err != nil {
				return err
			}
			reply, err := detector.TestVision(ctx, types.Frame{Image: img, Source: imagePath})
			if err != nil {
				return fmt.Errorf("vision check failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(reply))
			return nil
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "image to describe")
	cmd.Flags().StringVar(&backend.backend, "backend", "", "pose backend: ollama|llamacpp|gemini")
	cmd.Flags().StringVar(&backend.url, "url", "", "pose backend URL")
	cmd.Flags().StringVar(&backend.model, "model", "", "pose backend model")
	return cmd
}
