package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	bodyanalyzer "github.com/menta2k/body-analyzer"
	"github.com/menta2k/body-analyzer/pkg/analyzer"
	"github.com/menta2k/body-analyzer/pkg/capture"
	"github.com/menta2k/body-analyzer/pkg/device"
	"github.com/menta2k/body-analyzer/pkg/pose"
	"github.com/menta2k/body-analyzer/pkg/segmentation"
)

func newSessionCmd(opts *globalOptions) *cobra.Command {
	var (
		dir          string
		facing       string
		loop         bool
		vision       bool
		manual       bool
		captureAfter time.Duration
		timeout      time.Duration
		format       string
		out          string
		backend      backendFlags
	)

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Replay a frame directory through a live capture session",
		Long: `Run the capture state machine against a directory of frames as if it
were a camera. Every detection tick reads the next frame; keypoints come from
<frame>.json files or, with --vision, from the configured vision backend.

The session auto-captures once enough consecutive frames reach the
auto-capture quality threshold and prints the classification. With --manual
auto-capture is disabled and a capture is taken after --capture-after.
A user/ or environment/ subdirectory is used when it matches --facing.`,
		Example: `  # Replay frames with landmark files until auto-capture completes
  body-analyzer session --dir ./frames --loop

  # Use a vision model and capture manually after 3 seconds
  body-analyzer session --dir ./frames --vision --backend gemini --model gemini-2.5-flash --manual --capture-after 3s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				return fmt.Errorf("--dir is required")
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			backend.apply(cfg)
			if facing != "" {
				cfg.Capture.Facing = facing
			}
			if manual {
				cfg.Capture.AutoCapture = false
			}
			if format == "" {
				format = cfg.Output.Format
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			var model capture.PoseModel = pose.NewFileDetector()
			if vision {
				vd, err := newVisionDetector(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				model = vd
			}

			ba := bodyanalyzer.NewWithConfig(pipelineConfig(cfg), analyzer.WithSegmenter(segmentation.NewFileSegmenter()))
			session := ba.NewSession(device.NewDirectoryDevice(dir, loop), model)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			states, unsubscribe := session.Subscribe()
			defer unsubscribe()

			slog.Info("Starting session", "id", session.ID(), "dir", dir, "facing", cfg.Capture.Facing)
			if err := session.Start(ctx, capture.Facing(cfg.Capture.Facing)); err != nil {
				return err
			}
			defer func() {
				if err := session.Stop(); err != nil {
					slog.Warn("Failed to stop session", "error", err)
				}
			}()

			var manualC <-chan time.Time
			if manual {
				manualC = time.After(captureAfter)
			}

			last := capture.StatusIdle
			for {
				select {
				case <-ctx.Done():
					return fmt.Errorf("session did not complete: %w", ctx.Err())

				case <-manualC:
					manualC = nil
					slog.Info("Capturing manually")
					if _, err := session.CaptureNow(ctx); err != nil {
						slog.Warn("Manual capture failed", "error", err)
					}

				case st := <-states:
					if st.Status != last {
						slog.Info("Session state", "status", st.Status.String(), "facing", string(st.Facing))
						last = st.Status
					}
					if st.Quality != nil {
						slog.Debug("Frame quality",
							"overall", fmt.Sprintf("%.2f", st.Quality.Overall),
							"pose_ready", st.PoseReady,
							"excellent_frames", st.ExcellentFrames)
					}

					switch st.Status {
					case capture.StatusComplete:
						return writeOutput(st.Result, format, out)
					case capture.StatusError:
						return fmt.Errorf("session failed: %w", st.Err)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory of frames to replay")
	cmd.Flags().StringVar(&facing, "facing", "", "camera facing: user|environment (default from config)")
	cmd.Flags().BoolVar(&loop, "loop", false, "restart at the first frame after the last one")
	cmd.Flags().BoolVar(&vision, "vision", false, "detect keypoints with the vision backend instead of landmark files")
	cmd.Flags().BoolVar(&manual, "manual", false, "disable auto-capture and capture after --capture-after")
	cmd.Flags().DurationVar(&captureAfter, "capture-after", 2*time.Second, "delay before a manual capture")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up when no result arrives in time")
	cmd.Flags().StringVar(&format, "format", "", "output format: json|yaml (default from config)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&backend.backend, "backend", "", "pose backend: ollama|llamacpp|gemini")
	cmd.Flags().StringVar(&backend.url, "url", "", "pose backend URL")
	cmd.Flags().StringVar(&backend.model, "model", "", "pose backend model")

	return cmd
}
