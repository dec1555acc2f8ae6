package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	bodyanalyzer "github.com/menta2k/body-analyzer"
	"github.com/menta2k/body-analyzer/internal/config"
	"github.com/menta2k/body-analyzer/internal/utils"
	"github.com/menta2k/body-analyzer/pkg/analyzer"
	"github.com/menta2k/body-analyzer/pkg/cropper"
	"github.com/menta2k/body-analyzer/pkg/overlay"
	"github.com/menta2k/body-analyzer/pkg/pose"
	"github.com/menta2k/body-analyzer/pkg/processing"
	"github.com/menta2k/body-analyzer/pkg/quality"
	"github.com/menta2k/body-analyzer/pkg/segmentation"
	"github.com/menta2k/body-analyzer/pkg/silhouette"
	"github.com/menta2k/body-analyzer/pkg/types"
)

// preloadedMask serves a mask loaded before analysis
type preloadedMask struct {
	result segmentation.Result
}

func (p preloadedMask) Segment(ctx context.Context, frame types.Frame) (segmentation.Result, error) {
	return p.result, nil
}

func newAnalyzeCmd(opts *globalOptions) *cobra.Command {
	var (
		in            string
		landmarksPath string
		maskPath      string
		noMask        bool
		format        string
		out           string
		overlayPath   string
		saveOverlay   bool
		cropPath      string
		cropRatio     string
		backend       backendFlags
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Measure and classify a single frame",
		Long: `Analyze one frame: detect or load its keypoints, measure the body from
the landmarks and, when a mask is available, from the silhouette, then
classify the body shape.

Keypoints are read from --landmarks, else from <frame>.json next to a local
frame, else requested from the configured vision backend. A mask is read
from --mask, else from <frame>_mask.png when present.`,
		Example: `  # Frame with landmarks and mask stored next to it
  body-analyzer analyze --in front.jpg

  # Ask a vision model for keypoints and write a debug overlay
  body-analyzer analyze --in front.jpg --backend ollama --model qwen2.5vl:7b --overlay out/front_overlay.png

  # YAML result to a file
  body-analyzer analyze --in front.jpg --format yaml --out out/front.yaml

  # Save a portrait crop around the body
  body-analyzer analyze --in front.jpg --crop out/front_body.jpg --crop-ratio portrait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in == "" {
				return fmt.Errorf("--in is required")
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			backend.apply(cfg)
			if format == "" {
				format = cfg.Output.Format
			}

			ctx := cmd.Context()
			processor := processing.NewProcessor()
			img, err := processor.LoadImageSmart(ctx, in)
			if err != nil {
				return err
			}
			frame := types.Frame{Image: img, Source: in}
			remote := strings.HasPrefix(in, "http://") || strings.HasPrefix(in, "https://")
			slog.Info("Loaded frame", "source", in, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())

			set, err := detectLandmarks(ctx, cfg, frame, landmarksPath, remote)
			if err != nil {
				return err
			}
			slog.Info("Landmarks ready", "count", set.Count())

			mask, err := resolveMask(frame, maskPath, noMask, remote)
			if err != nil {
				return err
			}
			var aopts []analyzer.Option
			if mask != nil {
				aopts = append(aopts, analyzer.WithSegmenter(preloadedMask{result: *mask}))
			}

			ba := bodyanalyzer.NewWithConfig(pipelineConfig(cfg), aopts...)
			q := quality.NewWithConfig(cfg.Quality.Thresholds, cfg.Quality.Weights).Score(set, img)
			result, err := ba.AnalyzeCapture(ctx, types.Capture{
				Frame:     frame,
				Landmarks: set,
				Quality:   &q,
			})
			if err != nil {
				return err
			}
			slog.Info("Classified",
				"shape", result.Shape.String(),
				"confidence", fmt.Sprintf("%.2f", result.Confidence),
				"source", string(result.Source))

			if overlayPath == "" && saveOverlay {
				overlayPath = utils.GenerateOutputFilename(in, cfg.Output.OutputDir, "", cfg.Output.Suffix, cfg.Output.OverlayFormat)
			}
			if overlayPath != "" {
				rendered, err := overlay.Render(img, set, result.Silhouette)
				if err != nil {
					return err
				}
				if err := utils.EnsureDir(filepath.Dir(overlayPath)); err != nil {
					return err
				}
				if err := processor.SaveImage(rendered, overlayPath, "", 92, false); err != nil {
					return fmt.Errorf("failed to save overlay: %w", err)
				}
				slog.Info("Saved overlay", "path", overlayPath)
			}

			if cropPath != "" {
				ratio, err := cropper.ParseAspectRatio(cropRatio)
				if err != nil {
					return err
				}
				var m *silhouette.Mask
				if mask != nil {
					m = mask.Mask
				}
				crop, err := cropper.New().CropToAspectRatio(img, set, m, ratio)
				if err != nil {
					return fmt.Errorf("failed to crop body: %w", err)
				}
				if err := utils.EnsureDir(filepath.Dir(cropPath)); err != nil {
					return err
				}
				if err := processor.SaveImage(crop.Image, cropPath, "", 92, false); err != nil {
					return fmt.Errorf("failed to save crop: %w", err)
				}
				slog.Info("Saved body crop", "path", cropPath, "region", crop.Region.String(),
					"quality", fmt.Sprintf("%.2f", crop.Quality))
			}

			return writeOutput(result, format, out)
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "input frame path or URL (jpg/png/webp)")
	cmd.Flags().StringVar(&landmarksPath, "landmarks", "", "landmark JSON file (default: <frame>.json, else the vision backend)")
	cmd.Flags().StringVar(&maskPath, "mask", "", "segmentation mask image (default: <frame>_mask.png when present)")
	cmd.Flags().BoolVar(&noMask, "no-mask", false, "classify from landmarks only")
	cmd.Flags().StringVar(&format, "format", "", "output format: json|yaml (default from config)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&overlayPath, "overlay", "", "write a debug overlay image (png/jpg/webp)")
	cmd.Flags().BoolVar(&saveOverlay, "save-overlay", false, "write the overlay to output_dir/<frame><suffix>.<overlay_format> from the config")
	cmd.Flags().StringVar(&cropPath, "crop", "", "write the frame cropped to the body")
	cmd.Flags().StringVar(&cropRatio, "crop-ratio", cropper.Portrait.Name, "crop aspect ratio: square|portrait|tall|story")
	cmd.Flags().StringVar(&backend.backend, "backend", "", "pose backend: ollama|llamacpp|gemini")
	cmd.Flags().StringVar(&backend.url, "url", "", "pose backend URL")
	cmd.Flags().StringVar(&backend.model, "model", "", "pose backend model")

	return cmd
}

// detectLandmarks loads keypoints from a file when one is available and
// otherwise asks the vision backend
func detectLandmarks(ctx context.Context, cfg *config.Config, frame types.Frame, path string, remote bool) (types.LandmarkSet, error) {
	w, h := frame.Image.Bounds().Dx(), frame.Image.Bounds().Dy()
	if path != "" {
		return pose.LoadLandmarks(path, w, h)
	}
	if !remote {
		if p := pose.LandmarkPath(frame.Source); utils.FileExists(p) {
			slog.Debug("Using landmark file", "path", p)
			return pose.LoadLandmarks(p, w, h)
		}
	}

	detector, err := newVisionDetector(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return detector.Detect(ctx, frame)
}

// resolveMask loads the mask given on the command line or stored next to a
// local frame. A nil result means classification uses landmarks only.
func resolveMask(frame types.Frame, path string, disabled, remote bool) (*segmentation.Result, error) {
	if disabled {
		return nil, nil
	}
	if path == "" {
		if remote {
			return nil, nil
		}
		found, err := segmentation.FindMask(frame.Source)
		if err != nil {
			slog.Debug("No mask next to frame", "source", frame.Source)
			return nil, nil
		}
		path = found
	}

	res, err := segmentation.NewFileSegmenter().Load(path, frame)
	if err != nil {
		return nil, err
	}
	slog.Debug("Using mask", "path", path, "confidence", fmt.Sprintf("%.2f", res.Confidence))
	return &res, nil
}
