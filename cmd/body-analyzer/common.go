package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	bodyanalyzer "github.com/menta2k/body-analyzer"
	"github.com/menta2k/body-analyzer/internal/config"
	"github.com/menta2k/body-analyzer/internal/utils"
	"github.com/menta2k/body-analyzer/pkg/client"
	"github.com/menta2k/body-analyzer/pkg/gemini"
	"github.com/menta2k/body-analyzer/pkg/llamacpp"
	"github.com/menta2k/body-analyzer/pkg/ollama"
	"github.com/menta2k/body-analyzer/pkg/pose"
)

// backendFlags override the configured pose backend
type backendFlags struct {
	backend string
	url     string
	model   string
}

// loadConfig reads the config file, falling back to defaults when none is
// given and the default path does not exist
func loadConfig(opts *globalOptions) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		if p := config.GetConfigPath(); utils.FileExists(p) {
			path = p
		}
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		slog.Debug("Loaded config", "path", path)
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// pipelineConfig maps the file configuration onto the library components
func pipelineConfig(cfg *config.Config) bodyanalyzer.Config {
	return bodyanalyzer.Config{
		Classification:    cfg.Classification,
		Silhouette:        cfg.Silhouette,
		Analyzer:          cfg.Analyzer,
		QualityThresholds: cfg.Quality.Thresholds,
		QualityWeights:    cfg.Quality.Weights,
		Capture:           cfg.CaptureSettings(),
	}
}

func (b backendFlags) apply(cfg *config.Config) {
	if b.backend != "" {
		cfg.Backend.Type = b.backend
	}
	if b.url != "" {
		cfg.Backend.URL = b.url
	}
	if b.model != "" {
		cfg.Backend.Model = b.model
	}
}

// newVisionClient creates the configured vision backend
func newVisionClient(cfg config.BackendConfig) (client.VisionClient, error) {
	switch cfg.Type {
	case client.BackendOllama:
		return ollama.NewClient(cfg.URL)
	case client.BackendLlamaCpp:
		return llamacpp.NewClient(cfg.URL)
	case client.BackendGemini:
		return gemini.NewClient("")
	default:
		return nil, fmt.Errorf("unknown backend: %s (use %s, %s or %s)",
			cfg.Type, client.BackendOllama, client.BackendLlamaCpp, client.BackendGemini)
	}
}

// healthChecker is implemented by backends that can report readiness
type healthChecker interface {
	Health(ctx context.Context) error
}

// modelChecker is implemented by backends serving locally pulled models
type modelChecker interface {
	HasModel(ctx context.Context, model string) (bool, error)
}

// newVisionDetector builds a pose detector on top of the configured backend.
// An unready backend is logged, not fatal, since the first query may still
// succeed once the model has loaded.
func newVisionDetector(ctx context.Context, cfg *config.Config) (*pose.VisionDetector, error) {
	vc, err := newVisionClient(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Backend.Type, err)
	}
	if hc, ok := vc.(healthChecker); ok {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := hc.Health(hctx); err != nil {
			slog.Warn("Vision backend not ready", "backend", cfg.Backend.Type, "error", err)
		} else if mc, ok := vc.(modelChecker); ok {
			if found, err := mc.HasModel(hctx, cfg.Backend.Model); err == nil && !found {
				slog.Warn("Model not available on backend", "backend", cfg.Backend.Type, "model", cfg.Backend.Model)
			}
		}
		cancel()
	}
	dc := pose.DefaultDetectorConfig()
	dc.Model = cfg.Backend.Model
	dc.MaxDimension = cfg.Backend.MaxDimension
	dc.Timeout = time.Duration(cfg.Backend.Timeout)

	slog.Info("Using vision pose backend", "backend", cfg.Backend.Type, "model", dc.Model)
	return pose.NewVisionDetector(vc, dc, slog.Default()), nil
}

// writeOutput encodes v as JSON or YAML to path, or to stdout when path is empty
func writeOutput(v any, format, path string) error {
	var w io.Writer = os.Stdout
	if path != "" {
		if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return nil
	}
}
