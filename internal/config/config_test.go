package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.CaptureSettings().DetectionInterval != 200*time.Millisecond {
		t.Errorf("Expected 200ms detection interval, got %v", cfg.CaptureSettings().DetectionInterval)
	}
	if cfg.Classification.DecisionConfidence != 0.7 {
		t.Errorf("Expected decision confidence 0.7, got %f", cfg.Classification.DecisionConfidence)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Capture.CooldownDelay = Duration(1500 * time.Millisecond)
			cfg.Backend.Model = "custom"

			path := filepath.Join(dir, "nested", name)
			if err := cfg.SaveToFile(path); err != nil {
				t.Fatalf("SaveToFile failed: %v", err)
			}
			data, _ := os.ReadFile(path)
			if !strings.Contains(string(data), "1.5s") {
				t.Errorf("Expected duration written as string, got:\n%s", data)
			}

			loaded, err := LoadFromFile(path)
			if err != nil {
				t.Fatalf("LoadFromFile failed: %v", err)
			}
			if time.Duration(loaded.Capture.CooldownDelay) != 1500*time.Millisecond {
				t.Errorf("Expected 1.5s cooldown, got %v", time.Duration(loaded.Capture.CooldownDelay))
			}
			if loaded.Backend.Model != "custom" {
				t.Errorf("Expected model custom, got %s", loaded.Backend.Model)
			}
			if err := loaded.Validate(); err != nil {
				t.Errorf("Loaded config invalid: %v", err)
			}
		})
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	if err := os.WriteFile(path, []byte(`{"capture":{"detection_interval":"100ms"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if time.Duration(cfg.Capture.DetectionInterval) != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", time.Duration(cfg.Capture.DetectionInterval))
	}
	if cfg.Capture.RequiredExcellentFrames != 5 {
		t.Errorf("Expected default 5 excellent frames, got %d", cfg.Capture.RequiredExcellentFrames)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"capture":{"detection_interval":"soon"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("Expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"decision confidence", func(c *Config) { c.Classification.DecisionConfidence = 1.5 }},
		{"variance", func(c *Config) { c.Classification.MeasurementVariance = 0 }},
		{"frame fill", func(c *Config) { c.Quality.Thresholds.FrameFillMin = 0.9 }},
		{"interval", func(c *Config) { c.Capture.DetectionInterval = 0 }},
		{"excellent frames", func(c *Config) { c.Capture.RequiredExcellentFrames = 0 }},
		{"facing", func(c *Config) { c.Capture.Facing = "side" }},
		{"fit", func(c *Config) { c.Geometry.Fit = "stretch" }},
		{"rotation", func(c *Config) { c.Geometry.Rotation = "45" }},
		{"backend", func(c *Config) { c.Backend.Type = "openai" }},
		{"output", func(c *Config) { c.Output.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BODY_ANALYZER_BACKEND", "gemini")
	t.Setenv("BODY_ANALYZER_MODEL", "gemini-2.5-flash")
	t.Setenv("BODY_ANALYZER_URL", "")

	cfg := Default()
	cfg.ApplyEnv()
	if cfg.Backend.Type != "gemini" || cfg.Backend.Model != "gemini-2.5-flash" {
		t.Errorf("Expected env overrides, got %+v", cfg.Backend)
	}
	if cfg.Backend.URL != "http://localhost:11434" {
		t.Errorf("Expected URL unchanged, got %s", cfg.Backend.URL)
	}
}

func TestGetConfigPath(t *testing.T) {
	if !strings.HasSuffix(GetConfigPath(), "config.json") {
		t.Errorf("Unexpected config path %s", GetConfigPath())
	}
}
