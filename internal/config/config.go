package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/body-analyzer/pkg/analyzer"
	"github.com/menta2k/body-analyzer/pkg/capture"
	"github.com/menta2k/body-analyzer/pkg/classifier"
	"github.com/menta2k/body-analyzer/pkg/client"
	"github.com/menta2k/body-analyzer/pkg/geometry"
	"github.com/menta2k/body-analyzer/pkg/quality"
	"github.com/menta2k/body-analyzer/pkg/silhouette"
)

// Config holds the application configuration
type Config struct {
	Quality        QualityConfig         `json:"quality" yaml:"quality"`
	Classification classifier.Thresholds `json:"classification" yaml:"classification"`
	Silhouette     silhouette.Config     `json:"silhouette" yaml:"silhouette"`
	Analyzer       analyzer.Config       `json:"analyzer" yaml:"analyzer"`
	Capture        CaptureConfig         `json:"capture" yaml:"capture"`
	Geometry       geometry.MapperConfig `json:"geometry" yaml:"geometry"`
	Backend        BackendConfig         `json:"backend" yaml:"backend"`
	Output         OutputConfig          `json:"output" yaml:"output"`
}

// QualityConfig holds the quality scorer thresholds and weights
type QualityConfig struct {
	Thresholds quality.Thresholds `json:"thresholds" yaml:"thresholds"`
	Weights    quality.Weights    `json:"weights" yaml:"weights"`
}

// CaptureConfig mirrors capture.Config with durations written as strings
type CaptureConfig struct {
	DetectionInterval       Duration `json:"detection_interval" yaml:"detection_interval"`
	SettleDelay             Duration `json:"settle_delay" yaml:"settle_delay"`
	CooldownDelay           Duration `json:"cooldown_delay" yaml:"cooldown_delay"`
	PoseReadyThreshold      float64  `json:"pose_ready_threshold" yaml:"pose_ready_threshold"`
	AutoCaptureThreshold    float64  `json:"auto_capture_threshold" yaml:"auto_capture_threshold"`
	RequiredExcellentFrames int      `json:"required_excellent_frames" yaml:"required_excellent_frames"`
	AutoCapture             bool     `json:"auto_capture" yaml:"auto_capture"`
	Facing                  string   `json:"facing" yaml:"facing"`
}

// BackendConfig selects and configures the pose model backend
type BackendConfig struct {
	Type         string   `json:"type" yaml:"type"`
	URL          string   `json:"url" yaml:"url"`
	Model        string   `json:"model" yaml:"model"`
	Timeout      Duration `json:"timeout" yaml:"timeout"`
	MaxDimension int      `json:"max_dimension" yaml:"max_dimension"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Format        string `json:"format" yaml:"format"`
	OutputDir     string `json:"output_dir" yaml:"output_dir"`
	OverlayFormat string `json:"overlay_format" yaml:"overlay_format"`
	Suffix        string `json:"suffix" yaml:"suffix"`
}

// Duration is a time.Duration written as "200ms" in config files
type Duration time.Duration

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Default returns a configuration with default values
func Default() *Config {
	cc := capture.DefaultConfig()
	return &Config{
		Quality: QualityConfig{
			Thresholds: quality.DefaultThresholds(),
			Weights:    quality.DefaultWeights(),
		},
		Classification: classifier.DefaultThresholds(),
		Silhouette:     silhouette.DefaultConfig(),
		Analyzer:       analyzer.DefaultConfig(),
		Capture: CaptureConfig{
			DetectionInterval:       Duration(cc.DetectionInterval),
			SettleDelay:             Duration(cc.SettleDelay),
			CooldownDelay:           Duration(cc.CooldownDelay),
			PoseReadyThreshold:      cc.PoseReadyThreshold,
			AutoCaptureThreshold:    cc.AutoCaptureThreshold,
			RequiredExcellentFrames: cc.RequiredExcellentFrames,
			AutoCapture:             cc.AutoCapture,
			Facing:                  string(capture.FacingUser),
		},
		Geometry: geometry.DefaultMapperConfig(),
		Backend: BackendConfig{
			Type:         client.BackendOllama,
			URL:          "http://localhost:11434",
			Model:        "qwen2.5vl:7b",
			Timeout:      Duration(300 * time.Second),
			MaxDimension: 1024,
		},
		Output: OutputConfig{
			Format:        "json",
			OutputDir:     "./output",
			OverlayFormat: "png",
			Suffix:        "_overlay",
		},
	}
}

// CaptureSettings converts the capture block to a capture.Config
func (c *Config) CaptureSettings() capture.Config {
	return capture.Config{
		DetectionInterval:       time.Duration(c.Capture.DetectionInterval),
		SettleDelay:             time.Duration(c.Capture.SettleDelay),
		CooldownDelay:           time.Duration(c.Capture.CooldownDelay),
		PoseReadyThreshold:      c.Capture.PoseReadyThreshold,
		AutoCaptureThreshold:    c.Capture.AutoCaptureThreshold,
		RequiredExcellentFrames: c.Capture.RequiredExcellentFrames,
		AutoCapture:             c.Capture.AutoCapture,
	}
}

// isYAML reports whether a path should be read and written as YAML
func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFromFile loads configuration from a JSON or YAML file. Fields absent
// from the file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON or YAML file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := c.Marshal(isYAML(filename))
	if err != nil {
		return err
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Marshal encodes the configuration as indented JSON or as YAML
func (c *Config) Marshal(asYAML bool) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if asYAML {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// ApplyEnv overrides backend settings from BODY_ANALYZER_* variables
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("BODY_ANALYZER_BACKEND")); v != "" {
		c.Backend.Type = v
	}
	if v := strings.TrimSpace(os.Getenv("BODY_ANALYZER_URL")); v != "" {
		c.Backend.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("BODY_ANALYZER_MODEL")); v != "" {
		c.Backend.Model = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := unit("classification.decision_confidence", c.Classification.DecisionConfidence); err != nil {
		return err
	}
	if c.Classification.MeasurementVariance <= 0 {
		return fmt.Errorf("classification.measurement_variance must be positive")
	}

	if c.Quality.Thresholds.FrameFillMin >= c.Quality.Thresholds.FrameFillMax {
		return fmt.Errorf("quality.thresholds.frame_fill_min must be below frame_fill_max")
	}
	if c.Quality.Thresholds.HistorySize < c.Quality.Thresholds.MinStabilityHistory {
		return fmt.Errorf("quality.thresholds.history_size must be at least min_stability_history")
	}

	if c.Silhouette.BandHeight < 0 {
		return fmt.Errorf("silhouette.band_height must not be negative")
	}
	if err := unit("silhouette.min_valid_row_fraction", c.Silhouette.MinValidRowFraction); err != nil {
		return err
	}

	if c.Capture.DetectionInterval <= 0 {
		return fmt.Errorf("capture.detection_interval must be positive")
	}
	if err := unit("capture.pose_ready_threshold", c.Capture.PoseReadyThreshold); err != nil {
		return err
	}
	if err := unit("capture.auto_capture_threshold", c.Capture.AutoCaptureThreshold); err != nil {
		return err
	}
	if c.Capture.RequiredExcellentFrames < 1 {
		return fmt.Errorf("capture.required_excellent_frames must be at least 1")
	}
	switch capture.Facing(c.Capture.Facing) {
	case capture.FacingUser, capture.FacingEnvironment:
	default:
		return fmt.Errorf("capture.facing must be %q or %q", capture.FacingUser, capture.FacingEnvironment)
	}

	if _, err := geometry.ParseFitMode(string(c.Geometry.Fit)); err != nil {
		return fmt.Errorf("geometry.fit: %w", err)
	}
	if _, err := geometry.ParseRotation(string(c.Geometry.Rotation)); err != nil {
		return fmt.Errorf("geometry.rotation: %w", err)
	}
	if c.Geometry.PixelRatio <= 0 {
		return fmt.Errorf("geometry.pixel_ratio must be positive")
	}

	switch c.Backend.Type {
	case client.BackendOllama, client.BackendLlamaCpp, client.BackendGemini:
	default:
		return fmt.Errorf("backend.type must be one of %s, %s, %s",
			client.BackendOllama, client.BackendLlamaCpp, client.BackendGemini)
	}

	switch c.Output.Format {
	case "json", "yaml":
	default:
		return fmt.Errorf("output.format must be json or yaml")
	}

	return nil
}

func unit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0 and 1", name)
	}
	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "body-analyzer", "config.json")
}
