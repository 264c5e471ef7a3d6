// Package config holds the tuning file for guidecam.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/guidecam/internal/feedback"
	"gopkg.in/yaml.v3"
)

// AddPolicy decides whether frames added during a session must show a valid pose.
type AddPolicy string

const (
	// PolicyTrust stores any frame the user adds.
	PolicyTrust AddPolicy = "trust"
	// PolicyValidate applies the same pose gate as the database builder.
	PolicyValidate AddPolicy = "validate"
)

// Config is the full tuning file.
type Config struct {
	Tolerances feedback.Tolerances `yaml:"tolerances"`
	Search     SearchConfig        `yaml:"search"`
	Session    SessionConfig       `yaml:"session"`
	Worker     WorkerConfig        `yaml:"worker"`
	Camera     CameraConfig        `yaml:"camera"`
}

// SearchConfig controls similarity search.
type SearchConfig struct {
	TopK int `yaml:"top_k"`
}

// SessionConfig controls the interactive session.
type SessionConfig struct {
	AddPolicy       AddPolicy `yaml:"add_policy"`
	ImageDir        string    `yaml:"image_dir"`
	ThumbnailWidth  int       `yaml:"thumbnail_width"`
	ThumbnailHeight int       `yaml:"thumbnail_height"`
	InputPoll       string    `yaml:"input_poll"` // how long each frame waits for a key
	PreviewPath     string    `yaml:"preview_path"`
}

// WorkerConfig controls the inference engines.
type WorkerConfig struct {
	Python       string `yaml:"python"`
	Script       string `yaml:"script"`
	PoseModel    string `yaml:"pose_model"`
	FeatureModel string `yaml:"feature_model"`
	ReadTimeout  string `yaml:"read_timeout"`
	InferenceURL string `yaml:"inference_url"` // use the HTTP service instead of a local worker
}

// CameraConfig describes the ffmpeg capture source.
type CameraConfig struct {
	Format string `yaml:"format"`
	Input  string `yaml:"input"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Mirror bool   `yaml:"mirror"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	return &Config{
		Tolerances: feedback.DefaultTolerances(),
		Search:     SearchConfig{TopK: 5},
		Session: SessionConfig{
			AddPolicy:       PolicyTrust,
			ImageDir:        "db_images",
			ThumbnailWidth:  160,
			ThumbnailHeight: 120,
			InputPoll:       "10ms",
		},
		Worker: WorkerConfig{
			Python:      "python3",
			Script:      "python/worker.py",
			ReadTimeout: "30s",
		},
		Camera: CameraConfig{
			Input:  "/dev/video0",
			Format: "v4l2",
			Width:  640,
			Height: 480,
			Mirror: true,
		},
	}
}

// Load reads path on top of the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GUIDECAM_INFERENCE_URL"); v != "" {
		c.Worker.InferenceURL = v
	}
	if v := os.Getenv("GUIDECAM_ADD_POLICY"); v != "" {
		c.Session.AddPolicy = AddPolicy(v)
	}
	if v := os.Getenv("GUIDECAM_IMAGE_DIR"); v != "" {
		c.Session.ImageDir = v
	}
}

// GetReadTimeout returns the worker read timeout, 0 when unset.
func (c *Config) GetReadTimeout() time.Duration {
	d, err := time.ParseDuration(c.Worker.ReadTimeout)
	if err != nil {
		return 0
	}
	return d
}

// GetInputPoll returns how long the session waits for a key on each frame.
func (c *Config) GetInputPoll() time.Duration {
	d, err := time.ParseDuration(c.Session.InputPoll)
	if err != nil || d <= 0 {
		return 10 * time.Millisecond
	}
	return d
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	t := c.Tolerances
	if t.Confidence < 0 || t.Confidence >= 1 {
		return fmt.Errorf("tolerances.confidence must be between 0 and 1 (got %v)", t.Confidence)
	}
	if t.HeadY < 0 || t.ShoulderX < 0 || t.OffsetX < 0 {
		return fmt.Errorf("tolerances must not be negative")
	}
	if t.SizeMin <= 0 || t.SizeMax < t.SizeMin {
		return fmt.Errorf("tolerances.size_min must be positive and not above size_max (got %v, %v)", t.SizeMin, t.SizeMax)
	}
	if c.Search.TopK < 1 {
		return fmt.Errorf("search.top_k must be at least 1 (got %d)", c.Search.TopK)
	}
	switch c.Session.AddPolicy {
	case PolicyTrust, PolicyValidate:
	default:
		return fmt.Errorf("session.add_policy must be 'trust' or 'validate' (got %q)", c.Session.AddPolicy)
	}
	if c.Session.ThumbnailWidth < 1 || c.Session.ThumbnailHeight < 1 {
		return fmt.Errorf("session thumbnail size must be positive")
	}
	if c.Worker.ReadTimeout != "" {
		if _, err := time.ParseDuration(c.Worker.ReadTimeout); err != nil {
			return fmt.Errorf("invalid worker.read_timeout: %w", err)
		}
	}
	if c.Worker.InferenceURL == "" && c.Worker.Script == "" {
		return fmt.Errorf("worker.script or worker.inference_url is required")
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("camera size must not be negative")
	}
	return nil
}
