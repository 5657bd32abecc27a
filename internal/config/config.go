package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           string        `yaml:"port"`
	ModelPath      string        `yaml:"model_path"`
	MetadataPath   string        `yaml:"metadata_path"`
	ORTLibrary     string        `yaml:"ort_library"`
	BatchSize      int           `yaml:"batch_size"`
	NumThreads     int           `yaml:"num_threads"`
	MaxImageSide   int           `yaml:"max_image_side"`
	MaxPixels      int           `yaml:"max_pixels"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Preload        bool          `yaml:"preload"`
	LogLevel       string        `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		Port:           "8080",
		ModelPath:      "models/model.onnx",
		MetadataPath:   "models/model_metadata.json",
		BatchSize:      256,
		MaxPixels:      40_000_000,
		MaxUploadBytes: 10 << 20,
		RequestTimeout: 30 * time.Second,
		Preload:        true,
		LogLevel:       "info",
	}
}

// Load applies, in order: defaults, the YAML file at path (skipped when path
// is empty), a .env file if present, and AIDETECT_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("AIDETECT_PORT", &c.Port)
	str("PORT", &c.Port)
	str("AIDETECT_MODEL_PATH", &c.ModelPath)
	str("AIDETECT_METADATA_PATH", &c.MetadataPath)
	str("AIDETECT_ORT_LIBRARY", &c.ORTLibrary)
	str("AIDETECT_LOG_LEVEL", &c.LogLevel)

	for key, dst := range map[string]*int{
		"AIDETECT_BATCH_SIZE":     &c.BatchSize,
		"AIDETECT_NUM_THREADS":    &c.NumThreads,
		"AIDETECT_MAX_IMAGE_SIDE": &c.MaxImageSide,
		"AIDETECT_MAX_PIXELS":     &c.MaxPixels,
	} {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v, ok := os.LookupEnv("AIDETECT_MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("AIDETECT_MAX_UPLOAD_BYTES: %w", err)
		}
		c.MaxUploadBytes = n
	}
	if v, ok := os.LookupEnv("AIDETECT_REQUEST_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("AIDETECT_REQUEST_TIMEOUT: %w", err)
		}
		c.RequestTimeout = d
	}
	if v, ok := os.LookupEnv("AIDETECT_PRELOAD"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("AIDETECT_PRELOAD: %w", err)
		}
		c.Preload = b
	}
	return nil
}

func (c *Config) Validate() error {
	switch {
	case c.ModelPath == "":
		return errors.New("model_path is required")
	case c.MetadataPath == "":
		return errors.New("metadata_path is required")
	case c.BatchSize < 0:
		return fmt.Errorf("batch_size must not be negative, got %d", c.BatchSize)
	case c.MaxImageSide < 0:
		return fmt.Errorf("max_image_side must not be negative, got %d", c.MaxImageSide)
	case c.MaxPixels < 0:
		return fmt.Errorf("max_pixels must not be negative, got %d", c.MaxPixels)
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	_, err := ParseLevel(c.LogLevel)
	return err
}

func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", s)
	}
	return level, nil
}

// NewLogger builds the process logger at the configured level.
func (c *Config) NewLogger() *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
