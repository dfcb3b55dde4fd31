// Package config provides configuration loading and structs for the soilsense server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Models     ModelsConfig     `yaml:"models"`
	Preprocess PreprocessConfig `yaml:"preprocess"`
	Inference  InferenceConfig  `yaml:"inference"`
	History    HistoryConfig    `yaml:"history"`
	Output     OutputConfig     `yaml:"output"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ModelsConfig locates the nutrient model artifacts.
type ModelsConfig struct {
	Directory   string        `yaml:"directory"`
	Extensions  []string      `yaml:"extensions"`
	Watch       bool          `yaml:"watch"`
	LoadTimeout time.Duration `yaml:"load_timeout"`
	ONNX        ONNXConfig    `yaml:"onnx"`
}

// ONNXConfig holds onnxruntime settings shared by every ONNX model.
type ONNXConfig struct {
	SharedLibraryPath string `yaml:"shared_library_path"`
	InputName         string `yaml:"input_name"`
	OutputName        string `yaml:"output_name"`
}

// PreprocessConfig selects the preprocessing variant.
type PreprocessConfig struct {
	// LegacyWindowing reproduces the legacy smoothing; only for models calibrated on it.
	LegacyWindowing bool `yaml:"legacy_windowing"`
}

// InferenceConfig bounds model evaluation.
type InferenceConfig struct {
	EvalTimeout time.Duration `yaml:"eval_timeout"`
	MaxParallel int           `yaml:"max_parallel"`
}

// HistoryConfig holds reading history storage settings.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
}

// OutputConfig controls how estimates are reported.
type OutputConfig struct {
	DecimalPlaces *int `yaml:"decimal_places"`
}

// DecimalPlacesOrDefault returns the configured rounding; defaults to 4 when unset.
func (o *OutputConfig) DecimalPlacesOrDefault() int {
	if o.DecimalPlaces != nil {
		return *o.DecimalPlaces
	}
	return 4
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Models.Directory = expandPath(cfg.Models.Directory, configDir)
	if cfg.Models.ONNX.SharedLibraryPath != "" {
		cfg.Models.ONNX.SharedLibraryPath = expandPath(cfg.Models.ONNX.SharedLibraryPath, configDir)
	}
	if cfg.History.Driver == DriverSQLite && !strings.HasPrefix(cfg.History.DSN, "file:") && cfg.History.DSN != ":memory:" {
		cfg.History.DSN = expandPath(cfg.History.DSN, configDir)
	}

	return &cfg, nil
}

// Validate rejects settings that cannot be applied.
func Validate(cfg *Config) error {
	switch cfg.History.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported history driver %q", cfg.History.Driver)
	}
	if cfg.Inference.MaxParallel < 0 {
		return fmt.Errorf("inference.max_parallel must not be negative")
	}
	if cfg.Output.DecimalPlaces != nil && (*cfg.Output.DecimalPlaces < 0 || *cfg.Output.DecimalPlaces > 12) {
		return fmt.Errorf("output.decimal_places must be between 0 and 12")
	}
	return nil
}

// Save writes the config to path, creating its directory if needed.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
