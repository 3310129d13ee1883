package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr                string  `json:"addr" yaml:"addr" toml:"addr"`
	PoolSize            int     `json:"pool_size" yaml:"pool_size" toml:"pool_size"`
	DetectModel         string  `json:"detect_model" yaml:"detect_model" toml:"detect_model"`
	RecognizeModel      string  `json:"recognize_model" yaml:"recognize_model" toml:"recognize_model"`
	ScoreThreshold      float64 `json:"score_threshold" yaml:"score_threshold" toml:"score_threshold"`
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold" toml:"similarity_threshold"`
	AlignSize           int     `json:"align_size" yaml:"align_size" toml:"align_size"`
	QueueCapacity       int     `json:"queue_capacity" yaml:"queue_capacity" toml:"queue_capacity"`
	DefaultLifetimeMin  int     `json:"default_lifetime_minutes" yaml:"default_lifetime_minutes" toml:"default_lifetime_minutes"`
	SweepIntervalSec    int     `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds" toml:"sweep_interval_seconds"`
	IdentityDir         string  `json:"identity_dir" yaml:"identity_dir" toml:"identity_dir"`
	LogLevel            string  `json:"log_level" yaml:"log_level" toml:"log_level"`
	StubBackend         bool    `json:"stub_backend" yaml:"stub_backend" toml:"stub_backend"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
