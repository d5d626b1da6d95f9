// Package config loads adaptive-memory settings from defaults, a YAML or
// JSON file, ADAPTIVE_MEMORY_ environment variables and flag overrides.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the full application configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Learning  LearningConfig  `mapstructure:"learning"`
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite badger"`
	// Path is the SQLite file or the Badger directory.
	Path string `mapstructure:"path" validate:"required"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	Output string `mapstructure:"output"`
}

// RetrievalConfig tunes similarity search.
type RetrievalConfig struct {
	TopK           int     `mapstructure:"top_k" validate:"min=1"`
	RecencyWeight  float64 `mapstructure:"recency_weight" validate:"gte=0,lte=1"`
	CandidateLimit int     `mapstructure:"candidate_limit" validate:"min=1"`
	Workers        int     `mapstructure:"workers" validate:"min=1,max=64"`
	CacheSize      int64   `mapstructure:"cache_size" validate:"min=0"`
}

// MemoryConfig tunes consolidation and forgetting.
type MemoryConfig struct {
	ConsolidationThreshold float64 `mapstructure:"consolidation_threshold" validate:"gt=0,lte=1"`
	ForgetThreshold        float64 `mapstructure:"forget_threshold" validate:"gte=0,lte=1"`
	ForgetAgeDays          int     `mapstructure:"forget_age_days" validate:"min=1"`
	ForgetMinAccess        int     `mapstructure:"forget_min_access" validate:"min=0"`
}

// LearningConfig tunes the learning pipeline.
type LearningConfig struct {
	BaseRate          float64       `mapstructure:"base_rate" validate:"gt=0,lte=1"`
	RehearsalInterval time.Duration `mapstructure:"rehearsal_interval" validate:"gte=0"`
	ShortWindow       int           `mapstructure:"short_window" validate:"min=1"`
	MediumWindow      int           `mapstructure:"medium_window" validate:"gtefield=ShortWindow"`
	// WarmInteractions is how many stored interactions seed the behavioral windows at startup.
	WarmInteractions int `mapstructure:"warm_interactions" validate:"min=0"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit       float64       `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst       int           `mapstructure:"rate_burst" validate:"min=1"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
	// Addr serves metrics on a separate listener; empty mounts Path on the API router.
	Addr string `mapstructure:"addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   DefaultDBPath(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Retrieval: RetrievalConfig{
			TopK:           10,
			RecencyWeight:  0.3,
			CandidateLimit: 1000,
			Workers:        4,
			CacheSize:      10000,
		},
		Memory: MemoryConfig{
			ConsolidationThreshold: 0.8,
			ForgetThreshold:        0.1,
			ForgetAgeDays:          30,
			ForgetMinAccess:        3,
		},
		Learning: LearningConfig{
			BaseRate:          0.3,
			RehearsalInterval: time.Hour,
			ShortWindow:       20,
			MediumWindow:      100,
			WarmInteractions:  100,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimit:       20,
			RateBurst:       40,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// DefaultDBPath is ~/.adaptive-memory/memory.db.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".adaptive-memory", "memory.db")
}

// ForgetAge returns the forget age as a duration.
func (m MemoryConfig) ForgetAge() time.Duration {
	return time.Duration(m.ForgetAgeDays) * 24 * time.Hour
}
