package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, loaded from YAML with every field
// optional; absent fields take the defaults.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Idle      IdleConfig      `yaml:"idle"`
	Regions   []RegionConfig  `yaml:"regions" validate:"dive"`
	LogLevel  string          `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
}

// ServerConfig configures the HTTP API listener
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// StorageConfig configures the persistence layer
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// JobsConfig configures the job tracker
type JobsConfig struct {
	MaxHistory int `yaml:"max_history" validate:"gte=0"`
}

// ArtifactsConfig configures the artifact store
type ArtifactsConfig struct {
	MaxAge               time.Duration `yaml:"max_age" validate:"gte=0"`
	MaxTotalSizeBytes    int64         `yaml:"max_total_size_bytes" validate:"gte=0"`
	MaxPerJob            int           `yaml:"max_per_job" validate:"gte=0"`
	MaxArtifactSizeBytes int64         `yaml:"max_artifact_size_bytes" validate:"gte=0"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval" validate:"gte=0"`
	Persist              bool          `yaml:"persist"`
}

// IdleConfig configures the idle manager
type IdleConfig struct {
	IdleTimeout             time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	MinSleepDuration        time.Duration `yaml:"min_sleep_duration" validate:"gte=0"`
	WakeUpTime              time.Duration `yaml:"wake_up_time" validate:"gte=0"`
	DefaultCostPerHourCents int64         `yaml:"default_cost_per_hour_cents" validate:"gte=0"`
	CheckInterval           time.Duration `yaml:"check_interval" validate:"gte=0"`
}

// RegionConfig declares one region to watch for failover
type RegionConfig struct {
	RegionID          string        `yaml:"region_id" validate:"required"`
	BackupRegionID    string        `yaml:"backup_region_id" validate:"required,nefield=RegionID"`
	FailureThreshold  int           `yaml:"failure_threshold" validate:"gt=0"`
	CheckInterval     time.Duration `yaml:"check_interval" validate:"gt=0"`
	FailbackDelay     time.Duration `yaml:"failback_delay" validate:"gte=0"`
	RecoveryThreshold int           `yaml:"recovery_threshold" validate:"gt=0"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server:   ServerConfig{ListenAddr: ":8080"},
		Storage:  StorageConfig{DataDir: "/var/lib/flotilla"},
		LogLevel: "info",
	}
}

// Load reads and validates a YAML config file, applying defaults for
// absent fields
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
