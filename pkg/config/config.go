package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all static configuration for the parent process and is passed
// down to spawned workers through flags and environment.
type Config struct {
	DatabasePath string `mapstructure:"database_path"`
	LogLevel     string `mapstructure:"log_level"`
	LogJSON      bool   `mapstructure:"log_json"`
	MetricsAddr  string `mapstructure:"metrics_addr"`

	// TaggerCommand is the external command workers run per file. The ML
	// inference itself lives outside the core.
	TaggerCommand string `mapstructure:"tagger_command"`

	WorkerCounts         map[string]int `mapstructure:"worker_counts"`
	WorkerPollIntervalMS int            `mapstructure:"worker_poll_interval_ms"`
	WorkerHeartbeatMS    int            `mapstructure:"worker_heartbeat_ms"`

	HeartbeatStaleMS  int   `mapstructure:"heartbeat_stale_ms"`
	MonitorIntervalMS int   `mapstructure:"monitor_interval_ms"`
	BackoffScheduleMS []int `mapstructure:"backoff_schedule_ms"`
	RapidWindowMS     int   `mapstructure:"rapid_window_ms"`
	RapidThreshold    int   `mapstructure:"rapid_threshold"`
	ShutdownGraceMS   int   `mapstructure:"shutdown_grace_ms"`
	RetentionAgeMS    int64 `mapstructure:"retention_age_ms"`

	BrokerTickMS     int `mapstructure:"broker_tick_ms"`
	BrokerBufferSize int `mapstructure:"broker_buffer_size"`

	CalibrationMinSamples int `mapstructure:"calibration_min_samples"`

	StorageRetryAttempts  int `mapstructure:"storage_retry_attempts"`
	StorageRetryBackoffMS int `mapstructure:"storage_retry_backoff_ms"`
}

// Load reads configuration from nomarr.yml and environment variables.
// Priority: Env Vars > Config File > Defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database_path", "./data/nomarr.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("tagger_command", "")
	v.SetDefault("worker_counts", map[string]int{"tag": 1})
	v.SetDefault("worker_poll_interval_ms", 2000)
	v.SetDefault("worker_heartbeat_ms", 5000)
	v.SetDefault("heartbeat_stale_ms", 30000)
	v.SetDefault("monitor_interval_ms", 10000)
	v.SetDefault("backoff_schedule_ms", []int{1000, 2000, 4000, 8000, 16000, 32000, 60000})
	v.SetDefault("rapid_window_ms", 300000)
	v.SetDefault("rapid_threshold", 5)
	v.SetDefault("shutdown_grace_ms", 10000)
	v.SetDefault("retention_age_ms", int64(7*24*3600*1000))
	v.SetDefault("broker_tick_ms", 500)
	v.SetDefault("broker_buffer_size", 64)
	v.SetDefault("calibration_min_samples", 50)
	v.SetDefault("storage_retry_attempts", 3)
	v.SetDefault("storage_retry_backoff_ms", 100)

	v.SetConfigName("nomarr")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Missing config file is fine; defaults plus env vars apply.
	}

	v.SetEnvPrefix("NOMARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the relationships the supervisor depends on.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must be set")
	}
	if c.WorkerHeartbeatMS <= 0 {
		return fmt.Errorf("worker_heartbeat_ms must be positive")
	}
	// Stale detection needs several missed heartbeats of slack, otherwise a
	// briefly busy worker gets reaped mid-job.
	if c.HeartbeatStaleMS < 6*c.WorkerHeartbeatMS {
		return fmt.Errorf("heartbeat_stale_ms (%d) must be >= 6x worker_heartbeat_ms (%d)",
			c.HeartbeatStaleMS, c.WorkerHeartbeatMS)
	}
	if len(c.BackoffScheduleMS) == 0 {
		return fmt.Errorf("backoff_schedule_ms must not be empty")
	}
	if c.RapidThreshold <= 0 {
		return fmt.Errorf("rapid_threshold must be positive")
	}
	for queue, n := range c.WorkerCounts {
		if n < 0 {
			return fmt.Errorf("worker_counts[%s] must not be negative", queue)
		}
	}
	return nil
}
