// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Harvest HarvestConfig `mapstructure:"harvest"`
	ArXiv   ArXivConfig   `mapstructure:"arxiv"`
	Scholar ScholarConfig `mapstructure:"scholar"`
	Output  OutputConfig  `mapstructure:"output"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Ops     OpsConfig     `mapstructure:"ops"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// HarvestConfig selects the identifier range and worker count.
type HarvestConfig struct {
	YearMonth      string   `mapstructure:"year_month"`
	First          int      `mapstructure:"first"`
	Last           int      `mapstructure:"last"`
	Workers        int      `mapstructure:"workers"`
	KeepExtensions []string `mapstructure:"keep_extensions"`
}

// ArXivConfig governs the metadata-source client.
type ArXivConfig struct {
	DelayMs     int `mapstructure:"delay_ms"`
	MaxAttempts int `mapstructure:"max_attempts"`
	BackoffMs   int `mapstructure:"backoff_ms"`
}

// ScholarConfig governs the citation-source client.
type ScholarConfig struct {
	DelayMs     int    `mapstructure:"delay_ms"`
	CooldownMs  int    `mapstructure:"cooldown_ms"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	APIKey      string `mapstructure:"api_key"`
}

// OutputConfig selects the artifact destination.
type OutputConfig struct {
	Root      string `mapstructure:"root"`
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// MonitorConfig controls the per-job resource sampler.
type MonitorConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	IntervalMs int  `mapstructure:"interval_ms"`
}

// DBConfig enables the optional Postgres run ledger.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig enables the optional completion-event publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// OpsConfig enables the optional health/metrics endpoint. Zero disables it.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

var yearMonthPattern = regexp.MustCompile(`^\d{4}$`)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("harvest.workers", 1)
	v.SetDefault("arxiv.delay_ms", 3000)
	v.SetDefault("arxiv.max_attempts", 3)
	v.SetDefault("arxiv.backoff_ms", 7000)
	v.SetDefault("scholar.delay_ms", 1500)
	v.SetDefault("scholar.cooldown_ms", 8000)
	v.SetDefault("scholar.max_attempts", 3)
	v.SetDefault("output.root", "./data")
	v.SetDefault("output.backend", "fs")
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval_ms", 500)
	v.SetDefault("ops.port", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !yearMonthPattern.MatchString(c.Harvest.YearMonth) {
		return fmt.Errorf("harvest.year_month must be four digits (yymm)")
	}
	if c.Harvest.First < 1 {
		return fmt.Errorf("harvest.first must be >= 1")
	}
	if c.Harvest.Last < c.Harvest.First {
		return fmt.Errorf("harvest.last must be >= harvest.first")
	}
	if c.Harvest.Workers < 1 {
		return fmt.Errorf("harvest.workers must be >= 1")
	}
	if c.ArXiv.MaxAttempts < 1 || c.Scholar.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1")
	}
	switch c.Output.Backend {
	case "fs":
	case "gcs":
		if c.Output.GCSBucket == "" {
			return fmt.Errorf("output.gcs_bucket must be set when backend is gcs")
		}
	default:
		return fmt.Errorf("output.backend must be fs or gcs")
	}
	if c.Ops.Port < 0 {
		return fmt.Errorf("ops.port must be >= 0")
	}
	return nil
}

// ArXivDelay converts the configured metadata-client gap to a duration.
func (c Config) ArXivDelay() time.Duration {
	return time.Duration(c.ArXiv.DelayMs) * time.Millisecond
}

// ArXivBackoff converts the configured retry backoff to a duration.
func (c Config) ArXivBackoff() time.Duration {
	return time.Duration(c.ArXiv.BackoffMs) * time.Millisecond
}

// ScholarDelay converts the configured citation-client gap to a duration.
func (c Config) ScholarDelay() time.Duration {
	return time.Duration(c.Scholar.DelayMs) * time.Millisecond
}

// ScholarCooldown converts the configured 429 cooldown to a duration.
func (c Config) ScholarCooldown() time.Duration {
	return time.Duration(c.Scholar.CooldownMs) * time.Millisecond
}

// MonitorInterval converts the configured sample interval to a duration.
func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalMs) * time.Millisecond
}
