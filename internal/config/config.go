// Package config loads HAP's runtime configuration from a file, the
// environment, and defaults, grounded on tvarr's internal/config/config.go
// layering (viper with a prefixed env reader over SetDefault values).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mantonx/hap/internal/assemble"
	"github.com/mantonx/hap/internal/cache"
	"github.com/mantonx/hap/internal/mixer"
	"github.com/mantonx/hap/internal/orchestrator"
	"github.com/mantonx/hap/internal/reducer"
	"github.com/mantonx/hap/internal/tracing"
)

// Config holds every recognised HAP option (spec §6 configuration table).
type Config struct {
	Logging       LoggingConfig       `mapstructure:"logging"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Mixer         MixerConfig         `mapstructure:"mixer"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	WorkingDirRoot string             `mapstructure:"working_dir_root"`
	TransitionsDir string             `mapstructure:"transitions_dir"`
}

// TracingConfig controls OpenTelemetry trace export (SPEC_FULL.md §C).
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// LoggingConfig controls the root logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// PipelineConfig holds the Orchestrator/Assembler's tunables.
type PipelineConfig struct {
	Concurrency          int     `mapstructure:"concurrency"`
	CrossfadeFrames      int     `mapstructure:"crossfade_frames"`
	SegmentBufferSeconds float64 `mapstructure:"segment_buffer_seconds"`
	MergeGapSeconds      float64 `mapstructure:"merge_gap_seconds"`
	IntervalFadeMillis   int     `mapstructure:"interval_fade_millis"`
}

// CacheConfig holds the transcription cache's tunables.
type CacheConfig struct {
	Backend           string        `mapstructure:"backend"` // "sqlite" (default), "postgres", "redis"
	DSN               string        `mapstructure:"dsn"`
	RedisAddr         string        `mapstructure:"redis_addr"`
	RedisPassword     string        `mapstructure:"redis_password"`
	RedisDB           int           `mapstructure:"redis_db"`
	TranscriptTTLDays int           `mapstructure:"transcript_ttl_days"`
	MaxEntries        int           `mapstructure:"max_entries"`
}

// TTL returns the configured transcript TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TranscriptTTLDays) * 24 * time.Hour
}

// MixerConfig holds the synced-narration mixer's gain tunables.
type MixerConfig struct {
	DuckingFloor   float64 `mapstructure:"ducking_floor"`
	DuckingCeiling float64 `mapstructure:"ducking_ceiling"`
	NarrationGain  float64 `mapstructure:"narration_gain"`
	FinalGain      float64 `mapstructure:"final_gain"`
}

// ProvidersConfig lists the transcription providers in priority order.
type ProvidersConfig struct {
	Names       []string `mapstructure:"names"` // first is primary, rest fallback
	BaseURLs    map[string]string `mapstructure:"base_urls"`
	APIKeys     map[string]string `mapstructure:"api_keys"`
	RateHz      float64           `mapstructure:"rate_hz"`
}

// Load reads HAP's configuration from configPath (if non-empty), falling
// back to ./config.yaml, ./configs/config.yaml, /etc/hap/config.yaml, and
// $HOME/.hap/config.yaml, then layering HAP_-prefixed environment
// variables over whatever was found. A missing config file is not an
// error: defaults and environment variables are enough to run.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hap")
		v.AddConfigPath("$HOME/.hap")
	}

	v.SetEnvPrefix("HAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults installs every option's default (spec §6 table).
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)

	v.SetDefault("pipeline.concurrency", orchestrator.DefaultConcurrency)
	v.SetDefault("pipeline.crossfade_frames", assemble.CrossfadeFrames)
	v.SetDefault("pipeline.segment_buffer_seconds", reducer.DefaultBuffer)
	v.SetDefault("pipeline.merge_gap_seconds", reducer.DefaultMergeGap)
	v.SetDefault("pipeline.interval_fade_millis", 50)

	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.dsn", "hap-cache.db")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.transcript_ttl_days", int(cache.DefaultTTL/(24*time.Hour)))
	v.SetDefault("cache.max_entries", cache.DefaultMaxEntries)

	v.SetDefault("mixer.ducking_floor", mixer.DuckedFloorGain)
	v.SetDefault("mixer.ducking_ceiling", mixer.UnduckedFloor)
	v.SetDefault("mixer.narration_gain", mixer.NarrationGain)
	v.SetDefault("mixer.final_gain", mixer.FinalMixGain)

	v.SetDefault("providers.names", []string{})
	v.SetDefault("providers.rate_hz", 0.0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.service_name", "hap")

	v.SetDefault("working_dir_root", "")
	v.SetDefault("transitions_dir", "")
}

// ToTracingConfig maps a loaded Config onto tracing.Config.
func (c *Config) ToTracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:      c.Tracing.Enabled,
		OTLPEndpoint: c.Tracing.OTLPEndpoint,
		ServiceName:  c.Tracing.ServiceName,
	}
}

// ToOrchestratorOptions maps a loaded Config onto orchestrator.Options.
func (c *Config) ToOrchestratorOptions() orchestrator.Options {
	return orchestrator.Options{
		Concurrency:          c.Pipeline.Concurrency,
		CrossfadeFrames:      c.Pipeline.CrossfadeFrames,
		SegmentBufferSeconds: c.Pipeline.SegmentBufferSeconds,
		MergeGapSeconds:      c.Pipeline.MergeGapSeconds,
		TransitionsDir:       c.TransitionsDir,
		WorkingDirRoot:       c.WorkingDirRoot,
		IntervalFadeMillis:   c.Pipeline.IntervalFadeMillis,
		Mixer: mixer.Options{
			DuckingFloor:   c.Mixer.DuckingFloor,
			DuckingCeiling: c.Mixer.DuckingCeiling,
			NarrationGain:  c.Mixer.NarrationGain,
			FinalGain:      c.Mixer.FinalGain,
		},
	}
}
