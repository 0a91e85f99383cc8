package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/hap/internal/cache"
	"github.com/mantonx/hap/internal/mixer"
	"github.com/mantonx/hap/internal/orchestrator"
	"github.com/mantonx/hap/internal/tracing"
)

func TestLoad_AppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err, "a missing config file is not an error")

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, orchestrator.DefaultConcurrency, cfg.Pipeline.Concurrency)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, cache.DefaultMaxEntries, cfg.Cache.MaxEntries)
	assert.Equal(t, mixer.DuckedFloorGain, cfg.Mixer.DuckingFloor)
	assert.Equal(t, mixer.FinalMixGain, cfg.Mixer.FinalGain)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "hap", cfg.Tracing.ServiceName)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("HAP_LOGGING_LEVEL", "debug")
	t.Setenv("HAP_PIPELINE_CONCURRENCY", "9")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 9, cfg.Pipeline.Concurrency)
}

func TestCacheConfig_TTLConvertsDaysToDuration(t *testing.T) {
	c := CacheConfig{TranscriptTTLDays: 7}
	assert.Equal(t, 7*24*60*60, int(c.TTL().Seconds()))
}

func TestToOrchestratorOptions_MapsPipelineFields(t *testing.T) {
	cfg := &Config{
		Pipeline: PipelineConfig{
			Concurrency:          3,
			CrossfadeFrames:      15,
			SegmentBufferSeconds: 0.4,
			MergeGapSeconds:      0.6,
			IntervalFadeMillis:   75,
		},
		Mixer: MixerConfig{
			DuckingFloor:   0.1,
			DuckingCeiling: 0.6,
			NarrationGain:  1.8,
			FinalGain:      1.2,
		},
		TransitionsDir: "/transitions",
		WorkingDirRoot: "/work",
	}

	opts := cfg.ToOrchestratorOptions()
	assert.Equal(t, 3, opts.Concurrency)
	assert.Equal(t, 15, opts.CrossfadeFrames)
	assert.Equal(t, 0.4, opts.SegmentBufferSeconds)
	assert.Equal(t, 0.6, opts.MergeGapSeconds)
	assert.Equal(t, 75, opts.IntervalFadeMillis)
	assert.Equal(t, "/transitions", opts.TransitionsDir)
	assert.Equal(t, "/work", opts.WorkingDirRoot)
	assert.Equal(t, mixer.Options{DuckingFloor: 0.1, DuckingCeiling: 0.6, NarrationGain: 1.8, FinalGain: 1.2}, opts.Mixer)
}

func TestToTracingConfig_MapsTracingFields(t *testing.T) {
	cfg := &Config{
		Tracing: TracingConfig{
			Enabled:      true,
			OTLPEndpoint: "collector:4318",
			ServiceName:  "hap-render",
		},
	}

	assert.Equal(t, tracing.Config{Enabled: true, OTLPEndpoint: "collector:4318", ServiceName: "hap-render"}, cfg.ToTracingConfig())
}
