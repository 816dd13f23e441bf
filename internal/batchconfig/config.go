// Package batchconfig loads and merges pipeline configuration from TOML
// files and environment variable overrides.
package batchconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ProviderConfig configures one search provider's pacing and breaker.
type ProviderConfig struct {
	Name             string  `toml:"name"`
	RatePerSecond    float64 `toml:"rate_per_second"`
	BreakerThreshold int     `toml:"breaker_threshold"`
	BreakerCooldown  string  `toml:"breaker_cooldown"`
	Endpoint         string  `toml:"endpoint"`
}

// GetBreakerCooldown parses BreakerCooldown, defaulting to 120s.
func (p ProviderConfig) GetBreakerCooldown() time.Duration {
	if p.BreakerCooldown == "" {
		return 120 * time.Second
	}
	d, err := time.ParseDuration(p.BreakerCooldown)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// VerifyThresholds configures one verification stage's accept/reject bands.
type VerifyThresholds struct {
	ClipAccept     float64 `toml:"clip_accept"`
	ClipReject     float64 `toml:"clip_reject"`
	BlipAccept     float64 `toml:"blip_accept"`
	BlipReject     float64 `toml:"blip_reject"`
	CombinedAccept float64 `toml:"combined_accept"`
	CombinedReject float64 `toml:"combined_reject"`
}

// PipelineConfig is the root configuration object for a batch run.
type PipelineConfig struct {
	Environment string `toml:"environment"`

	Workers        int    `toml:"workers"`
	ChunkSize      int    `toml:"chunk_size"`
	CheckpointEach int    `toml:"checkpoint_each"`
	RowTimeout     string `toml:"row_timeout"`
	MaxRetries     int    `toml:"max_retries"`

	MaxVerifyCandidates   int `toml:"max_verify_candidates"`
	MinCandidatesBeforeBest int `toml:"min_candidates_before_best"`
	MaxRecomposeAttempts  int `toml:"max_recompose_attempts"`

	SearchMaxResults         int    `toml:"search_max_results"`
	SearchSufficiencyCount   int    `toml:"search_sufficiency_count"`
	SearchPerProviderResults int    `toml:"search_per_provider_results"`
	InterProviderDelay       string `toml:"inter_provider_delay"`
	RowDelay                 string `toml:"row_delay"`
	DeadLetterPass           bool   `toml:"dead_letter_pass"`
	CacheEnabled             bool   `toml:"cache_enabled"`

	Storage struct {
		ProgressPath string `toml:"progress_path"`
		CachePath    string `toml:"cache_path"`
	} `toml:"storage"`

	Providers []ProviderConfig `toml:"providers"`

	Stage1 VerifyThresholds `toml:"stage1"`
	Stage2 VerifyThresholds `toml:"stage2"`

	Logging struct {
		Level string `toml:"level"`
	} `toml:"logging"`
}

// GetRowTimeout parses RowTimeout, defaulting to 300s (matches the
// original settings.py worker_timeout default).
func (c *PipelineConfig) GetRowTimeout() time.Duration {
	if c.RowTimeout == "" {
		return 300 * time.Second
	}
	d, err := time.ParseDuration(c.RowTimeout)
	if err != nil {
		return 300 * time.Second
	}
	return d
}

// GetInterProviderDelay parses InterProviderDelay, defaulting to 200ms.
func (c *PipelineConfig) GetInterProviderDelay() time.Duration {
	if c.InterProviderDelay == "" {
		return 200 * time.Millisecond
	}
	d, err := time.ParseDuration(c.InterProviderDelay)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

// GetRowDelay parses RowDelay, defaulting to 0 (no pacing).
func (c *PipelineConfig) GetRowDelay() time.Duration {
	if c.RowDelay == "" {
		return 0
	}
	d, err := time.ParseDuration(c.RowDelay)
	if err != nil {
		return 0
	}
	return d
}

// NewDefaultConfig returns the built-in defaults, mirroring the tunables
// surveyed from the original implementation's settings module.
func NewDefaultConfig() *PipelineConfig {
	cfg := &PipelineConfig{
		Environment:             "development",
		Workers:                 4,
		ChunkSize:               25,
		CheckpointEach:          5,
		RowTimeout:              "300s",
		MaxRetries:              2,
		MaxVerifyCandidates:     10,
		MinCandidatesBeforeBest: 3,
		MaxRecomposeAttempts:    3,
		SearchMaxResults:        15,
		SearchSufficiencyCount:  6,
		SearchPerProviderResults: 10,
		InterProviderDelay:      "200ms",
		DeadLetterPass:          true,
		CacheEnabled:            true,
	}
	cfg.Storage.ProgressPath = "./data/progress"
	cfg.Storage.CachePath = "./data/cache"
	cfg.Logging.Level = "info"
	cfg.Stage1 = VerifyThresholds{
		ClipAccept: 0.25, ClipReject: 0.15,
		BlipAccept: 0.30, BlipReject: 0.10,
		CombinedAccept: 0.25, CombinedReject: 0.12,
	}
	cfg.Stage2 = VerifyThresholds{
		ClipAccept: 0.18, ClipReject: 0.08,
		BlipAccept: 0.20, BlipReject: 0.05,
		CombinedAccept: 0.15, CombinedReject: 0.06,
	}
	return cfg
}

// LoadConfig loads and merges zero or more TOML files on top of the
// defaults, in order, then applies ADFORGE_* environment overrides.
func LoadConfig(paths ...string) (*PipelineConfig, error) {
	cfg := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides layers ADFORGE_* environment variables over the
// loaded config, mirroring the teacher's env-override-after-TOML idiom.
func applyEnvOverrides(cfg *PipelineConfig) {
	if v := os.Getenv("ADFORGE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("ADFORGE_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkSize = n
		}
	}
	if v := os.Getenv("ADFORGE_CHECKPOINT_EACH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CheckpointEach = n
		}
	}
	if v := os.Getenv("ADFORGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("ADFORGE_PROGRESS_PATH"); v != "" {
		cfg.Storage.ProgressPath = v
	}
	if v := os.Getenv("ADFORGE_CACHE_PATH"); v != "" {
		cfg.Storage.CachePath = v
	}
}
