package config

import (
	"os"
	"time"

	"github.com/XiaoConstantine/retrace-go/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration for the memoization layer. Thresholds and
// budgets always arrive through this struct; nothing reads ambient globals.
type Config struct {
	Dispatch    DispatchConfig    `yaml:"dispatch" validate:"required"`
	Confidence  ConfidenceConfig  `yaml:"confidence" validate:"required"`
	Crystallize CrystallizeConfig `yaml:"crystallize" validate:"required"`
	Deprecation DeprecationConfig `yaml:"deprecation" validate:"required"`
	Scorer      ScorerConfig      `yaml:"scorer" validate:"required"`
	Learner     LearnerConfig     `yaml:"learner" validate:"required"`
	Store       StoreConfig       `yaml:"store" validate:"required"`
	Logging     LoggingConfig     `yaml:"logging"`
	Outcome     OutcomeConfig     `yaml:"outcome"`
}

// DispatchConfig holds the mode selection thresholds.
type DispatchConfig struct {
	// TauFollow is the minimum confidence for deterministic replay.
	TauFollow float64 `yaml:"tau_follow" validate:"gt=0,lte=1"`

	// TauMix is the minimum confidence for guided replay.
	TauMix float64 `yaml:"tau_mix" validate:"gt=0,lte=1"`

	// TieBreakWindow is the score distance within which candidates are
	// considered tied and broken on usage count and recency.
	TieBreakWindow float64 `yaml:"tie_break_window" validate:"gte=0,lt=1"`

	// MaxConcurrentSubGoals bounds orchestrator fan-out.
	MaxConcurrentSubGoals int `yaml:"max_concurrent_sub_goals" validate:"gte=1"`

	// ScanLimit bounds the candidate pre-filter scan.
	ScanLimit int `yaml:"scan_limit" validate:"gte=1"`
}

// ConfidenceConfig controls the confidence update rule. Alpha must exceed
// Beta so confidence climbs faster than it falls on isolated failures but
// collapses under repeated failure.
type ConfidenceConfig struct {
	// Alpha is the gain on success: c += (1-c) * alpha.
	Alpha float64 `yaml:"alpha" validate:"gt=0,lt=1"`

	// Beta is the decay on failure: c *= (1-beta).
	Beta float64 `yaml:"beta" validate:"gt=0,lt=1"`

	// Initial is the confidence assigned to freshly recorded draft traces.
	Initial float64 `yaml:"initial" validate:"gt=0,lt=1"`
}

// CrystallizeConfig gates promotion to a compiled procedure.
type CrystallizeConfig struct {
	MinUsage       int     `yaml:"min_usage" validate:"gte=1"`
	MinSuccessRate float64 `yaml:"min_success_rate" validate:"gt=0,lte=1"`
}

// DeprecationConfig controls automatic exclusion of failing traces.
type DeprecationConfig struct {
	// MinUsage is the usage count below which a trace is never
	// auto-deprecated.
	MinUsage int `yaml:"min_usage" validate:"gte=1"`

	// MaxFailureRate deprecates a trace once 1 - success_rate exceeds it.
	MaxFailureRate float64 `yaml:"max_failure_rate" validate:"gt=0,lte=1"`
}

// ScorerConfig controls the two-tier similarity scorer.
type ScorerConfig struct {
	// LexicalThreshold is the token overlap above which the lexical tier
	// short-circuits without a model call.
	LexicalThreshold float64 `yaml:"lexical_threshold" validate:"gt=0,lte=1"`

	// SimilarityWeight blends judged similarity against the candidate's
	// own historical confidence.
	SimilarityWeight float64 `yaml:"similarity_weight" validate:"gt=0,lte=1"`

	// DraftCap bounds the score of draft traces until a replay validates
	// them. Keep below tau_follow.
	DraftCap float64 `yaml:"draft_cap" validate:"gt=0,lt=1"`

	// Timeout bounds the model tier; on expiry the scorer reports zero.
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// LearnerConfig bounds the model reasoning loop.
type LearnerConfig struct {
	MaxSteps    int           `yaml:"max_steps" validate:"gte=1"`
	MaxTokens   int           `yaml:"max_tokens" validate:"gte=1"`
	MaxDuration time.Duration `yaml:"max_duration" validate:"gt=0"`
}

// StoreConfig selects and tunes the trace store backend.
type StoreConfig struct {
	// Type of store: "memory" or "sqlite"
	Type string `yaml:"type" validate:"oneof=memory sqlite"`

	// SQLite specific configuration
	Path           string `yaml:"path,omitempty"`
	EnableWAL      bool   `yaml:"enable_wal,omitempty"`
	MaxConnections int    `yaml:"max_connections,omitempty" validate:"gte=0"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path,omitempty"`
}

// OutcomeConfig configures dispatch outcome reporting.
type OutcomeConfig struct {
	// Sink type: "log", "parquet" or "none"
	Sink string `yaml:"sink" validate:"omitempty,oneof=log parquet none"`

	// ParquetPath is the archive file for the parquet sink.
	ParquetPath string `yaml:"parquet_path,omitempty"`

	// BufferSize is the number of outcomes buffered per parquet row group.
	BufferSize int `yaml:"buffer_size,omitempty" validate:"gte=0"`
}

// Load reads configuration from a yaml file, applying defaults for absent
// sections, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to read config file"),
			errors.Fields{"path": path})
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to parse config file"),
			errors.Fields{"path": path})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
