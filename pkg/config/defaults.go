package config

import "time"

// DefaultConfig returns a configuration with reasonable defaults. The
// confidence and threshold values are starting points, not authoritative
// constants; deployments tune them through the yaml file.
func DefaultConfig() *Config {
	return &Config{
		Dispatch: DispatchConfig{
			TauFollow:             0.92,
			TauMix:                0.75,
			TieBreakWindow:        0.02,
			MaxConcurrentSubGoals: 4,
			ScanLimit:             20,
		},
		Confidence: ConfidenceConfig{
			Alpha:   0.25,
			Beta:    0.10,
			Initial: 0.50,
		},
		Crystallize: CrystallizeConfig{
			MinUsage:       4,
			MinSuccessRate: 0.95,
		},
		Deprecation: DeprecationConfig{
			MinUsage:       5,
			MaxFailureRate: 0.60,
		},
		Scorer: ScorerConfig{
			LexicalThreshold: 0.95,
			SimilarityWeight: 0.70,
			DraftCap:         0.70,
			Timeout:          15 * time.Second,
		},
		Learner: LearnerConfig{
			MaxSteps:    12,
			MaxTokens:   64000,
			MaxDuration: 5 * time.Minute,
		},
		Store: StoreConfig{
			Type:           "memory",
			EnableWAL:      true,
			MaxConnections: 10,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Outcome: OutcomeConfig{
			Sink:       "log",
			BufferSize: 128,
		},
	}
}
