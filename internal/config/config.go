package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// #region config

// Config is the full runtime configuration surface. Everything tunable lives
// here or in the optional YAML policy table; nothing requires a recompile.
type Config struct {
	DBPath         string `env:"REFLEXD_DB" envDefault:"reflexd.db"`
	ClassifierAddr string `env:"REFLEXD_CLASSIFIER_ADDR" envDefault:"localhost:50061"`

	// Shadow mode is the default posture: decisions are computed and logged
	// but never produce live side effects.
	ShadowMode bool `env:"REFLEXD_SHADOW" envDefault:"true"`

	PolicyLevel     string `env:"REFLEXD_POLICY_LEVEL" envDefault:"balanced"`
	PolicyTablePath string `env:"REFLEXD_POLICY_TABLE"`

	HashFingerprints bool `env:"REFLEXD_HASH_FINGERPRINTS" envDefault:"true"`

	// Safety guard.
	DeepTimeout     time.Duration `env:"REFLEXD_DEEP_TIMEOUT" envDefault:"2s"`
	BreakerFailures int           `env:"REFLEXD_BREAKER_FAILURES" envDefault:"5"`
	BreakerCooldown time.Duration `env:"REFLEXD_BREAKER_COOLDOWN" envDefault:"30s"`

	// Habit store.
	HabitQuorum       int           `env:"REFLEXD_HABIT_QUORUM" envDefault:"3"`
	HabitWindow       time.Duration `env:"REFLEXD_HABIT_WINDOW" envDefault:"168h"`
	HabitHalfLife     time.Duration `env:"REFLEXD_HABIT_HALF_LIFE" envDefault:"336h"`
	HabitRetention    time.Duration `env:"REFLEXD_HABIT_RETENTION" envDefault:"2160h"`
	HabitMinStrength  float64       `env:"REFLEXD_HABIT_MIN_STRENGTH" envDefault:"0.05"`
	HabitDefaultOptIn bool          `env:"REFLEXD_HABIT_OPT_IN_DEFAULT" envDefault:"false"`

	// Abuse tracker.
	AbuseWindow      time.Duration `env:"REFLEXD_ABUSE_WINDOW" envDefault:"15m"`
	AbuseMaxFailures int           `env:"REFLEXD_ABUSE_MAX_FAILURES" envDefault:"5"`

	// Action records.
	ActionRetention time.Duration `env:"REFLEXD_ACTION_RETENTION" envDefault:"720h"`

	// Shadow evaluation gate.
	EvalWindow     time.Duration `env:"REFLEXD_EVAL_WINDOW" envDefault:"168h"`
	EvalMinSamples int           `env:"REFLEXD_EVAL_MIN_SAMPLES" envDefault:"100"`
	EvalP95Budget  time.Duration `env:"REFLEXD_EVAL_P95_BUDGET" envDefault:"150ms"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// #endregion config
