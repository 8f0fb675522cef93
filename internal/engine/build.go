package engine

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/reflexd/internal/abuse"
	"github.com/danielpatrickdp/reflexd/internal/config"
	"github.com/danielpatrickdp/reflexd/internal/eval"
	"github.com/danielpatrickdp/reflexd/internal/habit"
	"github.com/danielpatrickdp/reflexd/internal/logging"
	"github.com/danielpatrickdp/reflexd/internal/match"
	"github.com/danielpatrickdp/reflexd/internal/policy"
	"github.com/danielpatrickdp/reflexd/internal/safety"
	"github.com/danielpatrickdp/reflexd/internal/sandbox"
	"github.com/danielpatrickdp/reflexd/internal/storage"
	"github.com/danielpatrickdp/reflexd/internal/textnorm"
)

// #region default-patterns

// DefaultPatterns is the built-in reflex pattern set. Pattern text must
// already be in normalized form (lowercase, NFKC).
func DefaultPatterns() []match.Pattern {
	return []match.Pattern{
		{ID: "greet-hello", Category: "greeting", Text: "hello", Weight: 0.5},
		{ID: "greet-hi", Category: "greeting", Text: "hi there", Weight: 0.5},
		{ID: "greet-morning", Category: "greeting", Text: "good morning", Weight: 0.6},
		{ID: "thanks-plain", Category: "gratitude", Text: "thank you", Weight: 0.6},
		{ID: "thanks-short", Category: "gratitude", Text: "thanks", Weight: 0.5},
		{ID: "weather-query", Category: "weather", Text: "weather in", Weight: 0.7},
		{ID: "weather-forecast", Category: "weather", Text: "forecast for", Weight: 0.7},
		{ID: "time-query", Category: "time", Text: "what time is it", Weight: 0.8},
		{ID: "time-zone", Category: "time", Text: "time in", Weight: 0.6},
	}
}

// DefaultActionMap maps match categories to reflex actions.
func DefaultActionMap() map[string]string {
	return map[string]string{
		"greeting":  "canned_reply",
		"gratitude": "canned_reply",
		"weather":   "weather_lookup",
		"time":      "clock_reply",
	}
}

// RegisterDefaultActions installs the built-in reflex actions with their op
// allowlists.
func RegisterDefaultActions(sb *sandbox.Sandbox) {
	sb.Register("canned_reply", []sandbox.OpType{sandbox.OpNotify},
		func(ctx context.Context, ops *sandbox.Ops) error {
			return ops.Do(ctx, sandbox.OpNotify, "send canned reply", nil)
		})
	sb.Register("weather_lookup", []sandbox.OpType{sandbox.OpLookup, sandbox.OpNotify},
		func(ctx context.Context, ops *sandbox.Ops) error {
			if err := ops.Do(ctx, sandbox.OpLookup, "query weather cache", nil); err != nil {
				return err
			}
			return ops.Do(ctx, sandbox.OpNotify, "send weather summary", nil)
		})
	sb.Register("clock_reply", []sandbox.OpType{sandbox.OpNotify},
		func(ctx context.Context, ops *sandbox.Ops) error {
			return ops.Do(ctx, sandbox.OpNotify, "send local time", nil)
		})
}

// #endregion default-patterns

// #region bootstrap

// Bootstrap assembles a full engine from runtime configuration. deep may be
// nil when no classifier sidecar is reachable; escalated checks then resolve
// conservatively.
func Bootstrap(cfg config.Config, logger *zap.Logger, deep safety.DeepClassifier) (*Engine, *sql.DB, error) {
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}

	norm, err := textnorm.New(textnorm.DefaultConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("normalizer: %w", err)
	}

	automaton, err := match.Compile(DefaultPatterns(), match.DefaultLimits())
	if err != nil {
		return nil, nil, fmt.Errorf("compile patterns: %w", err)
	}

	guard := safety.NewGuard(safety.GuardConfig{
		DeepTimeout: cfg.DeepTimeout,
		Breaker: safety.BreakerConfig{
			FailureThreshold: cfg.BreakerFailures,
			Cooldown:         cfg.BreakerCooldown,
		},
	}, deep)

	habits, err := habit.NewStore(db, habit.Config{
		Quorum:         cfg.HabitQuorum,
		Window:         cfg.HabitWindow,
		HalfLife:       cfg.HabitHalfLife,
		RetentionTTL:   cfg.HabitRetention,
		MinStrength:    cfg.HabitMinStrength,
		ReinforceDelta: habit.DefaultConfig().ReinforceDelta,
		DefaultOptIn:   cfg.HabitDefaultOptIn,
	})
	if err != nil {
		return nil, nil, err
	}

	table, err := policy.LoadTable(cfg.PolicyTablePath)
	if err != nil {
		return nil, nil, err
	}

	sb, err := sandbox.New(db)
	if err != nil {
		return nil, nil, err
	}
	RegisterDefaultActions(sb)

	declog, err := logging.NewDecisionLog(db, logger)
	if err != nil {
		return nil, nil, err
	}

	targets := eval.DefaultTargets()
	targets.Window = cfg.EvalWindow
	targets.MinSamples = cfg.EvalMinSamples
	targets.MaxP95Latency = cfg.EvalP95Budget
	evaluator, err := eval.NewEvaluator(db, targets)
	if err != nil {
		return nil, nil, err
	}

	eng := New(Config{
		ShadowMode:        cfg.ShadowMode,
		PolicyLevel:       policy.Level(cfg.PolicyLevel),
		HashFingerprints:  cfg.HashFingerprints,
		ActionForCategory: DefaultActionMap(),
	}, Deps{
		Normalizer: norm,
		Matcher:    match.NewHandle(automaton),
		Guard:      guard,
		Habits:     habits,
		Policy:     policy.New(table),
		Abuse: abuse.NewTracker(abuse.Config{
			Window:      cfg.AbuseWindow,
			MaxFailures: cfg.AbuseMaxFailures,
		}),
		Sandbox:   sb,
		Decisions: declog,
		Evaluator: evaluator,
		Logger:    logger,
	})

	return eng, db, nil
}

// #endregion bootstrap
