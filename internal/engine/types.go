package engine

import (
	"github.com/danielpatrickdp/reflexd/internal/policy"
	"github.com/danielpatrickdp/reflexd/internal/safety"
	"github.com/danielpatrickdp/reflexd/internal/sandbox"
)

// #region config

// Config holds the engine-level knobs. Component-level tuning lives in each
// component's own config.
type Config struct {
	// ShadowMode forces the effective decision to fallback for side effects
	// while still computing and logging the full trace.
	ShadowMode bool

	PolicyLevel      policy.Level
	HashFingerprints bool

	// ActionForCategory maps a match category to the reflex action name to
	// execute when no habit suggests one.
	ActionForCategory map[string]string
}

// DefaultConfig returns the shadow-first engine defaults.
func DefaultConfig() Config {
	return Config{
		ShadowMode:       true,
		PolicyLevel:      policy.LevelBalanced,
		HashFingerprints: true,
	}
}

// #endregion config

// #region request

// AnalyzeRequest is one inbound input unit plus its context bundle.
type AnalyzeRequest struct {
	Text     string
	Context  policy.Context
	ActorID  string
	TenantID string
}

// #endregion request

// #region result

// AnalyzeResult is the full decision trace returned to the front-end.
// Effective is what the caller may act on; Decision is what the policy
// computed. They differ in shadow mode and when safety demotes a reflex.
type AnalyzeResult struct {
	TraceID          string
	Decision         policy.Decision
	Effective        policy.Kind
	Shadow           bool
	Safety           *safety.Result
	Action           *sandbox.ActionRecord
	ProcessingTimeMs int64
}

// #endregion result
