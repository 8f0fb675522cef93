package policy

// #region level

// Level selects a weight/threshold table. Adding a level is a data change in
// the table, not a new code path.
type Level string

const (
	LevelStrict   Level = "strict"
	LevelBalanced Level = "balanced"
	LevelCreative Level = "creative"
)

// #endregion level

// #region weights

// Weights combines the four signal scores into one number. AbuseWeight is
// subtractive: abuse always lowers the combined score.
type Weights struct {
	Pattern float64 `yaml:"pattern" json:"pattern"`
	Context float64 `yaml:"context" json:"context"`
	History float64 `yaml:"history" json:"history"`
	Abuse   float64 `yaml:"abuse" json:"abuse"`
}

// Thresholds are the decision cut points for a level.
type Thresholds struct {
	AllowReflex float64 `yaml:"allow_reflex" json:"allow_reflex"`
	Block       float64 `yaml:"block" json:"block"`
	AbuseBlock  float64 `yaml:"abuse_block" json:"abuse_block"` // abuse score required to block
}

// LevelConfig is one row of the policy table.
type LevelConfig struct {
	Weights    Weights    `yaml:"weights" json:"weights"`
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`
}

// Table maps levels to their configs.
type Table map[Level]LevelConfig

// #endregion weights

// #region score-breakdown

// ScoreBreakdown carries each signal separately; nothing is aggregated away
// before logging.
type ScoreBreakdown struct {
	PatternScore float64 `json:"pattern_score"`
	ContextScore float64 `json:"context_score"`
	HistoryScore float64 `json:"history_score"`
	AbuseScore   float64 `json:"abuse_score"`
}

// #endregion score-breakdown

// #region decision

// Kind is the arbitration outcome.
type Kind string

const (
	KindAllowReflex Kind = "allow_reflex"
	KindFallback    Kind = "fallback"
	KindBlock       Kind = "block"
)

// Why is the full audit trail behind a decision: every score, every matched
// pattern, and the exact table row in force when the decision was made.
type Why struct {
	Scores     ScoreBreakdown `json:"scores"`
	MatchIDs   []string       `json:"match_ids"`
	Level      Level          `json:"level"`
	Weights    Weights        `json:"weights"`
	Thresholds Thresholds     `json:"thresholds"`
	Combined   float64        `json:"combined"`
}

// Decision is immutable once produced and is always logged, acted upon or not.
type Decision struct {
	Kind       Kind    `json:"kind"`
	Confidence float64 `json:"confidence"`
	Why        Why     `json:"why"`
}

// #endregion decision

// #region context

// Context is the conversational context bundle attached to an input unit.
type Context struct {
	Mode  string            // conversation-mode tag, e.g. "command", "chat", "creative"
	Tier  string            // user-tier tag, e.g. "anonymous", "authenticated", "premium"
	Extra map[string]string // optional arbitrary context
}

// #endregion context
