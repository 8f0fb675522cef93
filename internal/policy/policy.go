package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/reflexd/internal/match"
)

// #region table

// DefaultTable returns the built-in level configs. Runtime overrides come
// from LoadTable, never from recompiling.
func DefaultTable() Table {
	return Table{
		LevelStrict: {
			Weights:    Weights{Pattern: 0.45, Context: 0.15, History: 0.15, Abuse: 0.6},
			Thresholds: Thresholds{AllowReflex: 0.85, Block: 0.25, AbuseBlock: 0.5},
		},
		LevelBalanced: {
			Weights:    Weights{Pattern: 0.4, Context: 0.2, History: 0.25, Abuse: 0.5},
			Thresholds: Thresholds{AllowReflex: 0.7, Block: 0.2, AbuseBlock: 0.6},
		},
		LevelCreative: {
			Weights:    Weights{Pattern: 0.3, Context: 0.25, History: 0.3, Abuse: 0.4},
			Thresholds: Thresholds{AllowReflex: 0.6, Block: 0.15, AbuseBlock: 0.7},
		},
	}
}

// LoadTable reads a YAML policy table and overlays it on the defaults, so a
// partial file overriding one level leaves the others intact.
func LoadTable(path string) (Table, error) {
	table := DefaultTable()
	if path == "" {
		return table, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy table: %w", err)
	}
	overrides := Table{}
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse policy table: %w", err)
	}
	for level, cfg := range overrides {
		table[level] = cfg
	}
	return table, nil
}

// #endregion table

// #region policy

// Policy turns signal scores into a Decision using the level tables.
type Policy struct {
	table Table
}

// New creates a policy engine over a table.
func New(table Table) *Policy {
	if table == nil {
		table = DefaultTable()
	}
	return &Policy{table: table}
}

// Decide combines the four scores with the level's weights and applies its
// thresholds. The returned Decision carries the complete breakdown and the
// exact threshold values used, whichever branch is taken.
func (p *Policy) Decide(matches []match.Match, pctx Context, habitScore, abuseScore float64, level Level) Decision {
	cfg, ok := p.table[level]
	if !ok {
		level = LevelBalanced
		cfg = p.table[level]
	}

	scores := ScoreBreakdown{
		PatternScore: PatternScore(matches),
		ContextScore: ContextScore(pctx),
		HistoryScore: clamp(habitScore),
		AbuseScore:   clamp(abuseScore),
	}

	combined := cfg.Weights.Pattern*scores.PatternScore +
		cfg.Weights.Context*scores.ContextScore +
		cfg.Weights.History*scores.HistoryScore -
		cfg.Weights.Abuse*scores.AbuseScore
	combined = clamp(combined)

	matchIDs := make([]string, len(matches))
	for i, m := range matches {
		matchIDs[i] = m.PatternID
	}

	why := Why{
		Scores:     scores,
		MatchIDs:   matchIDs,
		Level:      level,
		Weights:    cfg.Weights,
		Thresholds: cfg.Thresholds,
		Combined:   combined,
	}

	switch {
	case combined >= cfg.Thresholds.AllowReflex:
		return Decision{Kind: KindAllowReflex, Confidence: combined, Why: why}
	case combined < cfg.Thresholds.Block && scores.AbuseScore >= cfg.Thresholds.AbuseBlock:
		return Decision{Kind: KindBlock, Confidence: scores.AbuseScore, Why: why}
	default:
		return Decision{Kind: KindFallback, Confidence: 1 - combined, Why: why}
	}
}

// #endregion policy

// #region scores

// PatternScore sums match weights with diminishing returns for repeated hits
// in the same category: the k-th repeat contributes weight/2^k. Capped at 1.
func PatternScore(matches []match.Match) float64 {
	seen := make(map[string]int)
	var sum float64
	for _, m := range matches {
		k := seen[m.Category]
		seen[m.Category] = k + 1
		sum += float64(m.Weight) / float64(int(1)<<uint(min(k, 30)))
	}
	return clamp(sum)
}

// ContextScore derives trust from the declared context fields.
func ContextScore(pctx Context) float64 {
	var score float64
	switch pctx.Tier {
	case "premium":
		score += 0.5
	case "authenticated":
		score += 0.35
	case "anonymous", "":
		score += 0.1
	default:
		score += 0.1
	}
	switch pctx.Mode {
	case "command":
		score += 0.5
	case "chat", "":
		score += 0.3
	case "creative":
		score += 0.1
	default:
		score += 0.2
	}
	return clamp(score)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion scores
