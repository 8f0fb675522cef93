package eval

import "time"

// #region targets
// Targets is the production-readiness gate. All conditions must hold
// simultaneously over the rolling window; the gate is recomputed on every
// report, never checked once and cached.
type Targets struct {
	MinPrecision   float64
	MinRecall      float64
	MaxFPRate      float64
	MaxP95Latency  time.Duration
	MinSamples     int
	Window         time.Duration
}

// DefaultTargets returns the rollout gate from the shadow-evaluation plan.
func DefaultTargets() Targets {
	return Targets{
		MinPrecision:  0.95,
		MinRecall:     0.80,
		MaxFPRate:     0.05,
		MaxP95Latency: 150 * time.Millisecond,
		MinSamples:    100,
		Window:        7 * 24 * time.Hour,
	}
}

// #endregion targets

// #region sample
// Sample is the decision-time half of an evaluation pair. Ground truth
// arrives later through Label.
type Sample struct {
	TraceID   string
	Decision  string // "allow_reflex" | "fallback" | "block"
	LatencyMs int64
	DecidedAt time.Time
}

// #endregion sample

// #region report
// Report is one evaluation of the rolling window. Metrics treat allow_reflex
// as the positive class against the labeled ground truth.
type Report struct {
	Samples           int     `json:"samples"`
	Labeled           int     `json:"labeled"`
	Precision         float64 `json:"precision"`
	Recall            float64 `json:"recall"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	P95LatencyMs      int64   `json:"p95_latency_ms"`
	PrivacyViolations int     `json:"privacy_violations"`
	Ready             bool    `json:"ready"`
	ComputedAt        time.Time `json:"computed_at"`
}

// #endregion report
