package safety

import (
	"errors"
	"time"
)

// #region verdict

// Verdict is the outcome of a safety check.
type Verdict string

const (
	VerdictSafe      Verdict = "safe"
	VerdictUnsafe    Verdict = "unsafe"
	VerdictUncertain Verdict = "uncertain"
)

// #endregion verdict

// #region tier

// Tier identifies which check produced a verdict.
type Tier string

const (
	TierFast Tier = "fast"
	TierDeep Tier = "deep"
)

// #endregion tier

// #region result

// Result is the resolved verdict plus provenance. An uncertain deep verdict is
// already resolved to unsafe by the guard; Verdict is what callers act on.
type Result struct {
	Verdict Verdict `json:"verdict"`
	Tier    Tier    `json:"tier"`
	Reason  string  `json:"reason"`

	// Deep-tier telemetry. ShortCircuit is set whenever a timeout or the
	// breaker cut the check short; zero elapsed alongside it means the call
	// was skipped entirely.
	DeepElapsed  time.Duration `json:"deep_elapsed_ns"`
	ShortCircuit bool          `json:"short_circuit"`
}

// #endregion result

// #region errors

// ErrSafetyTimeout marks a deep check that exceeded its budget. Resolved to a
// conservative unsafe verdict, never propagated to the request.
var ErrSafetyTimeout = errors.New("deep safety check timed out")

// ErrCircuitOpen marks a deep check skipped because the breaker is open.
var ErrCircuitOpen = errors.New("safety circuit breaker open")

// #endregion errors

// #region config

// GuardConfig holds fast-tier heuristics and deep-tier budgets.
type GuardConfig struct {
	DeepTimeout time.Duration
	Breaker     BreakerConfig

	// Entropy gate: strings at least MinEntropyLen runes long whose Shannon
	// entropy exceeds EntropyThreshold bits/rune look like obfuscated
	// payloads and escalate to the deep tier.
	EntropyThreshold float64
	MinEntropyLen    int
}

// DefaultGuardConfig returns the production guard settings.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		DeepTimeout:      2 * time.Second,
		Breaker:          DefaultBreakerConfig(),
		EntropyThreshold: 4.5,
		MinEntropyLen:    24,
	}
}

// #endregion config
