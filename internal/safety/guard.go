package safety

import (
	"context"
	"errors"
	"math"
	"regexp"
	"time"
)

// #region classifier-interface

// DeepClassifier abstracts the out-of-process semantic classifier so the guard
// can be tested without gRPC.
type DeepClassifier interface {
	Classify(ctx context.Context, text string) (Verdict, string, error)
}

// #endregion classifier-interface

// #region fast-rules

// fastUnsafe are lexical rules that block outright without escalation.
var fastUnsafe = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bignore (all )?(previous|prior) instructions\b`),
	regexp.MustCompile(`(?i)\b(disable|bypass) (the )?safety\b`),
	regexp.MustCompile(`(?i)\bexfiltrate\b`),
	regexp.MustCompile(`(?i)(rm\s+-rf\s+/|drop\s+table\s)`),
}

// fastSuspicious escalate to the deep tier rather than blocking.
var fastSuspicious = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsystem prompt\b`),
	regexp.MustCompile(`(?i)\bpretend (you are|to be)\b`),
	regexp.MustCompile(`(?i)base64[:,]`),
	regexp.MustCompile(`\\x[0-9a-fA-F]{2}`),
}

// #endregion fast-rules

// #region guard

// Guard is the two-tier safety check. The fast tier is pure and bounded; the
// deep tier wraps the classifier with a timeout and the circuit breaker.
type Guard struct {
	cfg     GuardConfig
	deep    DeepClassifier
	breaker *Breaker
}

// NewGuard creates a guard. deep may be nil, in which case escalations resolve
// conservatively to unsafe.
func NewGuard(cfg GuardConfig, deep DeepClassifier) *Guard {
	if cfg.DeepTimeout <= 0 {
		cfg.DeepTimeout = DefaultGuardConfig().DeepTimeout
	}
	if cfg.EntropyThreshold <= 0 {
		cfg.EntropyThreshold = DefaultGuardConfig().EntropyThreshold
	}
	if cfg.MinEntropyLen <= 0 {
		cfg.MinEntropyLen = DefaultGuardConfig().MinEntropyLen
	}
	return &Guard{
		cfg:     cfg,
		deep:    deep,
		breaker: NewBreaker(cfg.Breaker),
	}
}

// Breaker exposes the breaker for inspection.
func (g *Guard) Breaker() *Breaker {
	return g.breaker
}

// Check runs the fast tier and, only when it is inconclusive, the deep tier.
// Deep-tier failure of any kind resolves to unsafe; the guard never returns an
// error for a degraded classifier.
func (g *Guard) Check(ctx context.Context, text string) Result {
	verdict, reason := g.fastCheck(text)
	if verdict != VerdictUncertain {
		return Result{Verdict: verdict, Tier: TierFast, Reason: reason}
	}
	return g.deepCheck(ctx, text, reason)
}

// #endregion guard

// #region fast-tier

// fastCheck is deterministic and never blocks: lexical rules plus an entropy
// screen for obfuscated payloads.
func (g *Guard) fastCheck(text string) (Verdict, string) {
	for _, re := range fastUnsafe {
		if re.MatchString(text) {
			return VerdictUnsafe, "lexical rule: " + re.String()
		}
	}
	for _, re := range fastSuspicious {
		if re.MatchString(text) {
			return VerdictUncertain, "suspicious pattern: " + re.String()
		}
	}
	if ent, n := shannonEntropy(text); n >= g.cfg.MinEntropyLen && ent > g.cfg.EntropyThreshold {
		return VerdictUncertain, "high entropy payload"
	}
	return VerdictSafe, "fast tier clean"
}

// #endregion fast-tier

// #region deep-tier

// deepCheck wraps the classifier call with the breaker and an explicit
// timeout. Every admitted call records its outcome on the breaker, even when
// the caller's context was cancelled first.
func (g *Guard) deepCheck(ctx context.Context, text, escalation string) Result {
	if g.deep == nil {
		return Result{
			Verdict:      VerdictUnsafe,
			Tier:         TierDeep,
			Reason:       "no deep classifier configured: " + escalation,
			ShortCircuit: true,
		}
	}
	if !g.breaker.Allow() {
		return Result{
			Verdict:      VerdictUnsafe,
			Tier:         TierDeep,
			Reason:       ErrCircuitOpen.Error(),
			ShortCircuit: true,
		}
	}

	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, g.cfg.DeepTimeout)
	defer cancel()

	verdict, reason, err := g.deep.Classify(cctx, text)
	elapsed := time.Since(start)

	if err != nil {
		r := Result{
			Verdict:     VerdictUnsafe,
			Tier:        TierDeep,
			DeepElapsed: elapsed,
		}
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			g.breaker.Record(false)
			r.Reason = ErrSafetyTimeout.Error()
			r.ShortCircuit = true
		case errors.Is(err, context.Canceled):
			// The caller went away; that says nothing about classifier
			// health, so the admitted slot is released without an outcome.
			g.breaker.Release()
			r.Reason = "caller cancelled deep check"
		default:
			g.breaker.Record(false)
			r.Reason = "deep classifier error: " + err.Error()
		}
		return r
	}

	g.breaker.Record(true)
	if verdict == VerdictUncertain || verdict == VerdictUnsafe {
		// Uncertain from the deep tier resolves conservatively.
		return Result{Verdict: VerdictUnsafe, Tier: TierDeep, Reason: reason, DeepElapsed: elapsed}
	}
	return Result{Verdict: VerdictSafe, Tier: TierDeep, Reason: reason, DeepElapsed: elapsed}
}

// #endregion deep-tier

// #region entropy

// shannonEntropy computes bits per rune over the rune distribution and the
// rune count.
func shannonEntropy(text string) (float64, int) {
	counts := make(map[rune]int)
	n := 0
	for _, r := range text {
		counts[r]++
		n++
	}
	if n == 0 {
		return 0, 0
	}
	var ent float64
	for _, c := range counts {
		p := float64(c) / float64(n)
		ent -= p * math.Log2(p)
	}
	return ent, n
}

// #endregion entropy
