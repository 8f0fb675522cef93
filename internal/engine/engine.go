package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/reflexd/internal/abuse"
	"github.com/danielpatrickdp/reflexd/internal/eval"
	"github.com/danielpatrickdp/reflexd/internal/habit"
	"github.com/danielpatrickdp/reflexd/internal/logging"
	"github.com/danielpatrickdp/reflexd/internal/match"
	"github.com/danielpatrickdp/reflexd/internal/policy"
	"github.com/danielpatrickdp/reflexd/internal/safety"
	"github.com/danielpatrickdp/reflexd/internal/sandbox"
	"github.com/danielpatrickdp/reflexd/internal/textnorm"
)

// #region engine

// Engine wires the pipeline: normalize → match → score → decide → safety →
// sandbox, with every decision recorded whether or not it is acted on.
type Engine struct {
	cfg     Config
	norm    *textnorm.Normalizer
	matcher *match.Handle
	guard   *safety.Guard
	habits  *habit.Store
	policy  *policy.Policy
	abuse   *abuse.Tracker
	sandbox *sandbox.Sandbox
	declog  *logging.DecisionLog
	eval    *eval.Evaluator
	logger  *zap.Logger
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Normalizer *textnorm.Normalizer
	Matcher    *match.Handle
	Guard      *safety.Guard
	Habits     *habit.Store
	Policy     *policy.Policy
	Abuse      *abuse.Tracker
	Sandbox    *sandbox.Sandbox
	Decisions  *logging.DecisionLog
	Evaluator  *eval.Evaluator
	Logger     *zap.Logger
}

// New assembles an engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.PolicyLevel == "" {
		cfg.PolicyLevel = policy.LevelBalanced
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		norm:    deps.Normalizer,
		matcher: deps.Matcher,
		guard:   deps.Guard,
		habits:  deps.Habits,
		policy:  deps.Policy,
		abuse:   deps.Abuse,
		sandbox: deps.Sandbox,
		declog:  deps.Decisions,
		eval:    deps.Evaluator,
		logger:  logger,
	}
}

// #endregion engine

// #region analyze

// Analyze runs one input unit through the full pipeline and returns the
// decision trace. Decode errors and sandbox violations are returned as
// explicit errors alongside whatever trace was produced; degraded safety
// infrastructure never surfaces as an error, only as a conservative verdict.
func (e *Engine) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResult, error) {
	start := time.Now()
	traceID := uuid.New().String()

	normalized, err := e.norm.Normalize(req.Text)
	if err != nil {
		e.logger.Warn("input rejected",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		return AnalyzeResult{TraceID: traceID, Shadow: e.cfg.ShadowMode}, err
	}

	matches := e.matcher.Find(normalized)
	cueHash := habit.HashCue(normalized)

	var habitScore float64
	var habitAction string
	if hs, err := e.habits.Score(ctx, cueHash); err != nil {
		e.logger.Warn("habit lookup failed", zap.String("trace_id", traceID), zap.Error(err))
	} else if hs != nil {
		habitScore = hs.Value
		habitAction = hs.Action
	}

	abuseScore := e.abuse.Score(req.ActorID)

	dec := e.policy.Decide(matches, req.Context, habitScore, abuseScore, e.cfg.PolicyLevel)

	result := AnalyzeResult{
		TraceID:  traceID,
		Decision: dec,
		Shadow:   e.cfg.ShadowMode,
	}
	effective := dec.Kind

	var violation error
	if dec.Kind == policy.KindAllowReflex {
		sr := e.guard.Check(ctx, normalized)
		result.Safety = &sr

		if sr.Verdict != safety.VerdictSafe {
			e.abuse.RecordFailure(req.ActorID)
			effective = policy.KindFallback
		} else {
			effective, violation = e.runReflex(ctx, &result, req, cueHash, habitAction, matches)
		}
	}

	if e.cfg.ShadowMode {
		// Shadow invariant: the externally actionable decision is always
		// fallback, regardless of what was computed above.
		effective = policy.KindFallback
	}
	result.Effective = effective
	result.ProcessingTimeMs = time.Since(start).Milliseconds()

	e.record(ctx, req, result, normalized, matches)

	return result, violation
}

// runReflex picks and executes the reflex action. The habit suggestion wins
// over the static category mapping. Returns the effective decision and any
// sandbox violation.
func (e *Engine) runReflex(ctx context.Context, result *AnalyzeResult, req AnalyzeRequest, cueHash, habitAction string, matches []match.Match) (policy.Kind, error) {
	action := habitAction
	if action == "" && len(matches) > 0 {
		action = e.cfg.ActionForCategory[matches[0].Category]
	}
	if action == "" {
		// Nothing to execute; a reflex with no action degenerates to fallback.
		return policy.KindFallback, nil
	}

	mode := sandbox.ModeLive
	if e.cfg.ShadowMode {
		mode = sandbox.ModeDryRun
	}

	key := idempotencyKey(req.TenantID, req.ActorID, cueHash, action, mode)
	payload, _ := json.Marshal(map[string]string{"cue_hash": cueHash, "mode": req.Context.Mode})

	rec, err := e.sandbox.Execute(ctx, action, string(payload), key, mode)
	if err != nil {
		if rec.IdempotencyKey != "" {
			result.Action = &rec
		}
		e.logger.Error("reflex action failed",
			zap.String("trace_id", result.TraceID),
			zap.String("action", action),
			zap.Error(err),
		)
		return policy.KindFallback, err
	}
	result.Action = &rec

	if mode == sandbox.ModeLive && rec.Status == sandbox.StatusOK && !rec.Replayed {
		if err := e.habits.Observe(ctx, cueHash, action, req.ActorID); err != nil {
			e.logger.Warn("habit observe failed", zap.String("trace_id", result.TraceID), zap.Error(err))
		}
	}
	return policy.KindAllowReflex, nil
}

// #endregion analyze

// #region record

// record writes the decision trace and the evaluation sample. Logging
// failures are reported but never fail the request.
func (e *Engine) record(ctx context.Context, req AnalyzeRequest, result AnalyzeResult, normalized string, matches []match.Match) {
	scoresJSON, _ := json.Marshal(result.Decision.Why)
	matchesJSON, _ := json.Marshal(matches)
	var safetyJSON string
	if result.Safety != nil {
		b, _ := json.Marshal(result.Safety)
		safetyJSON = string(b)
	}
	var mode string
	if result.Action != nil {
		mode = string(result.Action.Mode)
	}

	err := e.declog.Log(logging.DecisionEntry{
		TraceID:          result.TraceID,
		TenantID:         req.TenantID,
		InputFingerprint: logging.Fingerprint(normalized, e.cfg.HashFingerprints),
		Decision:         string(result.Decision.Kind),
		Confidence:       result.Decision.Confidence,
		PolicyLevel:      string(result.Decision.Why.Level),
		ScoresJSON:       string(scoresJSON),
		MatchesJSON:      string(matchesJSON),
		SafetyJSON:       safetyJSON,
		Shadow:           result.Shadow,
		Mode:             mode,
		LatencyMs:        result.ProcessingTimeMs,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		e.logger.Error("decision log failed", zap.String("trace_id", result.TraceID), zap.Error(err))
	}

	if err := e.eval.Record(ctx, eval.Sample{
		TraceID:   result.TraceID,
		Decision:  string(result.Decision.Kind),
		LatencyMs: result.ProcessingTimeMs,
	}); err != nil {
		e.logger.Error("eval record failed", zap.String("trace_id", result.TraceID), zap.Error(err))
	}
}

// #endregion record

// #region compliance

// ExportHabits returns an actor's habit-store footprint for a data-subject
// request.
func (e *Engine) ExportHabits(ctx context.Context, actorID string) (habit.ActorExport, error) {
	return e.habits.Export(ctx, actorID)
}

// DeleteHabits removes an actor's habit-store footprint.
func (e *Engine) DeleteHabits(ctx context.Context, actorID string) error {
	return e.habits.DeleteActor(ctx, actorID)
}

// SetOptIn records an actor's habit-learning consent.
func (e *Engine) SetOptIn(ctx context.Context, actorID string, optIn bool) error {
	return e.habits.SetOptIn(ctx, actorID, optIn)
}

// #endregion compliance

// #region maintenance

// Report computes the current shadow-evaluation report.
func (e *Engine) Report(ctx context.Context) (eval.Report, error) {
	return e.eval.Report(ctx)
}

// Label attaches ground truth to a logged decision.
func (e *Engine) Label(ctx context.Context, traceID string, shouldReflex, privacyViolation bool) error {
	return e.eval.Label(ctx, traceID, shouldReflex, privacyViolation)
}

// Sweep runs the TTL hard-deletes for habits and action records.
func (e *Engine) Sweep(ctx context.Context, actionRetention time.Duration) error {
	if _, err := e.habits.Sweep(ctx); err != nil {
		return err
	}
	_, err := e.sandbox.SweepRecords(ctx, actionRetention)
	return err
}

// RunSweeper sweeps on an interval until ctx is cancelled. Intended to be
// launched as a goroutine by the command wiring.
func (e *Engine) RunSweeper(ctx context.Context, interval, actionRetention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Sweep(ctx, actionRetention); err != nil {
				e.logger.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// #endregion maintenance

// #region helpers

// idempotencyKey derives a stable key so retries of the same input by the
// same actor dedupe within the record retention window. Mode is part of the
// key: a dry-run record from a shadow run must never satisfy a later live
// execution of the same input.
func idempotencyKey(tenantID, actorID, cueHash, action string, mode sandbox.Mode) string {
	sum := sha256.Sum256([]byte(tenantID + "|" + actorID + "|" + cueHash + "|" + action + "|" + string(mode)))
	return hex.EncodeToString(sum[:])
}

// #endregion helpers
