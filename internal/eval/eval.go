package eval

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS eval_samples (
	trace_id          TEXT PRIMARY KEY,
	decision          TEXT NOT NULL,
	latency_ms        INTEGER NOT NULL,
	decided_at        TEXT NOT NULL,
	should_reflex     INTEGER,
	privacy_violation INTEGER NOT NULL DEFAULT 0,
	labeled_at        TEXT
);
`

// #endregion schema

// #region evaluator

// Evaluator accumulates (decision, ground truth) pairs and computes the
// rolling-window accuracy metrics that gate production promotion.
type Evaluator struct {
	db      *sql.DB
	targets Targets

	now func() time.Time // injectable for tests
}

// NewEvaluator creates the sample table.
func NewEvaluator(db *sql.DB, targets Targets) (*Evaluator, error) {
	if targets.Window <= 0 {
		targets.Window = DefaultTargets().Window
	}
	if targets.MinSamples <= 0 {
		targets.MinSamples = DefaultTargets().MinSamples
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate eval samples: %w", err)
	}
	return &Evaluator{db: db, targets: targets, now: time.Now}, nil
}

// Record stores the decision-time half of a sample.
func (e *Evaluator) Record(ctx context.Context, s Sample) error {
	if s.DecidedAt.IsZero() {
		s.DecidedAt = e.now().UTC()
	}
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO eval_samples (trace_id, decision, latency_ms, decided_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(trace_id) DO NOTHING`,
		s.TraceID, s.Decision, s.LatencyMs, s.DecidedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record sample: %w", err)
	}
	return nil
}

// Label attaches ground truth to a recorded sample. Labels may arrive long
// after the decision; unlabeled samples stay out of the accuracy metrics.
func (e *Evaluator) Label(ctx context.Context, traceID string, shouldReflex, privacyViolation bool) error {
	res, err := e.db.ExecContext(ctx,
		`UPDATE eval_samples SET should_reflex = ?, privacy_violation = ?, labeled_at = ?
		 WHERE trace_id = ?`,
		boolInt(shouldReflex), boolInt(privacyViolation),
		e.now().UTC().Format(time.RFC3339Nano), traceID,
	)
	if err != nil {
		return fmt.Errorf("label sample: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("label sample: unknown trace %s", traceID)
	}
	return nil
}

// #endregion evaluator

// #region report

// Report computes precision, recall, false-positive rate, and p95 latency for
// allow_reflex decisions over the rolling window, then applies the readiness
// gate: every target met, zero privacy violations, and enough labeled samples.
func (e *Evaluator) Report(ctx context.Context) (Report, error) {
	now := e.now().UTC()
	floor := now.Add(-e.targets.Window).Format(time.RFC3339Nano)

	rows, err := e.db.QueryContext(ctx,
		`SELECT decision, latency_ms, should_reflex, privacy_violation
		 FROM eval_samples WHERE decided_at >= ?`, floor,
	)
	if err != nil {
		return Report{}, fmt.Errorf("report query: %w", err)
	}
	defer rows.Close()

	var (
		total, labeled, violations int
		tp, fp, fn, tn             int
		allowLatencies             []int64
	)
	for rows.Next() {
		var decision string
		var latencyMs int64
		var shouldReflex sql.NullInt64
		var violation int
		if err := rows.Scan(&decision, &latencyMs, &shouldReflex, &violation); err != nil {
			return Report{}, fmt.Errorf("scan sample: %w", err)
		}
		total++
		allow := decision == "allow_reflex"
		if allow {
			allowLatencies = append(allowLatencies, latencyMs)
		}
		if !shouldReflex.Valid {
			continue
		}
		labeled++
		if violation != 0 {
			violations++
		}
		truth := shouldReflex.Int64 != 0
		switch {
		case allow && truth:
			tp++
		case allow && !truth:
			fp++
		case !allow && truth:
			fn++
		default:
			tn++
		}
	}
	if err := rows.Err(); err != nil {
		return Report{}, fmt.Errorf("report rows: %w", err)
	}

	r := Report{
		Samples:           total,
		Labeled:           labeled,
		Precision:         ratio(tp, tp+fp),
		Recall:            ratio(tp, tp+fn),
		FalsePositiveRate: ratio(fp, fp+tn),
		P95LatencyMs:      percentile95(allowLatencies),
		PrivacyViolations: violations,
		ComputedAt:        now,
	}

	r.Ready = labeled >= e.targets.MinSamples &&
		r.Precision >= e.targets.MinPrecision &&
		r.Recall >= e.targets.MinRecall &&
		r.FalsePositiveRate <= e.targets.MaxFPRate &&
		r.P95LatencyMs <= e.targets.MaxP95Latency.Milliseconds() &&
		violations == 0

	return r, nil
}

// #endregion report

// #region helpers

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// percentile95 returns the p95 by nearest-rank over the latency sample.
func percentile95(latencies []int64) int64 {
	if len(latencies) == 0 {
		return 0
	}
	sorted := append([]int64(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := (95*len(sorted) + 99) / 100 // ceil(0.95 * n)
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
