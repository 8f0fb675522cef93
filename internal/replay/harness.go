package replay

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/reflexd/internal/engine"
	"github.com/danielpatrickdp/reflexd/internal/eval"
	"github.com/danielpatrickdp/reflexd/internal/policy"
)

// #region types

// TurnResult captures one replayed sample's outcome.
type TurnResult struct {
	TraceID      string
	Text         string
	Decision     policy.Kind
	Effective    policy.Kind
	ExpectReflex bool
	Agreed       bool // decision matched the label
}

// Summary aggregates a replay run alongside the evaluation report.
type Summary struct {
	Total     int
	Allowed   int
	Fallbacks int
	Blocks    int
	Agreement int
	Report    eval.Report
}

// #endregion types

// #region harness

// Run pushes every labeled sample through the engine (which must be in
// shadow mode for a pure offline run), labels the evaluator with the ground
// truth, and returns the resulting readiness report. This is the offline
// tuning loop for the production gate.
func Run(ctx context.Context, eng *engine.Engine, fixture Fixture) (Summary, []TurnResult, error) {
	results := make([]TurnResult, 0, len(fixture.Samples))
	var s Summary

	for i, unit := range fixture.Samples {
		res, err := eng.Analyze(ctx, engine.AnalyzeRequest{
			Text: unit.Text,
			Context: policy.Context{
				Mode:  unit.Mode,
				Tier:  unit.Tier,
				Extra: unit.Extra,
			},
			ActorID:  unit.ActorID,
			TenantID: unit.TenantID,
		})
		if err != nil {
			return Summary{}, nil, fmt.Errorf("sample %d: %w", i, err)
		}

		if err := eng.Label(ctx, res.TraceID, unit.ExpectReflex, false); err != nil {
			return Summary{}, nil, fmt.Errorf("label sample %d: %w", i, err)
		}

		allowed := res.Decision.Kind == policy.KindAllowReflex
		tr := TurnResult{
			TraceID:      res.TraceID,
			Text:         unit.Text,
			Decision:     res.Decision.Kind,
			Effective:    res.Effective,
			ExpectReflex: unit.ExpectReflex,
			Agreed:       allowed == unit.ExpectReflex,
		}
		results = append(results, tr)

		s.Total++
		switch res.Decision.Kind {
		case policy.KindAllowReflex:
			s.Allowed++
		case policy.KindFallback:
			s.Fallbacks++
		case policy.KindBlock:
			s.Blocks++
		}
		if tr.Agreed {
			s.Agreement++
		}
	}

	report, err := eng.Report(ctx)
	if err != nil {
		return Summary{}, nil, fmt.Errorf("report: %w", err)
	}
	s.Report = report

	return s, results, nil
}

// #endregion harness
