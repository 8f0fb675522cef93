package logging

import "time"

// #region decision-entry
// DecisionEntry is a single row in the decisions table and one structured
// log line. Raw text never appears here: InputFingerprint is a hash (or a
// short excerpt when privacy mode allows raw fingerprints).
type DecisionEntry struct {
	TraceID          string
	TenantID         string
	InputFingerprint string
	Decision         string // "allow_reflex" | "fallback" | "block"
	Confidence       float64
	PolicyLevel      string
	ScoresJSON       string
	MatchesJSON      string
	SafetyJSON       string
	Shadow           bool
	Mode             string // "dry_run" | "live" | "" when no action ran
	LatencyMs        int64
	CreatedAt        time.Time
}

// #endregion decision-entry
