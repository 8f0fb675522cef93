package logging

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id          TEXT NOT NULL,
	tenant_id         TEXT,
	input_fingerprint TEXT NOT NULL,
	decision          TEXT NOT NULL,
	confidence        REAL NOT NULL,
	policy_level      TEXT NOT NULL,
	scores_json       TEXT,
	matches_json      TEXT,
	safety_json       TEXT,
	shadow            INTEGER NOT NULL,
	mode              TEXT,
	latency_ms        INTEGER NOT NULL,
	created_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_trace ON decisions(trace_id);
`

// #endregion schema

// #region decision-log

// DecisionLog persists every decision and emits one structured JSON line per
// entry. Entries are append-only; nothing here mutates a logged decision.
type DecisionLog struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDecisionLog creates the decisions table. logger may be zap.NewNop() in
// tests.
func NewDecisionLog(db *sql.DB, logger *zap.Logger) (*DecisionLog, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate decisions: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionLog{db: db, logger: logger}, nil
}

// Log writes one decision row and the matching structured line.
func (l *DecisionLog) Log(entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.Exec(
		`INSERT INTO decisions (trace_id, tenant_id, input_fingerprint, decision, confidence, policy_level,
		  scores_json, matches_json, safety_json, shadow, mode, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TraceID,
		nullIfEmpty(entry.TenantID),
		entry.InputFingerprint,
		entry.Decision,
		entry.Confidence,
		entry.PolicyLevel,
		nullIfEmpty(entry.ScoresJSON),
		nullIfEmpty(entry.MatchesJSON),
		nullIfEmpty(entry.SafetyJSON),
		boolInt(entry.Shadow),
		nullIfEmpty(entry.Mode),
		entry.LatencyMs,
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}

	l.logger.Info("decision",
		zap.String("trace_id", entry.TraceID),
		zap.String("tenant_id", entry.TenantID),
		zap.String("fingerprint", entry.InputFingerprint),
		zap.String("decision", entry.Decision),
		zap.Float64("confidence", entry.Confidence),
		zap.String("policy_level", entry.PolicyLevel),
		zap.Bool("shadow", entry.Shadow),
		zap.String("mode", entry.Mode),
		zap.Int64("latency_ms", entry.LatencyMs),
	)
	return nil
}

// Recent returns the most recent decisions, newest first.
func (l *DecisionLog) Recent(limit int) ([]DecisionEntry, error) {
	rows, err := l.db.Query(
		`SELECT trace_id, tenant_id, input_fingerprint, decision, confidence, policy_level,
		        scores_json, matches_json, safety_json, shadow, mode, latency_ms, created_at
		 FROM decisions ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var entries []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		var tenant, scores, matches, safetyJSON, mode sql.NullString
		var shadow int
		var createdStr string
		if err := rows.Scan(&e.TraceID, &tenant, &e.InputFingerprint, &e.Decision, &e.Confidence,
			&e.PolicyLevel, &scores, &matches, &safetyJSON, &shadow, &mode, &e.LatencyMs, &createdStr); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.TenantID = tenant.String
		e.ScoresJSON = scores.String
		e.MatchesJSON = matches.String
		e.SafetyJSON = safetyJSON.String
		e.Shadow = shadow != 0
		e.Mode = mode.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// #endregion decision-log

// #region fingerprint

// Fingerprint derives the loggable identity of an input. With hashing on
// (the default privacy posture) it is a SHA-256 of the normalized text;
// otherwise a short excerpt.
func Fingerprint(normalized string, hash bool) string {
	if hash {
		sum := sha256.Sum256([]byte(normalized))
		return hex.EncodeToString(sum[:])
	}
	const maxExcerpt = 48
	if len(normalized) <= maxExcerpt {
		return normalized
	}
	cut := maxExcerpt
	for cut > 0 && normalized[cut]&0xC0 == 0x80 {
		cut--
	}
	return normalized[:cut]
}

// #endregion fingerprint

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
