package sandbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS action_records (
	idempotency_key TEXT PRIMARY KEY,
	action          TEXT NOT NULL,
	payload         TEXT NOT NULL,
	mode            TEXT NOT NULL,
	status          TEXT NOT NULL,
	result          TEXT,
	created_at      TEXT NOT NULL
);
`

// #endregion schema

// #region action

// ActionFunc is the body of a registered action. All side effects must go
// through ops; direct I/O from an action body defeats the sandbox.
type ActionFunc func(ctx context.Context, ops *Ops) error

type registration struct {
	fn      ActionFunc
	allowed map[OpType]bool
}

// #endregion action

// #region ops

// Ops is the side-effect broker handed to an action body. It enforces the
// allowlist and intercepts everything in dry-run mode.
type Ops struct {
	action    string
	mode      Mode
	allowed   map[OpType]bool
	events    []OpEvent
	violation *ViolationError // first non-allowlisted op, fatal to the action
}

// Do requests one side-effecting primitive. A non-allowlisted op is recorded
// as a violation and returns a ViolationError; the violation is fatal to the
// action even if the body discards the error. In dry-run mode allowlisted ops
// are recorded as "would have executed" and live is never invoked.
func (o *Ops) Do(ctx context.Context, op OpType, detail string, live func(ctx context.Context) error) error {
	if !o.allowed[op] {
		v := &ViolationError{Action: o.action, Op: op}
		if o.violation == nil {
			o.violation = v
		}
		return v
	}
	if o.mode == ModeDryRun {
		o.events = append(o.events, OpEvent{Op: op, Detail: detail, Performed: false})
		return nil
	}
	if live != nil {
		if err := live(ctx); err != nil {
			return fmt.Errorf("op %s: %w", op, err)
		}
	}
	o.events = append(o.events, OpEvent{Op: op, Detail: detail, Performed: true})
	return nil
}

// Events returns the recorded op trail.
func (o *Ops) Events() []OpEvent {
	return o.events
}

// #endregion ops

// #region sandbox

// Sandbox executes registered actions with at-most-once semantics per
// idempotency key within the record retention window.
type Sandbox struct {
	db      *sql.DB
	actions map[string]registration
	group   singleflight.Group

	now func() time.Time // injectable for tests
}

// New creates the record table and an empty registry.
func New(db *sql.DB) (*Sandbox, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate action records: %w", err)
	}
	return &Sandbox{
		db:      db,
		actions: make(map[string]registration),
		now:     time.Now,
	}, nil
}

// Register adds an action with its op allowlist. Later registrations under
// the same name replace earlier ones.
func (s *Sandbox) Register(name string, allowed []OpType, fn ActionFunc) {
	m := make(map[OpType]bool, len(allowed))
	for _, op := range allowed {
		m[op] = true
	}
	s.actions[name] = registration{fn: fn, allowed: m}
}

// #endregion sandbox

// #region execute

// Execute runs an action under an idempotency key. A key already present in
// the store short-circuits to the prior record. Concurrent calls sharing a
// key collapse through singleflight before the atomic check-then-insert, so
// the action body runs at most once either way.
func (s *Sandbox) Execute(ctx context.Context, action, payload, key string, mode Mode) (ActionRecord, error) {
	if key == "" {
		return ActionRecord{}, errors.New("empty idempotency key")
	}

	v, err, shared := s.group.Do(key, func() (any, error) {
		return s.executeOnce(ctx, action, payload, key, mode)
	})
	if err != nil {
		// Violations carry a usable record alongside the error.
		if rec, ok := v.(ActionRecord); ok {
			return rec, err
		}
		return ActionRecord{}, err
	}
	rec := v.(ActionRecord)
	if shared {
		rec.Replayed = true
	}
	return rec, nil
}

func (s *Sandbox) executeOnce(ctx context.Context, action, payload, key string, mode Mode) (ActionRecord, error) {
	reg, ok := s.actions[action]
	if !ok {
		return ActionRecord{}, fmt.Errorf("unknown action %q", action)
	}

	now := s.now().UTC()
	nowStr := now.Format(time.RFC3339Nano)

	// Atomic check-then-insert: the conflict clause makes exactly one caller
	// the owner of the key; everyone else reads the stored record back.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO action_records (idempotency_key, action, payload, mode, status, result, created_at)
		 VALUES (?, ?, ?, ?, 'pending', NULL, ?)
		 ON CONFLICT(idempotency_key) DO NOTHING`,
		key, action, payload, string(mode), nowStr,
	)
	if err != nil {
		return ActionRecord{}, fmt.Errorf("claim key: %w", err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return ActionRecord{}, fmt.Errorf("claim key: %w", err)
	}
	if claimed == 0 {
		rec, err := s.Lookup(ctx, key)
		if err != nil {
			return ActionRecord{}, err
		}
		rec.Replayed = true
		return rec, nil
	}

	ops := &Ops{action: action, mode: mode, allowed: reg.allowed}
	runErr := reg.fn(ctx, ops)

	status := StatusOK
	resultJSON, _ := json.Marshal(ops.Events())
	result := string(resultJSON)

	// The violation noted on ops takes precedence over whatever the body
	// returned: a swallowed Do error must not launder the record to ok.
	violation := ops.violation
	if violation == nil {
		errors.As(runErr, &violation)
	}
	switch {
	case violation != nil:
		status = StatusViolation
		result = violation.Error()
	case runErr != nil:
		status = StatusError
		result = runErr.Error()
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE action_records SET status = ?, result = ? WHERE idempotency_key = ?`,
		string(status), result, key,
	); err != nil {
		return ActionRecord{}, fmt.Errorf("finalize record: %w", err)
	}

	rec := ActionRecord{
		IdempotencyKey: key,
		Action:         action,
		Payload:        payload,
		Mode:           mode,
		Status:         status,
		Result:         result,
		CreatedAt:      now,
	}
	if status == StatusViolation {
		return rec, violation
	}
	return rec, nil
}

// #endregion execute

// #region lookup

// Lookup reads a stored record by key.
func (s *Sandbox) Lookup(ctx context.Context, key string) (ActionRecord, error) {
	var rec ActionRecord
	var mode, status, createdStr string
	var result sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT idempotency_key, action, payload, mode, status, result, created_at
		 FROM action_records WHERE idempotency_key = ?`, key,
	).Scan(&rec.IdempotencyKey, &rec.Action, &rec.Payload, &mode, &status, &result, &createdStr)
	if err != nil {
		return ActionRecord{}, fmt.Errorf("lookup record %s: %w", key, err)
	}
	rec.Mode = Mode(mode)
	rec.Status = Status(status)
	if result.Valid {
		rec.Result = result.String
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// SweepRecords hard-deletes records older than the retention window.
func (s *Sandbox) SweepRecords(ctx context.Context, retention time.Duration) (int64, error) {
	floor := s.now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM action_records WHERE created_at < ?`, floor,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// #endregion lookup
