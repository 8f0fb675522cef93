package sandbox

import (
	"fmt"
	"time"
)

// #region mode

// Mode selects live execution or dry-run simulation.
type Mode string

const (
	ModeDryRun Mode = "dry_run"
	ModeLive   Mode = "live"
)

// #endregion mode

// #region op-type

// OpType classifies a side-effecting primitive an action may attempt.
type OpType string

const (
	OpNotify       OpType = "notify"
	OpLookup       OpType = "lookup"
	OpStateWrite   OpType = "state_write"
	OpExternalCall OpType = "external_call"
)

// #endregion op-type

// #region op-event

// OpEvent is one recorded side-effect attempt. In dry-run mode Performed is
// always false; the op was intercepted and recorded instead of executed.
type OpEvent struct {
	Op        OpType `json:"op"`
	Detail    string `json:"detail"`
	Performed bool   `json:"performed"`
}

// #endregion op-event

// #region status

// Status is the terminal state of an action execution.
type Status string

const (
	StatusOK        Status = "ok"
	StatusError     Status = "error"
	StatusViolation Status = "violation"
)

// #endregion status

// #region action-record

// ActionRecord is the persisted outcome of one execution attempt under one
// idempotency key.
type ActionRecord struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Action         string    `json:"action"`
	Payload        string    `json:"payload"`
	Mode           Mode      `json:"mode"`
	Status         Status    `json:"status"`
	Result         string    `json:"result"` // JSON-encoded op events / error detail
	CreatedAt      time.Time `json:"created_at"`

	// Replayed is set when the record was returned from the store instead of
	// a fresh execution. Not an error condition.
	Replayed bool `json:"replayed"`
}

// #endregion action-record

// #region violation-error

// ViolationError reports an action attempting a side effect outside its
// allowlist. Always fatal to the action, never retried automatically.
type ViolationError struct {
	Action string
	Op     OpType
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("sandbox violation: action %q attempted non-allowlisted op %q", e.Action, e.Op)
}

// #endregion violation-error
