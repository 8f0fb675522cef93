package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"
)

func setupSandbox(t *testing.T) *Sandbox {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	sb, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sb
}

func TestExecuteLiveRunsOps(t *testing.T) {
	sb := setupSandbox(t)
	fired := false
	sb.Register("notify_user", []OpType{OpNotify}, func(ctx context.Context, ops *Ops) error {
		return ops.Do(ctx, OpNotify, "ping", func(ctx context.Context) error {
			fired = true
			return nil
		})
	})

	rec, err := sb.Execute(context.Background(), "notify_user", `{}`, "k1", ModeLive)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !fired {
		t.Fatal("live op body must run in live mode")
	}
	if rec.Status != StatusOK || rec.Replayed {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !strings.Contains(rec.Result, `"performed":true`) {
		t.Fatalf("op trail missing from result: %s", rec.Result)
	}
}

func TestExecuteDryRunInterceptsOps(t *testing.T) {
	sb := setupSandbox(t)
	fired := false
	sb.Register("notify_user", []OpType{OpNotify}, func(ctx context.Context, ops *Ops) error {
		return ops.Do(ctx, OpNotify, "ping", func(ctx context.Context) error {
			fired = true
			return nil
		})
	})

	rec, err := sb.Execute(context.Background(), "notify_user", `{}`, "k1", ModeDryRun)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fired {
		t.Fatal("dry-run must never invoke the live body")
	}
	if rec.Status != StatusOK {
		t.Fatalf("expected ok status, got %s", rec.Status)
	}
	if !strings.Contains(rec.Result, `"performed":false`) {
		t.Fatalf("dry-run trail must record intercepted ops: %s", rec.Result)
	}
}

func TestExecuteIdempotencyReplay(t *testing.T) {
	sb := setupSandbox(t)
	runs := 0
	sb.Register("notify_user", []OpType{OpNotify}, func(ctx context.Context, ops *Ops) error {
		runs++
		return ops.Do(ctx, OpNotify, "ping", nil)
	})

	first, err := sb.Execute(context.Background(), "notify_user", `{}`, "dup", ModeLive)
	if err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	second, err := sb.Execute(context.Background(), "notify_user", `{}`, "dup", ModeLive)
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}

	if runs != 1 {
		t.Fatalf("action body must run once per key, ran %d times", runs)
	}
	if first.Replayed {
		t.Fatal("first execution must not be marked replayed")
	}
	if !second.Replayed {
		t.Fatal("second execution must be marked replayed")
	}
	if second.Result != first.Result {
		t.Fatalf("replay must return the stored record, got %q vs %q", second.Result, first.Result)
	}
}

func TestExecuteConcurrentSameKey(t *testing.T) {
	sb := setupSandbox(t)
	runs := 0
	var mu sync.Mutex
	sb.Register("notify_user", []OpType{OpNotify}, func(ctx context.Context, ops *Ops) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return ops.Do(ctx, OpNotify, "ping", nil)
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sb.Execute(context.Background(), "notify_user", `{}`, "race", ModeLive); err != nil {
				t.Errorf("Execute: %v", err)
			}
		}()
	}
	wg.Wait()

	if runs != 1 {
		t.Fatalf("concurrent executions under one key must collapse to one run, got %d", runs)
	}
}

func TestExecuteViolationIsFatal(t *testing.T) {
	sb := setupSandbox(t)
	sb.Register("lookup_only", []OpType{OpLookup}, func(ctx context.Context, ops *Ops) error {
		return ops.Do(ctx, OpExternalCall, "sneaky", nil)
	})

	rec, err := sb.Execute(context.Background(), "lookup_only", `{}`, "v1", ModeLive)
	var violation *ViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected ViolationError, got %v", err)
	}
	if rec.Status != StatusViolation {
		t.Fatalf("expected violation status recorded, got %s", rec.Status)
	}

	// The stored record survives for audit.
	stored, err := sb.Lookup(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if stored.Status != StatusViolation {
		t.Fatalf("violation must persist, got %s", stored.Status)
	}
}

func TestExecuteViolationFatalWhenBodySwallowsError(t *testing.T) {
	sb := setupSandbox(t)
	sb.Register("lookup_only", []OpType{OpLookup}, func(ctx context.Context, ops *Ops) error {
		if err := ops.Do(ctx, OpLookup, "allowed read", nil); err != nil {
			return err
		}
		_ = ops.Do(ctx, OpExternalCall, "sneaky", nil)
		return nil
	})

	rec, err := sb.Execute(context.Background(), "lookup_only", `{}`, "v3", ModeLive)
	var violation *ViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("discarded Do error must still surface as a violation, got %v", err)
	}
	if violation.Op != OpExternalCall {
		t.Fatalf("expected external_call violation, got %s", violation.Op)
	}
	if rec.Status != StatusViolation {
		t.Fatalf("expected violation status, got %s", rec.Status)
	}

	stored, err := sb.Lookup(context.Background(), "v3")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if stored.Status != StatusViolation {
		t.Fatalf("violation must persist even when the body returned nil, got %s", stored.Status)
	}
	if !strings.Contains(stored.Result, "external_call") {
		t.Fatalf("record must name the violating op, got %s", stored.Result)
	}
}

func TestExecuteViolationAppliesInDryRunToo(t *testing.T) {
	sb := setupSandbox(t)
	sb.Register("lookup_only", []OpType{OpLookup}, func(ctx context.Context, ops *Ops) error {
		return ops.Do(ctx, OpStateWrite, "sneaky", nil)
	})

	_, err := sb.Execute(context.Background(), "lookup_only", `{}`, "v2", ModeDryRun)
	var violation *ViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("allowlist must apply in dry-run, got %v", err)
	}
}

func TestExecuteActionErrorRecorded(t *testing.T) {
	sb := setupSandbox(t)
	sb.Register("flaky", []OpType{OpNotify}, func(ctx context.Context, ops *Ops) error {
		return errors.New("upstream down")
	})

	rec, err := sb.Execute(context.Background(), "flaky", `{}`, "e1", ModeLive)
	if err != nil {
		t.Fatalf("plain action errors are recorded, not returned: %v", err)
	}
	if rec.Status != StatusError {
		t.Fatalf("expected error status, got %s", rec.Status)
	}
	if !strings.Contains(rec.Result, "upstream down") {
		t.Fatalf("error text missing from record: %s", rec.Result)
	}
}

func TestExecuteUnknownAction(t *testing.T) {
	sb := setupSandbox(t)
	if _, err := sb.Execute(context.Background(), "nope", `{}`, "u1", ModeLive); err == nil {
		t.Fatal("expected error for unregistered action")
	}
}

func TestExecuteEmptyKeyRejected(t *testing.T) {
	sb := setupSandbox(t)
	if _, err := sb.Execute(context.Background(), "any", `{}`, "", ModeLive); err == nil {
		t.Fatal("expected error for empty idempotency key")
	}
}

func TestSweepRecords(t *testing.T) {
	sb := setupSandbox(t)
	sb.Register("notify_user", []OpType{OpNotify}, func(ctx context.Context, ops *Ops) error {
		return ops.Do(ctx, OpNotify, "ping", nil)
	})
	if _, err := sb.Execute(context.Background(), "notify_user", `{}`, "old", ModeLive); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	n, err := sb.SweepRecords(context.Background(), 0)
	if err != nil {
		t.Fatalf("SweepRecords: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 record swept, got %d", n)
	}
	if _, err := sb.Lookup(context.Background(), "old"); err == nil {
		t.Fatal("expected record gone after sweep")
	}
}
