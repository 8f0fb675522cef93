package logging

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

func setupLog(t *testing.T) *DecisionLog {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	log, err := NewDecisionLog(db, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDecisionLog: %v", err)
	}
	return log
}

func TestLogAndRecent(t *testing.T) {
	log := setupLog(t)

	entries := []DecisionEntry{
		{TraceID: "t1", InputFingerprint: "f1", Decision: "fallback", Confidence: 0.4, PolicyLevel: "balanced", Shadow: true, LatencyMs: 12},
		{TraceID: "t2", TenantID: "acme", InputFingerprint: "f2", Decision: "allow_reflex", Confidence: 0.9, PolicyLevel: "balanced", Mode: "command", ScoresJSON: `{"combined":0.9}`, LatencyMs: 3},
	}
	for _, e := range entries {
		if err := log.Log(e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	got, err := log.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	// Newest first.
	if got[0].TraceID != "t2" || got[1].TraceID != "t1" {
		t.Fatalf("unexpected order: %s, %s", got[0].TraceID, got[1].TraceID)
	}
	if got[0].TenantID != "acme" || got[0].ScoresJSON != `{"combined":0.9}` {
		t.Fatalf("round-trip mismatch: %+v", got[0])
	}
	if !got[1].Shadow {
		t.Fatal("shadow flag lost on round-trip")
	}
	if got[0].CreatedAt.IsZero() {
		t.Fatal("created_at must be stamped when absent")
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	log := setupLog(t)
	for i := 0; i < 5; i++ {
		e := DecisionEntry{
			TraceID: string(rune('a' + i)), InputFingerprint: "f", Decision: "fallback",
			PolicyLevel: "balanced", CreatedAt: time.Unix(int64(1_700_000_000+i), 0).UTC(),
		}
		if err := log.Log(e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	got, err := log.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
}

func TestFingerprintHashed(t *testing.T) {
	a := Fingerprint("what time is it", true)
	b := Fingerprint("what time is it", true)
	c := Fingerprint("what time is it?", true)
	if a != b {
		t.Fatal("hash fingerprint must be deterministic")
	}
	if a == c {
		t.Fatal("distinct inputs must not collide trivially")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %d chars", len(a))
	}
	if strings.Contains(a, "time") {
		t.Fatal("hashed fingerprint must not leak raw text")
	}
}

func TestFingerprintExcerptRespectsRuneBoundary(t *testing.T) {
	// 47 ASCII bytes then a 3-byte rune straddling the 48-byte cut.
	text := strings.Repeat("a", 47) + "你好"
	got := Fingerprint(text, false)
	if len(got) != 47 {
		t.Fatalf("cut must back off to a rune boundary, got %d bytes", len(got))
	}
	for _, r := range got {
		if r == '�' {
			t.Fatal("excerpt contains a replacement rune")
		}
	}

	short := Fingerprint("hello", false)
	if short != "hello" {
		t.Fatalf("short input passes through, got %q", short)
	}
}
