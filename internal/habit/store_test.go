package habit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupStore(t *testing.T, cfg Config) (*Store, *time.Time) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, cfg)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	now := time.Unix(1_700_000_000, 0).UTC()
	store.now = func() time.Time { return now }
	return store, &now
}

func optInActors(t *testing.T, store *Store, actors ...string) {
	t.Helper()
	for _, a := range actors {
		if err := store.SetOptIn(context.Background(), a, true); err != nil {
			t.Fatalf("SetOptIn(%s): %v", a, err)
		}
	}
}

func TestQuorumPromotion(t *testing.T) {
	store, _ := setupStore(t, Config{Quorum: 3})
	ctx := context.Background()
	optInActors(t, store, "alice", "bob", "carol")

	cue := HashCue("weather_in_x")

	// Two distinct actors: below quorum, score returns nothing.
	for _, actor := range []string{"alice", "bob"} {
		if err := store.Observe(ctx, cue, "weather_lookup", actor); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}
	hs, err := store.Score(ctx, cue)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if hs != nil {
		t.Fatalf("expected nil score below quorum, got %+v", hs)
	}

	// Third distinct actor reaches quorum.
	if err := store.Observe(ctx, cue, "weather_lookup", "carol"); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	hs, err = store.Score(ctx, cue)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if hs == nil {
		t.Fatal("expected non-nil score at quorum")
	}
	if hs.Action != "weather_lookup" {
		t.Fatalf("expected weather_lookup, got %s", hs.Action)
	}
	if hs.Value <= 0 {
		t.Fatalf("expected positive strength, got %f", hs.Value)
	}
}

func TestSingleActorNeverReachesQuorum(t *testing.T) {
	store, _ := setupStore(t, Config{Quorum: 3})
	ctx := context.Background()
	optInActors(t, store, "alice")

	cue := HashCue("weather_in_x")
	for i := 0; i < 50; i++ {
		if err := store.Observe(ctx, cue, "weather_lookup", "alice"); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}

	hs, err := store.Score(ctx, cue)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if hs != nil {
		t.Fatalf("single actor must never promote a habit, got %+v", hs)
	}
}

func TestOptOutWritesSilentlyDropped(t *testing.T) {
	store, _ := setupStore(t, Config{Quorum: 1})
	ctx := context.Background()

	cue := HashCue("weather_in_x")
	// Default posture is opt-out; no opt-in row exists for mallory.
	if err := store.Observe(ctx, cue, "weather_lookup", "mallory"); err != nil {
		t.Fatalf("opted-out observe must not error: %v", err)
	}

	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM habit_actors`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("opted-out actor must not alter actor counts, found %d rows", count)
	}
}

func TestDecayMonotonic(t *testing.T) {
	store, now := setupStore(t, Config{Quorum: 1, HalfLife: 24 * time.Hour, MinStrength: 0.01})
	ctx := context.Background()
	optInActors(t, store, "alice")

	cue := HashCue("greeting")
	if err := store.Observe(ctx, cue, "canned_reply", "alice"); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	prev := 2.0
	for day := 0; day < 5; day++ {
		*now = now.Add(24 * time.Hour)
		hs, err := store.Score(ctx, cue)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if hs == nil {
			// Converged below the cutoff; monotonicity held to the floor.
			return
		}
		if hs.Value >= prev {
			t.Fatalf("day %d: strength %f did not decrease from %f", day, hs.Value, prev)
		}
		prev = hs.Value
	}
}

func TestDecayHalfLife(t *testing.T) {
	got := Decay(0.8, 24*time.Hour, 24*time.Hour)
	if got < 0.399 || got > 0.401 {
		t.Fatalf("expected one half-life to halve strength, got %f", got)
	}
	if Decay(0.8, 0, 24*time.Hour) != 0.8 {
		t.Fatal("zero elapsed must not decay")
	}
}

func TestQuorumWindowExpires(t *testing.T) {
	store, now := setupStore(t, Config{Quorum: 3, Window: time.Hour})
	ctx := context.Background()
	optInActors(t, store, "alice", "bob", "carol")

	cue := HashCue("weather_in_x")
	if err := store.Observe(ctx, cue, "weather_lookup", "alice"); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if err := store.Observe(ctx, cue, "weather_lookup", "bob"); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	// alice and bob fall out of the window before carol arrives.
	*now = now.Add(2 * time.Hour)
	if err := store.Observe(ctx, cue, "weather_lookup", "carol"); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	hs, err := store.Score(ctx, cue)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if hs != nil {
		t.Fatalf("stale reinforcements must not count toward quorum, got %+v", hs)
	}
}

func TestScoreUnknownCueReturnsNil(t *testing.T) {
	store, _ := setupStore(t, Config{})
	hs, err := store.Score(context.Background(), HashCue("never seen"))
	if err != nil {
		t.Fatalf("unknown cue must not error: %v", err)
	}
	if hs != nil {
		t.Fatalf("expected nil for unknown cue, got %+v", hs)
	}
}

func TestExportAndDeleteActor(t *testing.T) {
	store, _ := setupStore(t, Config{Quorum: 2})
	ctx := context.Background()
	optInActors(t, store, "alice", "bob")

	cue := HashCue("greeting")
	for _, actor := range []string{"alice", "bob"} {
		if err := store.Observe(ctx, cue, "canned_reply", actor); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}

	export, err := store.Export(ctx, "alice")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !export.OptedIn {
		t.Fatal("expected opted-in export")
	}
	if len(export.Contributions) != 1 {
		t.Fatalf("expected 1 contribution, got %d", len(export.Contributions))
	}
	if export.Contributions[0].Action != "canned_reply" {
		t.Fatalf("unexpected contribution %+v", export.Contributions[0])
	}

	if err := store.DeleteActor(ctx, "alice"); err != nil {
		t.Fatalf("DeleteActor: %v", err)
	}
	export, err = store.Export(ctx, "alice")
	if err != nil {
		t.Fatalf("Export after delete: %v", err)
	}
	if len(export.Contributions) != 0 {
		t.Fatalf("expected no contributions after delete, got %d", len(export.Contributions))
	}

	// Quorum count for the pair dropped back under threshold.
	var actorCount int
	if err := store.db.QueryRow(
		`SELECT actor_count FROM habits WHERE cue_hash = ? AND action = ?`, cue, "canned_reply",
	).Scan(&actorCount); err != nil {
		t.Fatalf("read habit: %v", err)
	}
	if actorCount != 1 {
		t.Fatalf("expected actor count 1 after delete, got %d", actorCount)
	}
}

func TestOptOutDeletesContributions(t *testing.T) {
	store, _ := setupStore(t, Config{Quorum: 2})
	ctx := context.Background()
	optInActors(t, store, "alice")

	cue := HashCue("greeting")
	if err := store.Observe(ctx, cue, "canned_reply", "alice"); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if err := store.SetOptIn(ctx, "alice", false); err != nil {
		t.Fatalf("SetOptIn: %v", err)
	}

	export, err := store.Export(ctx, "alice")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if export.OptedIn {
		t.Fatal("expected opted-out")
	}
	if len(export.Contributions) != 0 {
		t.Fatalf("opt-out must delete contributions, got %d", len(export.Contributions))
	}
}

func TestSweepHardDeletesPastRetention(t *testing.T) {
	store, now := setupStore(t, Config{Quorum: 1, RetentionTTL: 24 * time.Hour, HalfLife: 1000 * time.Hour})
	ctx := context.Background()
	optInActors(t, store, "alice")

	cue := HashCue("greeting")
	if err := store.Observe(ctx, cue, "canned_reply", "alice"); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	*now = now.Add(48 * time.Hour)
	deleted, err := store.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 habit deleted, got %d", deleted)
	}

	hs, err := store.Score(ctx, cue)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if hs != nil {
		t.Fatalf("expected habit gone after sweep, got %+v", hs)
	}
}
