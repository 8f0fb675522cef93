package match

import (
	"strings"
	"testing"
)

func compile(t *testing.T, patterns []Pattern) *Automaton {
	t.Helper()
	a, err := Compile(patterns, DefaultLimits())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return a
}

func TestFindSingleHit(t *testing.T) {
	a := compile(t, []Pattern{
		{ID: "p1", Category: "greeting", Text: "hello", Weight: 0.5},
	})

	got := a.Find("well hello there")
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	m := got[0]
	if m.PatternID != "p1" || m.Start != 5 || m.End != 10 {
		t.Fatalf("unexpected match %+v", m)
	}
}

func TestFindOverlappingPatterns(t *testing.T) {
	// Classic overlap set: suffix patterns must surface via fail links.
	a := compile(t, []Pattern{
		{ID: "he", Category: "a", Text: "he", Weight: 0.1},
		{ID: "she", Category: "a", Text: "she", Weight: 0.2},
		{ID: "his", Category: "a", Text: "his", Weight: 0.3},
		{ID: "hers", Category: "a", Text: "hers", Weight: 0.4},
	})

	got := a.Find("ushers")
	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.PatternID
	}
	want := []string{"she", "he", "hers"}
	if len(got) != len(want) {
		t.Fatalf("expected matches %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected matches %v, got %v", want, ids)
		}
	}
}

func TestFindOrderedByStartOffset(t *testing.T) {
	a := compile(t, []Pattern{
		{ID: "ab", Category: "x", Text: "ab", Weight: 0.1},
		{ID: "bc", Category: "x", Text: "bc", Weight: 0.1},
	})

	got := a.Find("abcabc")
	if len(got) != 4 {
		t.Fatalf("expected 4 matches, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Start < got[i-1].Start {
			t.Fatalf("matches out of order: %+v", got)
		}
	}
}

func TestFindMultiByteOffsets(t *testing.T) {
	a := compile(t, []Pattern{
		{ID: "p1", Category: "x", Text: "héllo", Weight: 0.5},
	})

	text := "ça héllo"
	got := a.Find(text)
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	m := got[0]
	if text[m.Start:m.End] != "héllo" {
		t.Fatalf("byte offsets wrong: [%d,%d) = %q", m.Start, m.End, text[m.Start:m.End])
	}
}

func TestFindNoMatches(t *testing.T) {
	a := compile(t, []Pattern{{ID: "p1", Category: "x", Text: "xyz", Weight: 0.5}})
	if got := a.Find("nothing here"); len(got) != 0 {
		t.Fatalf("expected no matches, got %v", got)
	}
}

func TestCompileRejectsOversizedSet(t *testing.T) {
	patterns := []Pattern{
		{ID: "a", Category: "x", Text: "aa", Weight: 0.1},
		{ID: "b", Category: "x", Text: "bb", Weight: 0.1},
	}
	if _, err := Compile(patterns, Limits{MaxPatterns: 1}); err == nil {
		t.Fatal("expected error for pattern count over cap")
	}
	if _, err := Compile(patterns, Limits{MaxTotalPatternLen: 3}); err == nil {
		t.Fatal("expected error for total length over cap")
	}
}

func TestCompileRejectsEmptyPattern(t *testing.T) {
	if _, err := Compile([]Pattern{{ID: "e", Text: ""}}, DefaultLimits()); err == nil {
		t.Fatal("expected error for empty pattern text")
	}
}

func TestHandleSwap(t *testing.T) {
	first := compile(t, []Pattern{{ID: "old", Category: "x", Text: "old", Weight: 0.1}})
	second := compile(t, []Pattern{{ID: "new", Category: "x", Text: "new", Weight: 0.1}})

	h := NewHandle(first)
	if got := h.Find("old and new"); len(got) != 1 || got[0].PatternID != "old" {
		t.Fatalf("expected old pattern before swap, got %v", got)
	}

	h.Swap(second)
	if got := h.Find("old and new"); len(got) != 1 || got[0].PatternID != "new" {
		t.Fatalf("expected new pattern after swap, got %v", got)
	}
}

func TestFindScalesLinearly(t *testing.T) {
	// Sanity check that a large text with many hits completes and counts
	// occurrences correctly.
	a := compile(t, []Pattern{{ID: "p", Category: "x", Text: "ab", Weight: 0.1}})
	text := strings.Repeat("ab", 5000)
	got := a.Find(text)
	if len(got) != 5000 {
		t.Fatalf("expected 5000 hits, got %d", len(got))
	}
}
