package match

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// #region automaton

// Automaton is a compiled Aho-Corasick automaton over the pattern set.
// Immutable after Compile; share one instance across all workers.
type Automaton struct {
	nodes    []node
	patterns []Pattern
}

type node struct {
	next    map[rune]int32
	fail    int32
	outputs []int32 // indexes into patterns, emitted when the node is reached
	depth   int32   // rune depth, used to recover match start offsets
}

// Compile builds the automaton. Scan cost is O(len(text) + total hits),
// independent of pattern count. Empty patterns and sets over limits are
// build-time errors.
func Compile(patterns []Pattern, limits Limits) (*Automaton, error) {
	if limits.MaxPatterns > 0 && len(patterns) > limits.MaxPatterns {
		return nil, fmt.Errorf("pattern set size %d exceeds cap %d", len(patterns), limits.MaxPatterns)
	}
	var totalLen int
	for _, p := range patterns {
		if p.Text == "" {
			return nil, fmt.Errorf("pattern %q has empty text", p.ID)
		}
		totalLen += len(p.Text)
	}
	if limits.MaxTotalPatternLen > 0 && totalLen > limits.MaxTotalPatternLen {
		return nil, fmt.Errorf("pattern set total length %d exceeds cap %d", totalLen, limits.MaxTotalPatternLen)
	}

	a := &Automaton{
		nodes:    []node{{next: make(map[rune]int32)}},
		patterns: patterns,
	}

	// Trie insertion.
	for pi, p := range patterns {
		cur := int32(0)
		depth := int32(0)
		for _, r := range p.Text {
			depth++
			nxt, ok := a.nodes[cur].next[r]
			if !ok {
				a.nodes = append(a.nodes, node{next: make(map[rune]int32), depth: depth})
				nxt = int32(len(a.nodes) - 1)
				a.nodes[cur].next[r] = nxt
			}
			cur = nxt
		}
		a.nodes[cur].outputs = append(a.nodes[cur].outputs, int32(pi))
	}

	// Failure links via BFS, merging output lists along fail chains so the
	// scan never has to walk the chain per position.
	queue := make([]int32, 0, len(a.nodes))
	for _, child := range a.nodes[0].next {
		a.nodes[child].fail = 0
		queue = append(queue, child)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for r, child := range a.nodes[cur].next {
			queue = append(queue, child)

			f := a.nodes[cur].fail
			for {
				if n, ok := a.nodes[f].next[r]; ok && n != child {
					a.nodes[child].fail = n
					break
				}
				if f == 0 {
					a.nodes[child].fail = 0
					break
				}
				f = a.nodes[f].fail
			}
			target := a.nodes[child].fail
			a.nodes[child].outputs = append(a.nodes[child].outputs, a.nodes[target].outputs...)
		}
	}

	return a, nil
}

// #endregion automaton

// #region find

// Find scans normalized text and returns every hit ordered by start offset.
// Offsets are byte positions; the scan advances rune-by-rune so multi-byte
// codepoints are never split.
func (a *Automaton) Find(text string) []Match {
	var out []Match

	// runeStarts[i] is the byte offset of the i-th rune; needed to translate
	// the automaton's rune depth back into a byte start offset.
	runeStarts := make([]int, 0, len(text))

	state := int32(0)
	runeIdx := -1
	for byteOff, r := range text {
		runeIdx++
		runeStarts = append(runeStarts, byteOff)

		for {
			if nxt, ok := a.nodes[state].next[r]; ok {
				state = nxt
				break
			}
			if state == 0 {
				break
			}
			state = a.nodes[state].fail
		}

		end := byteOff + runeLen(r)
		for _, pi := range a.nodes[state].outputs {
			p := a.patterns[pi]
			patRunes := runeCount(p.Text)
			startRune := runeIdx - patRunes + 1
			out = append(out, Match{
				PatternID: p.ID,
				Category:  p.Category,
				Start:     runeStarts[startRune],
				End:       end,
				Weight:    p.Weight,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out
}

// #endregion find

// #region handle

// Handle is the shared read point for the current automaton. Rebuilds swap
// the whole structure atomically; readers never observe a partial build.
type Handle struct {
	cur atomic.Pointer[Automaton]
}

// NewHandle wraps a compiled automaton.
func NewHandle(a *Automaton) *Handle {
	h := &Handle{}
	h.cur.Store(a)
	return h
}

// Swap replaces the active automaton.
func (h *Handle) Swap(a *Automaton) {
	h.cur.Store(a)
}

// Find scans with the automaton active at call time.
func (h *Handle) Find(text string) []Match {
	return h.cur.Load().Find(text)
}

// #endregion handle

// #region helpers

func runeLen(r rune) int {
	switch {
	case r < 0x80:
		return 1
	case r < 0x800:
		return 2
	case r < 0x10000:
		return 3
	default:
		return 4
	}
}

func runeCount(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

// #endregion helpers
