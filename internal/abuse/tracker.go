package abuse

import (
	"sync"
	"time"

	"github.com/danielpatrickdp/reflexd/internal/habit"
)

// #region config

// Config bounds the rolling failure window.
type Config struct {
	Window      time.Duration // how far back failures count
	MaxFailures int           // failures at which the score saturates at 1.0
}

// DefaultConfig returns the production tracker settings.
func DefaultConfig() Config {
	return Config{
		Window:      15 * time.Minute,
		MaxFailures: 5,
	}
}

// #endregion config

// #region tracker

// Tracker keeps a per-actor rolling count of safety failures. Shared across
// all in-flight requests; a single mutex guards the map, matching the access
// pattern of a handful of timestamp appends per request.
type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	failures map[string][]time.Time // actor hash → failure times

	now func() time.Time // injectable for tests
}

// NewTracker creates an empty tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig().MaxFailures
	}
	return &Tracker{
		cfg:      cfg,
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// RecordFailure notes a failed safety check for an actor.
func (t *Tracker) RecordFailure(actorID string) {
	actor := habit.HashActor(actorID)
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[actor] = append(t.prune(t.failures[actor], now), now)
}

// Score returns the actor's abuse score in [0, 1]: the windowed failure count
// normalized by the saturation threshold.
func (t *Tracker) Score(actorID string) float64 {
	actor := habit.HashActor(actorID)
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.prune(t.failures[actor], now)
	if len(kept) == 0 {
		delete(t.failures, actor)
		return 0
	}
	t.failures[actor] = kept

	score := float64(len(kept)) / float64(t.cfg.MaxFailures)
	if score > 1 {
		score = 1
	}
	return score
}

// prune drops entries older than the window. Caller holds the lock.
func (t *Tracker) prune(times []time.Time, now time.Time) []time.Time {
	floor := now.Add(-t.cfg.Window)
	kept := times[:0]
	for _, ts := range times {
		if ts.After(floor) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// #endregion tracker
