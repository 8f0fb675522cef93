package habit

import "time"

// #region config

// Config holds quorum, decay, and retention parameters. All of these are
// deployment tuning knobs surfaced through the environment, not constants.
type Config struct {
	Quorum         int           // distinct actors required before strength grows
	Window         time.Duration // rolling window for distinct-actor counting
	HalfLife       time.Duration // exponential strength decay half-life
	RetentionTTL   time.Duration // hard-delete age regardless of strength
	MinStrength    float64       // decayed strength below this reads as absent
	ReinforceDelta float64       // strength added per quorum reinforcement
	DefaultOptIn   bool          // system-wide posture for actors with no opt-in row
}

// DefaultConfig returns conservative store parameters.
func DefaultConfig() Config {
	return Config{
		Quorum:         3,
		Window:         7 * 24 * time.Hour,
		HalfLife:       14 * 24 * time.Hour,
		RetentionTTL:   90 * 24 * time.Hour,
		MinStrength:    0.05,
		ReinforceDelta: 0.2,
		DefaultOptIn:   false,
	}
}

// #endregion config

// #region habit

// Habit is one stored cue→action association.
type Habit struct {
	CueHash          string
	Action           string
	Strength         float64 // as persisted; decay is applied at read time
	ActorCount       int
	CreatedAt        time.Time
	LastReinforcedAt time.Time
}

// Strength is a scored lookup result: the strongest action for a cue with
// decay already applied.
type Strength struct {
	Action string
	Value  float64
}

// #endregion habit

// #region export

// Contribution is one actor's reinforcement of a (cue, action) pair inside
// the current window.
type Contribution struct {
	CueHash    string    `json:"cue_hash"`
	Action     string    `json:"action"`
	ObservedAt time.Time `json:"observed_at"`
}

// ActorExport is the full data-subject view of one actor's footprint in the
// store.
type ActorExport struct {
	ActorHash     string         `json:"actor_hash"`
	OptedIn       bool           `json:"opted_in"`
	Contributions []Contribution `json:"contributions"`
}

// #endregion export
