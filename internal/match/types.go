package match

// #region pattern

// Pattern is one entry in the compiled pattern set.
type Pattern struct {
	ID       string
	Category string
	Text     string  // matched against normalized text; normalize before building
	Weight   float32 // static contribution to the pattern score, [0, 1]
}

// #endregion pattern

// #region match

// Match is a single automaton hit. Offsets are byte positions into the
// normalized text that was scanned.
type Match struct {
	PatternID string  `json:"pattern_id"`
	Category  string  `json:"category"`
	Start     int     `json:"start"`
	End       int     `json:"end"`
	Weight    float32 `json:"weight"`
}

// #endregion match

// #region limits

// Limits bounds the pattern set at build time. A set exceeding either cap
// fails fast in Compile rather than degrading per-query behavior.
type Limits struct {
	MaxPatterns        int
	MaxTotalPatternLen int // sum of pattern byte lengths
}

// DefaultLimits returns the production pattern-set caps.
func DefaultLimits() Limits {
	return Limits{
		MaxPatterns:        10000,
		MaxTotalPatternLen: 1 << 20,
	}
}

// #endregion limits
