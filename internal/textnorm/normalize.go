package textnorm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// #region homoglyph-table

// defaultHomoglyphs maps the common Cyrillic and Greek look-alikes of Latin
// letters onto their Latin targets. Lowercase targets only; case folding runs
// before homoglyph folding.
var defaultHomoglyphs = map[rune]rune{
	// Cyrillic
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x',
	'у': 'y', 'і': 'i', 'ѕ': 's', 'ј': 'j', 'һ': 'h', 'ԁ': 'd',
	'ԛ': 'q', 'ѡ': 'w', 'ъ': 'b', 'м': 'm', 'т': 't', 'к': 'k',
	'в': 'b', 'н': 'h',
	// Greek
	'ο': 'o', 'α': 'a', 'ν': 'v', 'ι': 'i', 'ρ': 'p', 'υ': 'u',
	'κ': 'k', 'τ': 't', 'χ': 'x',
}

// #endregion homoglyph-table

// #region normalizer

// Normalizer applies NFC/NFKC composition, script-aware case folding, and
// homoglyph folding, in that order. Safe for concurrent use after construction.
type Normalizer struct {
	form       norm.Form
	caser      *cases.Caser
	foldOff    bool
	homoglyphs map[rune]rune
}

// New builds a Normalizer from config. Rejects unknown forms and fold modes at
// construction so per-request calls never have to validate configuration.
func New(cfg Config) (*Normalizer, error) {
	n := &Normalizer{}

	switch cfg.Form {
	case FormNFC:
		n.form = norm.NFC
	case FormNFKC, "":
		n.form = norm.NFKC
	default:
		return nil, fmt.Errorf("unknown normalization form %q", cfg.Form)
	}

	switch cfg.Fold {
	case FoldASCII, "":
		// ASCII folding handled inline; no caser needed.
	case FoldVietnamese:
		c := cases.Lower(language.Vietnamese)
		n.caser = &c
	case FoldTurkish:
		c := cases.Lower(language.Turkish)
		n.caser = &c
	case FoldOff:
		n.foldOff = true
	default:
		return nil, fmt.Errorf("unknown fold mode %q", cfg.Fold)
	}

	n.homoglyphs = cfg.Homoglyphs
	if n.homoglyphs == nil {
		n.homoglyphs = defaultHomoglyphs
	}

	return n, nil
}

// #endregion normalizer

// #region normalize

// Normalize runs the full pipeline. Malformed UTF-8 is rejected with a
// DecodeError before any transformation; the pipeline itself operates on whole
// runes and never splits a codepoint or combining sequence.
func (n *Normalizer) Normalize(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", &DecodeError{Offset: invalidOffset(text)}
	}

	out := n.form.String(text)

	switch {
	case n.foldOff:
	case n.caser != nil:
		out = n.caser.String(out)
	default:
		out = asciiLower(out)
	}

	if len(n.homoglyphs) > 0 {
		out = strings.Map(func(r rune) rune {
			if sub, ok := n.homoglyphs[r]; ok {
				return sub
			}
			return r
		}, out)
	}

	return out, nil
}

// #endregion normalize

// #region helpers

// asciiLower lowercases ASCII letters only, leaving every other script intact.
func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}

// invalidOffset locates the first invalid byte sequence for error reporting.
func invalidOffset(s string) int {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return 0
}

// #endregion helpers
