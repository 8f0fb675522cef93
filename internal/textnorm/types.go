package textnorm

import "fmt"

// #region form

// Form selects the Unicode normalization form applied before matching.
type Form string

const (
	FormNFC  Form = "nfc"
	FormNFKC Form = "nfkc"
)

// #endregion form

// #region fold-mode

// FoldMode declares the script set case folding is allowed to touch.
// Folding outside the declared set is an evasion-hardening bug, not a feature:
// Turkish dotless-i and similar pairs fold differently per language.
type FoldMode string

const (
	FoldASCII      FoldMode = "ascii"
	FoldVietnamese FoldMode = "vietnamese"
	FoldTurkish    FoldMode = "turkish"
	FoldOff        FoldMode = "off"
)

// #endregion fold-mode

// #region config

// Config holds the normalization pipeline settings.
type Config struct {
	Form Form
	Fold FoldMode

	// Homoglyphs maps confusable runes onto their canonical Latin forms.
	// Nil selects the built-in Cyrillic/Greek table; an empty non-nil map
	// disables homoglyph folding.
	Homoglyphs map[rune]rune
}

// DefaultConfig returns the pipeline used by the matcher in production.
func DefaultConfig() Config {
	return Config{
		Form: FormNFKC,
		Fold: FoldASCII,
	}
}

// #endregion config

// #region decode-error

// DecodeError reports malformed input encoding. Inputs failing to decode are
// rejected before any matching happens.
type DecodeError struct {
	Offset int // byte offset of the first invalid sequence
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed UTF-8 input at byte %d", e.Offset)
}

// #endregion decode-error
