// Package normalize prepares raw message text for embedding calls. It is the
// single pre-processing step shared by the indexing and query paths, so both
// sides of the pipeline see identical text for identical input.
package normalize

import (
	"errors"
	"strings"
	"unicode"

	"github.com/relaychat/semsearch/internal/fault"
)

// DefaultMaxChars bounds the text sent to the embedding service. Longer
// messages are truncated, not rejected; truncation is recorded so it can be
// surfaced in index metadata.
const DefaultMaxChars = 8000

// ErrEmptyInput is returned when the text is empty after trimming.
var ErrEmptyInput = errors.New("text is empty after trimming")

// Result is normalized text plus whether the character budget cut it short.
type Result struct {
	Text      string
	Truncated bool
}

// Normalizer applies trim, control-character stripping, and truncation.
// Pure; no I/O.
type Normalizer struct {
	maxChars int
}

// New creates a Normalizer with the given character budget.
// A budget <= 0 falls back to DefaultMaxChars.
func New(maxChars int) *Normalizer {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Normalizer{maxChars: maxChars}
}

// Normalize trims whitespace, drops control characters (newline and tab
// survive, carriage returns do not), and truncates to the rune budget.
func (n *Normalizer) Normalize(raw string) (Result, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Result{}, fault.Invalid(ErrEmptyInput)
	}

	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	// Stripping may have exposed new edge whitespace or emptied the string.
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, fault.Invalid(ErrEmptyInput)
	}

	runes := []rune(text)
	if len(runes) <= n.maxChars {
		return Result{Text: text, Truncated: false}, nil
	}
	return Result{Text: string(runes[:n.maxChars]), Truncated: true}, nil
}
