// Package metadata derives lightweight structured signals from message text.
// Keywords and mentioned participants are stored alongside the vector for
// filtering and debugging; they never influence ranking.
package metadata

import (
	"strings"
	"unicode"
)

// DefaultKeywordCap bounds how many unique keywords are kept per message.
const DefaultKeywordCap = 20

// Participant is a conversation member the extractor can match mentions
// against. Aliases cover display names, handles, and nicknames.
type Participant struct {
	ID      string
	Name    string
	Aliases []string
}

// Extracted holds the signals derived from one message.
type Extracted struct {
	Keywords []string
	Mentions []string // participant IDs
}

// Extractor tokenizes text and derives keywords and mentions.
// Deterministic; no external calls.
type Extractor struct {
	keywordCap int
}

// NewExtractor creates an Extractor keeping at most keywordCap keywords.
// A cap <= 0 falls back to DefaultKeywordCap.
func NewExtractor(keywordCap int) *Extractor {
	if keywordCap <= 0 {
		keywordCap = DefaultKeywordCap
	}
	return &Extractor{keywordCap: keywordCap}
}

// Extract lower-cases and tokenizes text, drops stop words, and keeps unique
// tokens in first-seen order up to the cap. Participants are mentioned when
// their name or an alias appears as a token (single words) or as a substring
// of the lowered text (multi-word names).
func (e *Extractor) Extract(text string, participants []Participant) Extracted {
	lowered := strings.ToLower(text)
	tokens := tokenize(lowered)

	seen := make(map[string]bool, len(tokens))
	var keywords []string
	for _, tok := range tokens {
		if len(keywords) >= e.keywordCap {
			break
		}
		if len(tok) < 2 || stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		keywords = append(keywords, tok)
	}

	tokenSet := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		tokenSet[tok] = true
	}

	var mentions []string
	for _, p := range participants {
		if p.ID == "" {
			continue
		}
		names := make([]string, 0, len(p.Aliases)+1)
		if p.Name != "" {
			names = append(names, p.Name)
		}
		names = append(names, p.Aliases...)
		for _, name := range names {
			if matches(strings.ToLower(name), tokenSet, lowered) {
				mentions = append(mentions, p.ID)
				break
			}
		}
	}

	return Extracted{Keywords: keywords, Mentions: mentions}
}

func matches(name string, tokens map[string]bool, lowered string) bool {
	if name == "" {
		return false
	}
	if strings.ContainsAny(name, " \t") {
		return strings.Contains(lowered, name)
	}
	return tokens[name]
}

// tokenize splits on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// stopWords is a fixed set of high-frequency English words excluded from
// keywords. Deliberately small: recall matters more than precision here
// since keywords only feed filters and debug views.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "did": true, "do": true,
	"for": true, "from": true, "had": true, "has": true, "have": true,
	"he": true, "her": true, "his": true, "how": true, "i": true, "if": true,
	"in": true, "is": true, "it": true, "its": true, "just": true, "me": true,
	"my": true, "no": true, "not": true, "of": true, "on": true, "or": true,
	"our": true, "she": true, "so": true, "that": true, "the": true,
	"their": true, "them": true, "then": true, "there": true, "they": true,
	"this": true, "to": true, "up": true, "was": true, "we": true,
	"were": true, "what": true, "when": true, "who": true, "will": true,
	"with": true, "you": true, "your": true,
}
