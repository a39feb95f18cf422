// Package textmatch finds the stored question closest to a query that had no
// exact match.
package textmatch

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DefaultThreshold is the minimum similarity a candidate needs to be suggested.
const DefaultThreshold = 0.6

// Option mutates matcher configuration.
type Option func(*Matcher)

// WithThreshold sets the minimum similarity in (0, 1].
func WithThreshold(threshold float64) Option {
	return func(matcher *Matcher) {
		if threshold > 0 && threshold <= 1 {
			matcher.threshold = threshold
		}
	}
}

// Matcher scores candidates with the larger of normalized Levenshtein
// similarity and word-token Dice overlap. Both scores ignore function words
// such as "what" or "is", so shared filler never carries a suggestion.
type Matcher struct {
	threshold float64
}

// New creates a matcher with DefaultThreshold unless overridden.
func New(options ...Option) *Matcher {
	matcher := &Matcher{threshold: DefaultThreshold}
	for _, option := range options {
		option(matcher)
	}

	return matcher
}

// Threshold returns the configured minimum similarity.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Closest returns the best scoring candidate at or above the threshold.
// Equal top scores resolve to the earliest candidate.
func (m *Matcher) Closest(query string, candidates []string) (string, bool) {
	normalizedQuery := normalize(query)
	if normalizedQuery == "" || len(candidates) == 0 {
		return "", false
	}
	queryTokens := contentTokens(normalizedQuery)
	queryContent := strings.Join(queryTokens, " ")

	bestIndex := -1
	bestScore := 0.0
	for index, candidate := range candidates {
		normalizedCandidate := normalize(candidate)
		if normalizedCandidate == "" {
			continue
		}
		candidateTokens := contentTokens(normalizedCandidate)
		score := Similarity(queryContent, strings.Join(candidateTokens, " "))
		if overlap := dice(queryTokens, candidateTokens); overlap > score {
			score = overlap
		}
		if score > bestScore {
			bestScore = score
			bestIndex = index
		}
	}

	if bestIndex < 0 || bestScore < m.threshold {
		return "", false
	}

	return candidates[bestIndex], true
}

// Similarity returns 1 - levenshtein(a, b)/max(len(a), len(b)) over runes.
// Inputs are compared as given; callers normalize first.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}

	distance := levenshtein.ComputeDistance(a, b)

	return 1 - float64(distance)/float64(longest)
}

// normalize lower-cases, collapses whitespace, and drops the trailing question mark.
func normalize(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	joined := strings.Join(fields, " ")

	return strings.TrimSpace(strings.TrimRight(joined, "?"))
}

// tokenize splits text into letter/digit runs.
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "can": {}, "do": {}, "does": {},
	"for": {}, "how": {}, "i": {}, "in": {}, "is": {}, "it": {}, "me": {},
	"my": {}, "of": {}, "on": {}, "or": {}, "the": {}, "to": {}, "we": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {},
	"you": {},
}

// contentTokens drops stopwords. A text made only of stopwords keeps them all.
func contentTokens(text string) []string {
	tokens := tokenize(text)
	content := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, skip := stopwords[token]; !skip {
			content = append(content, token)
		}
	}
	if len(content) == 0 {
		return tokens
	}

	return content
}

// dice is the Sørensen-Dice coefficient over distinct tokens.
func dice(left, right []string) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	leftSet := make(map[string]struct{}, len(left))
	for _, token := range left {
		leftSet[token] = struct{}{}
	}
	rightSet := make(map[string]struct{}, len(right))
	for _, token := range right {
		rightSet[token] = struct{}{}
	}

	shared := 0
	for token := range leftSet {
		if _, ok := rightSet[token]; ok {
			shared++
		}
	}

	return 2 * float64(shared) / float64(len(leftSet)+len(rightSet))
}
