// Package tokenizer splits search text into terms and formats recalled
// memories into bounded context blocks.
package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// Fold returns the case-folded form of s used for case-insensitive matching.
func Fold(s string) string {
	return folder.String(s)
}

// Terms splits text on whitespace and case-folds each term. Empty input yields nil.
func Terms(text string) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, Fold(f))
	}
	return terms
}

// ContainsFold reports whether term occurs in s, ignoring case. term must already be folded.
func ContainsFold(s, term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(Fold(s), term)
}

// AtWordBoundary reports whether term occurs in s as a whole word: the runes
// immediately before and after the match are not letters or digits.
// Both arguments must already be folded.
func AtWordBoundary(s, term string) bool {
	if term == "" {
		return false
	}
	offset := 0
	for {
		idx := strings.Index(s[offset:], term)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(term)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return true
		}
		offset = start + 1
		if offset >= len(s) {
			return false
		}
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r := lastRune(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r := []rune(s[i:])[0]
	return !isWordRune(r)
}

func lastRune(s string) rune {
	runes := []rune(s)
	return runes[len(runes)-1]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// EstimateTokens provides a rough token count estimate.
// Uses the heuristic of ~4 characters per token for English text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	chars := len(text)

	wordEstimate := int(float64(words) * 1.3)
	charEstimate := chars / 4

	return (wordEstimate + charEstimate) / 2
}

// FormatMemoriesWithBudget formats multiple memory strings within a token budget.
// Returns the formatted string and the number of memories that fit.
func FormatMemoriesWithBudget(memories []string, budget int) (string, int) {
	if budget <= 0 || len(memories) == 0 {
		return "", 0
	}

	var builder strings.Builder
	count := 0
	usedTokens := 0

	for _, mem := range memories {
		memTokens := EstimateTokens(mem) + 2 // separator
		if usedTokens+memTokens > budget {
			break
		}
		if count > 0 {
			builder.WriteString("\n---\n")
		}
		builder.WriteString(mem)
		usedTokens += memTokens
		count++
	}

	return builder.String(), count
}
