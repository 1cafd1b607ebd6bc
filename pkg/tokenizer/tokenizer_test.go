package tokenizer_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Modzer0/Brain-sub000/pkg/tokenizer"
)

func TestTerms(t *testing.T) {
	assert.Nil(t, tokenizer.Terms(""))
	assert.Nil(t, tokenizer.Terms("   \t\n"))
	assert.Equal(t, []string{"hello", "world"}, tokenizer.Terms("  Hello\tWORLD "))
}

func TestContainsFold(t *testing.T) {
	assert.True(t, tokenizer.ContainsFold("The Front Camera", "camera"))
	assert.False(t, tokenizer.ContainsFold("microphone", "camera"))
	assert.False(t, tokenizer.ContainsFold("anything", ""))
}

func TestAtWordBoundary(t *testing.T) {
	tests := []struct {
		name string
		s    string
		term string
		want bool
	}{
		{"whole word", "hello world", "world", true},
		{"prefix of word", "worldwide news", "world", false},
		{"suffix of word", "underworld", "world", false},
		{"second occurrence is whole", "worldwide world", "world", true},
		{"punctuation boundary", "(world)", "world", true},
		{"unicode neighbor", "éworld", "world", false},
		{"empty term", "hello", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenizer.AtWordBoundary(tt.s, tt.term))
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		minExpect int
		maxExpect int
	}{
		{"empty", "", 0, 0},
		{"single word", "hello", 1, 3},
		{"short sentence", "Go is a great programming language", 5, 15},
		{"longer text", strings.Repeat("word ", 100), 80, 200},
		{"pangram calibration", "The quick brown fox jumps over the lazy dog", 8, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := tokenizer.EstimateTokens(tt.text)
			assert.GreaterOrEqual(t, tokens, tt.minExpect)
			assert.LessOrEqual(t, tokens, tt.maxExpect)
		})
	}
}

func TestFormatMemoriesWithBudget(t *testing.T) {
	t.Run("zero budget", func(t *testing.T) {
		out, n := tokenizer.FormatMemoriesWithBudget([]string{"a"}, 0)
		assert.Empty(t, out)
		assert.Equal(t, 0, n)
	})

	t.Run("all fit", func(t *testing.T) {
		out, n := tokenizer.FormatMemoriesWithBudget([]string{"first memory", "second memory"}, 100)
		assert.Equal(t, 2, n)
		assert.Equal(t, "first memory\n---\nsecond memory", out)
	})

	t.Run("budget truncates", func(t *testing.T) {
		long := strings.Repeat("token ", 40)
		out, n := tokenizer.FormatMemoriesWithBudget([]string{"short", long}, 10)
		assert.Equal(t, 1, n)
		assert.Equal(t, "short", out)
	})
}
