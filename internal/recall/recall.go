// Package recall holds the scoring and ordering rules shared by both memory
// tiers and the manager: content relevance, context matching, organization
// relevance, recency and the weighted priority score.
package recall

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/pkg/clock"
	"github.com/Modzer0/Brain-sub000/pkg/tokenizer"
)

// recencyHorizon is the age at which the recency score reaches zero.
const recencyHorizon = 365 * 24 * time.Hour

// Content relevance contributions per query term.
const (
	contentHit      = 1.0
	wordBoundaryHit = 0.5
	tagHit          = 0.3
	contextHit      = 0.2
)

// ContentRelevance scores item against folded query terms: per term +1.0 if it
// occurs in content, +0.5 more at a word boundary, +0.3 if any tag contains it
// and +0.2 if any stringified context value contains it. The sum is averaged
// over the number of terms.
func ContentRelevance(item models.MemoryItem, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	content := tokenizer.Fold(item.Content)
	var total float64
	for _, term := range terms {
		if term == "" {
			continue
		}
		if tokenizer.ContainsFold(content, term) {
			total += contentHit
			if tokenizer.AtWordBoundary(content, term) {
				total += wordBoundaryHit
			}
		}
		if anyTagContains(item.Tags, term) {
			total += tagHit
		}
		if anyContextContains(item.Context, term) {
			total += contextHit
		}
	}
	return total / float64(len(terms))
}

// TermScore is the lighter score the short-term tier uses for plain text
// search: 1.0 per term found in content plus 0.5 when a tag also matches.
// matched is true when any term hit content, tags or context values.
func TermScore(item models.MemoryItem, terms []string) (score float64, matched bool) {
	content := tokenizer.Fold(item.Content)
	for _, term := range terms {
		if term == "" {
			continue
		}
		inContent := tokenizer.ContainsFold(content, term)
		inTags := anyTagContains(item.Tags, term)
		if inContent {
			score += contentHit
			matched = true
			if inTags {
				score += wordBoundaryHit
			}
		} else if inTags {
			score += wordBoundaryHit
			matched = true
		}
		if anyContextContains(item.Context, term) {
			matched = true
		}
	}
	return score, matched
}

func anyTagContains(tags []string, term string) bool {
	for _, t := range tags {
		if tokenizer.ContainsFold(t, term) {
			return true
		}
	}
	return false
}

func anyContextContains(ctx map[string]models.ContextValue, term string) bool {
	for _, v := range ctx {
		if tokenizer.ContainsFold(v.String(), term) {
			return true
		}
	}
	return false
}

// ContextValueMatches reports whether have satisfies the criterion want: equal
// values, or for strings a case-insensitive substring match.
func ContextValueMatches(have, want models.ContextValue) bool {
	if have.Equal(want) {
		return true
	}
	hs, okHave := have.Str()
	ws, okWant := want.Str()
	if okHave && okWant {
		return tokenizer.ContainsFold(hs, tokenizer.Fold(ws))
	}
	return false
}

// ContextMatchFraction returns the fraction of criteria item satisfies.
func ContextMatchFraction(item models.MemoryItem, criteria map[string]models.ContextValue) float64 {
	if len(criteria) == 0 {
		return 0
	}
	matched := 0
	for k, want := range criteria {
		have, ok := item.Context[k]
		if ok && ContextValueMatches(have, want) {
			matched++
		}
	}
	return float64(matched) / float64(len(criteria))
}

// MatchesAllContext reports whether every criterion is satisfied.
func MatchesAllContext(item models.MemoryItem, criteria map[string]models.ContextValue) bool {
	return len(criteria) > 0 && ContextMatchFraction(item, criteria) == 1
}

// RelevanceScore is the structural relevance used for organization:
// associations, tags, context richness and content length, capped at 1.
func RelevanceScore(item models.MemoryItem) float64 {
	score := math.Min(0.3, 0.1*float64(len(item.Associations))) +
		math.Min(0.3, 0.1*float64(len(item.Tags))) +
		math.Min(0.2, 0.05*float64(len(item.Context))) +
		math.Min(0.2, float64(len(item.Content))/1000)
	return math.Min(1, score)
}

// RecencyScore decays linearly from 1 to 0 over a year.
func RecencyScore(ts, now time.Time) float64 {
	age := now.Sub(ts)
	if age < 0 {
		age = 0
	}
	return math.Max(0, 1-float64(age)/float64(recencyHorizon))
}

// ByImportance orders by importance then timestamp, both descending.
func ByImportance(a, b models.MemoryItem) int {
	if c := cmp.Compare(b.ImportanceScore, a.ImportanceScore); c != 0 {
		return c
	}
	return b.Timestamp.Compare(a.Timestamp)
}

// ByRecency orders newest first, then by importance.
func ByRecency(a, b models.MemoryItem) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(b.ImportanceScore, a.ImportanceScore)
}

// SortByImportance sorts items in place by ByImportance.
func SortByImportance(items []models.MemoryItem) {
	slices.SortStableFunc(items, ByImportance)
}

// SortScored orders by score descending with importance and recency as tie-breakers.
func SortScored(scored []models.ScoredMemory) {
	slices.SortStableFunc(scored, func(a, b models.ScoredMemory) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return ByImportance(a.Memory, b.Memory)
	})
}

// Ranker computes the weighted priority score.
type Ranker struct {
	weights models.OrganizationConfig
	clock   clock.Clock
}

// NewRanker creates a ranker with the given weights.
func NewRanker(weights models.OrganizationConfig, clk clock.Clock) *Ranker {
	return &Ranker{weights: weights, clock: clk}
}

// Weights returns the configured weights.
func (r *Ranker) Weights() models.OrganizationConfig {
	return r.weights
}

// PriorityScore combines recency, importance and relevance by the configured weights.
func (r *Ranker) PriorityScore(item models.MemoryItem) float64 {
	return r.weights.RecencyWeight*RecencyScore(item.Timestamp, r.clock.Now()) +
		r.weights.ImportanceWeight*item.ImportanceScore +
		r.weights.RelevanceWeight*RelevanceScore(item)
}

// Rank scores every item by priority and returns them best first.
func (r *Ranker) Rank(items []models.MemoryItem) []models.ScoredMemory {
	ranked := make([]models.ScoredMemory, 0, len(items))
	for _, it := range items {
		ranked = append(ranked, models.ScoredMemory{Memory: it, Score: r.PriorityScore(it)})
	}
	SortScored(ranked)
	return ranked
}
